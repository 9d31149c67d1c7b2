package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/RichardoC/padchat/internal/models"
)

func collect(t *testing.T, s Stream) (string, []string, error) {
	t.Helper()
	var (
		full   strings.Builder
		chunks []string
	)
	for c, err := range s {
		if err != nil {
			return full.String(), chunks, err
		}
		chunks = append(chunks, c.Text)
		full.WriteString(c.Text)
	}
	return full.String(), chunks, nil
}

func TestNew_Bootstrap(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		opts Options
		want error
	}{
		{name: "gemini without key", opts: Options{Backend: BackendGemini}, want: ErrMissingCredential},
		{name: "default backend without key", opts: Options{}, want: ErrMissingCredential},
		{name: "openai without key", opts: Options{Backend: BackendOpenAI, APIKey: "  "}, want: ErrMissingCredential},
		{name: "unknown backend", opts: Options{Backend: "carrier-pigeon", APIKey: "k"}, want: ErrUnknownBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(ctx, tt.opts)
			assert.Nil(t, s)
			var bootErr *BootstrapError
			require.ErrorAs(t, err, &bootErr)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNew_Mock(t *testing.T) {
	s, err := New(context.Background(), Options{Backend: "MOCK"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, s.Model())

	f := NewFactory(Options{Backend: BackendMock, Model: "echo"})
	s2, err := f(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "echo", s2.Model())
}

func TestMockSession_Streams(t *testing.T) {
	s := NewMockSession("echo", 0)

	stream, err := s.SendStream(context.Background(), []models.Part{
		{InlineData: &models.InlineData{MIMEType: "image/png", Data: "AA=="}},
		models.TextPart("hi there"),
	})
	require.NoError(t, err)

	full, chunks, err := collect(t, stream)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	assert.Equal(t, "Turn 1. You said: **hi there**\n(1 image attached)", full)

	stream, err = s.SendStream(context.Background(), []models.Part{models.TextPart("again")})
	require.NoError(t, err)
	full, _, err = collect(t, stream)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(full, "Turn 2."))
}

func TestMockSession_RejectsEmpty(t *testing.T) {
	_, err := NewMockSession("echo", 0).SendStream(context.Background(), []models.Part{{}})
	assert.ErrorIs(t, err, ErrNoParts)
}

func TestStream_ProduceOnce(t *testing.T) {
	stream, err := NewMockSession("echo", 0).SendStream(context.Background(), []models.Part{models.TextPart("x")})
	require.NoError(t, err)

	_, _, err = collect(t, stream)
	require.NoError(t, err)

	_, chunks, err := collect(t, stream)
	assert.ErrorIs(t, err, ErrStreamConsumed)
	assert.Empty(t, chunks)
}

// scriptedModel replays fixed chunks through the streaming callback.
type scriptedModel struct {
	chunks []string
	err    error
	seen   [][]llms.MessageContent
}

func (m *scriptedModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.seen = append(m.seen, msgs)
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	for _, c := range m.chunks {
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: strings.Join(m.chunks, "")}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLangchainSession_KeepsHistory(t *testing.T) {
	model := &scriptedModel{chunks: []string{"Hel", "lo"}}
	s := newLangchainSession(model, "local", "be brief")

	stream, err := s.SendStream(context.Background(), []models.Part{
		{InlineData: &models.InlineData{MIMEType: "image/png", Data: "AA=="}},
		models.TextPart("first"),
	})
	require.NoError(t, err)
	full, chunks, err := collect(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", full)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)

	first := model.seen[0]
	require.Len(t, first, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, first[0].Role)
	require.Len(t, first[1].Parts, 2)
	assert.Equal(t, llms.ImageURLContent{URL: "data:image/png;base64,AA=="}, first[1].Parts[0])

	stream, err = s.SendStream(context.Background(), []models.Part{models.TextPart("second")})
	require.NoError(t, err)
	_, _, err = collect(t, stream)
	require.NoError(t, err)

	second := model.seen[1]
	require.Len(t, second, 4)
	assert.Equal(t, llms.ChatMessageTypeAI, second[2].Role)
	assert.Equal(t, llms.TextContent{Text: "Hello"}, second[2].Parts[0])
}

func TestLangchainSession_FailedTurnNotRemembered(t *testing.T) {
	model := &scriptedModel{chunks: []string{"Hi"}, err: errors.New("connection reset")}
	s := newLangchainSession(model, "local", "")

	stream, err := s.SendStream(context.Background(), []models.Part{models.TextPart("q")})
	require.NoError(t, err)
	full, _, err := collect(t, stream)
	assert.Equal(t, "Hi", full)
	assert.EqualError(t, err, "connection reset")
	assert.Empty(t, s.history)
}

func TestLangchainSession_EarlyBreak(t *testing.T) {
	model := &scriptedModel{chunks: []string{"a", "b", "c"}}
	s := newLangchainSession(model, "local", "")

	stream, err := s.SendStream(context.Background(), []models.Part{models.TextPart("q")})
	require.NoError(t, err)
	for c := range stream {
		assert.Equal(t, "a", c.Text)
		break
	}
	assert.Empty(t, s.history)
}
