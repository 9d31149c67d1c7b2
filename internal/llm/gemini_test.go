package llm

import (
	"encoding/base64"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/RichardoC/padchat/internal/models"
)

func TestToGenaiParts(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	image := models.Part{InlineData: &models.InlineData{
		MIMEType: "image/png",
		Data:     base64.StdEncoding.EncodeToString(raw),
	}}

	tests := []struct {
		name    string
		parts   []models.Part
		want    []genai.Part
		wantErr error
	}{
		{
			name:  "image then text keeps order",
			parts: []models.Part{image, models.TextPart("what is this?")},
			want: []genai.Part{
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: raw}},
				{Text: "what is this?"},
			},
		},
		{
			name:  "text only",
			parts: []models.Part{models.TextPart("hi")},
			want:  []genai.Part{{Text: "hi"}},
		},
		{
			name:  "empty parts are dropped",
			parts: []models.Part{models.TextPart(""), models.TextPart("hi")},
			want:  []genai.Part{{Text: "hi"}},
		},
		{
			name:    "all empty",
			parts:   []models.Part{models.TextPart("")},
			wantErr: ErrNoParts,
		},
		{
			name:    "none",
			wantErr: ErrNoParts,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toGenaiParts(tt.parts)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToGenaiParts_BadBase64(t *testing.T) {
	_, err := toGenaiParts([]models.Part{{InlineData: &models.InlineData{MIMEType: "image/png", Data: "not base64!"}}})
	require.Error(t, err)
	assert.ErrorContains(t, err, "decode inline data")
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

type step struct {
	resp *genai.GenerateContentResponse
	err  error
}

func responses(steps ...step) (iter.Seq2[*genai.GenerateContentResponse, error], *int) {
	pulled := 0
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, s := range steps {
			pulled++
			if !yield(s.resp, s.err) {
				return
			}
		}
	}, &pulled
}

func TestGeminiChunks(t *testing.T) {
	seq, _ := responses(step{resp: textResponse("Hel")}, step{resp: nil}, step{resp: textResponse("lo")})

	full, chunks, err := collect(t, geminiChunks(seq))
	require.NoError(t, err)
	assert.Equal(t, "Hello", full)
	assert.Equal(t, []string{"Hel", "", "lo"}, chunks)
}

func TestGeminiChunks_StopsAtError(t *testing.T) {
	boom := errors.New("quota exceeded")
	seq, pulled := responses(
		step{resp: textResponse("partial")},
		step{err: boom},
		step{resp: textResponse("never")},
	)

	full, _, err := collect(t, geminiChunks(seq))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", full)
	assert.Equal(t, 2, *pulled)
}

func TestGeminiChunks_EarlyBreak(t *testing.T) {
	seq, pulled := responses(step{resp: textResponse("a")}, step{resp: textResponse("b")})

	for range geminiChunks(seq) {
		break
	}
	assert.Equal(t, 1, *pulled)
}

func TestGeminiChunks_ProduceOnce(t *testing.T) {
	seq, _ := responses(step{resp: textResponse("a")})
	stream := geminiChunks(seq)

	_, _, err := collect(t, stream)
	require.NoError(t, err)
	_, _, err = collect(t, stream)
	assert.ErrorIs(t, err, ErrStreamConsumed)
}
