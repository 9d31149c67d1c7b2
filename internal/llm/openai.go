package llm

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/RichardoC/padchat/internal/models"
)

// openAISession talks to any OpenAI-compatible endpoint (OpenAI, Ollama,
// vLLM). Those endpoints are stateless, so the session keeps the history
// and resends it with every turn.
type openAISession struct {
	llm    llms.Model
	model  string
	system string

	mu      sync.Mutex
	history []llms.MessageContent
}

func newOpenAISession(opts Options) (*openAISession, error) {
	if err := requireKey(opts); err != nil {
		return nil, err
	}

	callOpts := []openai.Option{
		openai.WithToken(opts.APIKey),
		openai.WithModel(opts.Model),
	}
	if opts.BaseURL != "" {
		callOpts = append(callOpts, openai.WithBaseURL(opts.BaseURL))
	}
	client, err := openai.New(callOpts...)
	if err != nil {
		return nil, err
	}
	return newLangchainSession(client, opts.Model, opts.SystemInstruction), nil
}

func newLangchainSession(model llms.Model, name, system string) *openAISession {
	return &openAISession{llm: model, model: name, system: system}
}

func (s *openAISession) Model() string { return s.model }

func (s *openAISession) SendStream(ctx context.Context, parts []models.Part) (Stream, error) {
	turn, err := toMessageContent(parts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	msgs := make([]llms.MessageContent, 0, len(s.history)+2)
	if s.system != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, s.system))
	}
	msgs = append(msgs, slices.Clone(s.history)...)
	msgs = append(msgs, turn)
	s.mu.Unlock()

	return once(func(yield func(Chunk, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		chunks := make(chan string)
		done := make(chan error, 1)
		go func() {
			defer close(chunks)
			_, err := s.llm.GenerateContent(ctx, msgs,
				llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
					select {
					case chunks <- string(chunk):
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				}),
			)
			done <- err
		}()

		var reply strings.Builder
		for text := range chunks {
			reply.WriteString(text)
			if !yield(Chunk{Text: text}, nil) {
				cancel()
				for range chunks {
				}
				return
			}
		}
		if err := <-done; err != nil {
			yield(Chunk{}, err)
			return
		}
		s.commit(turn, reply.String())
	}), nil
}

func (s *openAISession) commit(turn llms.MessageContent, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turn, llms.TextParts(llms.ChatMessageTypeAI, reply))
}

func toMessageContent(parts []models.Part) (llms.MessageContent, error) {
	content := llms.MessageContent{Role: llms.ChatMessageTypeHuman}
	for _, p := range parts {
		switch {
		case p.InlineData != nil:
			content.Parts = append(content.Parts, llms.ImageURLPart(p.InlineData.URI()))
		case p.Text != "":
			content.Parts = append(content.Parts, llms.TextPart(p.Text))
		}
	}
	if len(content.Parts) == 0 {
		return content, ErrNoParts
	}
	return content, nil
}
