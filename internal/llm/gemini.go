package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/RichardoC/padchat/internal/models"
)

// geminiSession wraps a genai chat. The SDK keeps the turn history and
// only records a turn once its stream finishes cleanly.
type geminiSession struct {
	chat  *genai.Chat
	model string
}

func newGeminiSession(ctx context.Context, opts Options) (*geminiSession, error) {
	if err := requireKey(opts); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	var cfg *genai.GenerateContentConfig
	if opts.SystemInstruction != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(opts.SystemInstruction, genai.RoleUser),
		}
	}

	chat, err := client.Chats.Create(ctx, opts.Model, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return &geminiSession{chat: chat, model: opts.Model}, nil
}

func (s *geminiSession) Model() string { return s.model }

func (s *geminiSession) SendStream(ctx context.Context, parts []models.Part) (Stream, error) {
	gparts, err := toGenaiParts(parts)
	if err != nil {
		return nil, err
	}

	return geminiChunks(s.chat.SendMessageStream(ctx, gparts...)), nil
}

// geminiChunks maps SDK responses onto chunks, stopping at the first error.
func geminiChunks(responses iter.Seq2[*genai.GenerateContentResponse, error]) Stream {
	return once(func(yield func(Chunk, error) bool) {
		for resp, err := range responses {
			if err != nil {
				yield(Chunk{}, err)
				return
			}
			var text string
			if resp != nil {
				text = resp.Text()
			}
			if !yield(Chunk{Text: text}, nil) {
				return
			}
		}
	})
}

func toGenaiParts(parts []models.Part) ([]genai.Part, error) {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.InlineData != nil:
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("decode inline data: %w", err)
			}
			out = append(out, genai.Part{
				InlineData: &genai.Blob{MIMEType: p.InlineData.MIMEType, Data: data},
			})
		case p.Text != "":
			out = append(out, genai.Part{Text: p.Text})
		}
	}
	if len(out) == 0 {
		return nil, ErrNoParts
	}
	return out, nil
}
