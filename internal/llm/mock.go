package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RichardoC/padchat/internal/models"
)

// MockSession answers every turn with a deterministic echo, streamed word
// by word. It needs no credential and is meant for local development.
type MockSession struct {
	model string
	delay time.Duration

	mu    sync.Mutex
	turns int
}

func NewMockSession(model string, delay time.Duration) *MockSession {
	return &MockSession{model: model, delay: delay}
}

func (m *MockSession) Model() string { return m.model }

func (m *MockSession) SendStream(ctx context.Context, parts []models.Part) (Stream, error) {
	var (
		texts  []string
		images int
	)
	for _, p := range parts {
		switch {
		case p.InlineData != nil:
			images++
		case p.Text != "":
			texts = append(texts, p.Text)
		}
	}
	if len(texts) == 0 && images == 0 {
		return nil, ErrNoParts
	}

	m.mu.Lock()
	m.turns++
	turn := m.turns
	m.mu.Unlock()

	reply := fmt.Sprintf("Turn %d. You said: **%s**", turn, strings.Join(texts, " "))
	if images > 0 {
		reply += fmt.Sprintf("\n(%d image attached)", images)
	}

	return once(func(yield func(Chunk, error) bool) {
		for _, word := range strings.SplitAfter(reply, " ") {
			if m.delay > 0 {
				select {
				case <-ctx.Done():
					yield(Chunk{}, ctx.Err())
					return
				case <-time.After(m.delay):
				}
			}
			if !yield(Chunk{Text: word}, nil) {
				return
			}
		}
	}), nil
}
