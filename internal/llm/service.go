// Package llm creates the remote chat session that turns are submitted to.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/RichardoC/padchat/internal/models"
)

const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
	BackendMock   = "mock"

	DefaultModel = "gemini-2.5-flash"
)

var (
	ErrMissingCredential = errors.New("API key is not set")
	ErrUnknownBackend    = errors.New("unknown backend")
	ErrStreamConsumed    = errors.New("stream already consumed")
	ErrNoParts           = errors.New("turn has no parts")
)

// Chunk is one incremental fragment of a streamed reply.
type Chunk struct {
	Text string
}

// Stream is a finite sequence of chunks. It can be ranged over once; a
// failure is delivered as a final non-nil error.
type Stream = iter.Seq2[Chunk, error]

// Session is a remote conversation context. The remote side (or the
// session itself, for stateless endpoints) remembers earlier turns, so
// callers only send the new parts.
type Session interface {
	SendStream(ctx context.Context, parts []models.Part) (Stream, error)
	Model() string
}

// Factory creates a fresh Session.
type Factory func(ctx context.Context) (Session, error)

// BootstrapError reports that no session could be created.
type BootstrapError struct {
	Backend string
	Err     error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("initialize %s session: %v", e.Backend, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

type Options struct {
	Backend           string
	Model             string
	APIKey            string
	BaseURL           string
	SystemInstruction string
	// MockDelay spaces out chunks produced by the mock backend.
	MockDelay time.Duration
}

// New creates exactly one session for the configured backend.
func New(ctx context.Context, opts Options) (Session, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" {
		backend = BackendGemini
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}

	var (
		s   Session
		err error
	)
	switch backend {
	case BackendGemini:
		s, err = newGeminiSession(ctx, opts)
	case BackendOpenAI:
		s, err = newOpenAISession(opts)
	case BackendMock:
		s = NewMockSession(opts.Model, opts.MockDelay)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
	if err != nil {
		return nil, &BootstrapError{Backend: backend, Err: err}
	}
	return s, nil
}

// NewFactory binds opts so the session can be recreated on reset.
func NewFactory(opts Options) Factory {
	return func(ctx context.Context) (Session, error) {
		return New(ctx, opts)
	}
}

func requireKey(opts Options) error {
	if strings.TrimSpace(opts.APIKey) == "" {
		return ErrMissingCredential
	}
	return nil
}

// once makes seq produce-once: ranging a second time yields
// ErrStreamConsumed and nothing else.
func once(seq Stream) Stream {
	var used atomic.Bool
	return func(yield func(Chunk, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(Chunk{}, ErrStreamConsumed)
			return
		}
		seq(yield)
	}
}
