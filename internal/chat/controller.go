// Package chat drives one conversation: it submits turns to the remote
// session and folds the streamed reply into the conversation store.
package chat

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RichardoC/padchat/internal/attachment"
	"github.com/RichardoC/padchat/internal/conversation"
	"github.com/RichardoC/padchat/internal/llm"
	"github.com/RichardoC/padchat/internal/models"
)

const DefaultGreeting = "Hello! How can I help you today?"

type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeUnavailable
	OutcomeCompleted
	OutcomeEncodingFailed
	OutcomeStreamFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeCompleted:
		return "completed"
	case OutcomeEncodingFailed:
		return "encoding_failed"
	case OutcomeStreamFailed:
		return "stream_failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Image is an attachment picked by the user for one turn. Either Reader
// is encoded during the turn, or Part carries an already encoded
// inline-data part and Reader is ignored.
type Image struct {
	Reader   io.Reader
	MIMEType string
	Part     *models.Part
}

func (img *Image) encode() (models.Part, error) {
	if img.Part != nil {
		if !img.Part.IsInline() {
			return models.Part{}, &attachment.EncodingError{Op: "detect", Err: attachment.ErrUnsupportedMedia}
		}
		return *img.Part, nil
	}
	return attachment.Encode(img.Reader, img.MIMEType)
}

type Turn struct {
	Text  string
	Image *Image
	// Observe, when set, receives every frame this turn produces, after
	// the subscribers.
	Observe func(Frame)
}

func (t Turn) blank() bool {
	return strings.TrimSpace(t.Text) == "" && t.Image == nil
}

// Frame is what the presentation layer needs to draw the conversation.
type Frame struct {
	Conversation conversation.Snapshot
	Busy         bool
	Error        Banner
}

// TurnRecorder receives a summary of every turn that was attempted.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, rec models.TurnRecord) error
}

type Config struct {
	Greeting string
	Logger   *zap.Logger
	Recorder TurnRecorder
}

type Controller struct {
	store    *conversation.Store
	factory  llm.Factory
	greeting string
	logger   *zap.Logger
	recorder TurnRecorder

	// permit serializes turns and resets. It is only ever taken with
	// TryLock, so a second sender is turned away instead of queued.
	permit sync.Mutex

	mu      sync.RWMutex
	session llm.Session
	bootErr error
	banner  Banner
	busy    bool

	subsMu  sync.Mutex
	subs    []subscriber
	nextSub int
}

type subscriber struct {
	id int
	fn func(Frame)
}

// New bootstraps the session once. A bootstrap failure leaves the
// controller permanently unavailable with a persistent banner.
func New(ctx context.Context, factory llm.Factory, cfg Config) *Controller {
	c := &Controller{
		store:    conversation.NewStore(),
		factory:  factory,
		greeting: cfg.Greeting,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
	}
	if c.greeting == "" {
		c.greeting = DefaultGreeting
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	session, err := factory(ctx)
	if err != nil {
		c.logger.Error("Failed to initialize chat session", zap.Error(err))
		c.bootErr = err
		c.banner = Banner{Message: bootstrapMessage, Persistent: true}
		return c
	}
	c.session = session
	c.store.Reset(c.greetingMessage())
	c.logger.Info("Chat session ready", zap.String("model", session.Model()))
	return c
}

func (c *Controller) greetingMessage() models.Message {
	return models.Message{Role: models.RoleModel, Parts: []models.Part{models.TextPart(c.greeting)}}
}

// Available reports whether turns can be sent at all.
func (c *Controller) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

// BootstrapErr returns the error that made the controller unavailable.
func (c *Controller) BootstrapErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bootErr
}

func (c *Controller) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.Model()
}

func (c *Controller) State() Frame {
	c.mu.RLock()
	busy, banner := c.busy, c.banner
	c.mu.RUnlock()
	return Frame{Conversation: c.store.Snapshot(), Busy: busy, Error: banner}
}

// Subscribe registers fn to receive a frame after every state change.
// fn runs synchronously on the goroutine that made the change and must
// not call back into SendTurn or Reset.
func (c *Controller) Subscribe(fn func(Frame)) (unsubscribe func()) {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		c.subs = slices.DeleteFunc(c.subs, func(s subscriber) bool { return s.id == id })
		c.subsMu.Unlock()
	}
}

func (c *Controller) publish(extra ...func(Frame)) {
	c.subsMu.Lock()
	fns := make([]func(Frame), 0, len(c.subs)+len(extra))
	for _, s := range c.subs {
		fns = append(fns, s.fn)
	}
	c.subsMu.Unlock()
	for _, fn := range extra {
		if fn != nil {
			fns = append(fns, fn)
		}
	}
	if len(fns) == 0 {
		return
	}

	frame := c.State()
	for _, fn := range fns {
		fn(frame)
	}
}

func (c *Controller) setBusy(busy bool) {
	c.mu.Lock()
	c.busy = busy
	if busy && !c.banner.Persistent {
		c.banner = Banner{}
	}
	c.mu.Unlock()
}

func (c *Controller) setBanner(b Banner) {
	c.mu.Lock()
	if !c.banner.Persistent {
		c.banner = b
	}
	c.mu.Unlock()
}

// SendTurn runs one full turn. It returns OutcomeSkipped without touching
// any state when the turn is blank or another turn is in flight.
func (c *Controller) SendTurn(ctx context.Context, turn Turn) Outcome {
	if turn.blank() {
		return OutcomeSkipped
	}
	if !c.permit.TryLock() {
		return OutcomeSkipped
	}
	defer c.permit.Unlock()

	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return OutcomeUnavailable
	}

	observe := turn.Observe
	c.setBusy(true)
	defer func() {
		c.setBusy(false)
		c.publish(observe)
	}()
	c.publish(observe)

	rec := models.TurnRecord{
		ID:        uuid.NewString(),
		Model:     session.Model(),
		HasImage:  turn.Image != nil,
		StartedAt: time.Now().UTC(),
	}
	logger := c.logger.With(zap.String("turn_id", rec.ID))

	parts := make([]models.Part, 0, 2)
	if turn.Image != nil {
		part, err := turn.Image.encode()
		if err != nil {
			logger.Warn("Failed to encode image", zap.Error(err))
			c.setBanner(Banner{Message: encodingMessage})
			c.record(ctx, rec, models.TurnEncodingFailed, err)
			return OutcomeEncodingFailed
		}
		parts = append(parts, part)
	}
	if strings.TrimSpace(turn.Text) != "" {
		parts = append(parts, models.TextPart(turn.Text))
	}

	c.store.Append(models.Message{Role: models.RoleUser, Parts: parts})
	c.publish(observe)

	reply, err := c.stream(ctx, session, parts, &rec, observe)
	if err != nil {
		logger.Error("Failed to stream reply", zap.Error(err), zap.Int("chunks", rec.Chunks))
		c.setBanner(streamBanner(err))
		c.record(ctx, rec, models.TurnStreamFailed, err)
		return OutcomeStreamFailed
	}

	rec.ResponseBytes = len(reply)
	logger.Debug("Turn completed",
		zap.Int("chunks", rec.Chunks),
		zap.Int("bytes", rec.ResponseBytes),
		zap.Int("messages", c.store.Len()))
	c.record(ctx, rec, models.TurnCompleted, nil)
	return OutcomeCompleted
}

// stream submits parts and folds every chunk into a model placeholder. On
// failure the placeholder, if it was appended, is removed again.
func (c *Controller) stream(ctx context.Context, session llm.Session, parts []models.Part, rec *models.TurnRecord, observe func(Frame)) (string, error) {
	chunks, err := session.SendStream(ctx, parts)
	if err != nil {
		return "", &StreamError{Err: err}
	}

	h, err := c.store.BeginStream(models.Message{Role: models.RoleModel, Parts: []models.Part{models.TextPart("")}})
	if err != nil {
		return "", &StreamError{Err: err}
	}
	c.publish(observe)

	var reply strings.Builder
	for chunk, err := range chunks {
		if err == nil {
			rec.Chunks++
			if chunk.Text == "" {
				continue
			}
			reply.WriteString(chunk.Text)
			err = c.store.SetText(h, reply.String())
			if err == nil {
				c.publish(observe)
				continue
			}
		}
		if _, rmErr := c.store.RemoveLast(h); rmErr != nil {
			c.logger.Error("Failed to roll back model message", zap.Error(rmErr))
		}
		return reply.String(), &StreamError{Started: true, Err: err}
	}

	c.store.EndStream(h)
	return reply.String(), nil
}

func (c *Controller) record(ctx context.Context, rec models.TurnRecord, status models.TurnStatus, err error) {
	if c.recorder == nil {
		return
	}
	rec.Status = status
	rec.FinishedAt = time.Now().UTC()
	if err != nil {
		rec.Error = err.Error()
	}
	if err := c.recorder.RecordTurn(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Warn("Failed to record turn", zap.Error(err), zap.String("turn_id", rec.ID))
	}
}

// Reset re-creates the session and reseeds the greeting. It is refused
// while a turn is in flight and after a failed bootstrap.
func (c *Controller) Reset(ctx context.Context) error {
	if !c.Available() {
		return fmt.Errorf("%w: %w", ErrUnavailable, c.BootstrapErr())
	}
	if !c.permit.TryLock() {
		return ErrBusy
	}
	defer c.permit.Unlock()

	session, err := c.factory(ctx)
	if err != nil {
		c.logger.Error("Failed to re-initialize chat session", zap.Error(err))
		c.mu.Lock()
		c.session = nil
		c.bootErr = err
		c.banner = Banner{Message: bootstrapMessage, Persistent: true}
		c.mu.Unlock()
		c.store.Reset()
		c.publish()
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	c.mu.Lock()
	c.session = session
	c.banner = Banner{}
	c.mu.Unlock()
	c.store.Reset(c.greetingMessage())
	c.publish()
	c.logger.Info("Chat session re-initialized", zap.String("model", session.Model()))
	return nil
}
