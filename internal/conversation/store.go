// Package conversation holds the ordered message history shown to the user.
package conversation

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/RichardoC/padchat/internal/models"
)

var (
	ErrUnknownHandle = errors.New("conversation: unknown message handle")
	ErrNotLast       = errors.New("conversation: message is not the last one")
	ErrNotStreaming  = errors.New("conversation: message is not being streamed")
	ErrNotModel      = errors.New("conversation: only model messages can be streamed")
)

// Handle names one message in a Store. It stays valid until that message
// is removed or the store is reset.
type Handle string

// Snapshot is an immutable copy of the conversation.
type Snapshot struct {
	Messages  []models.Message
	Streaming Handle
}

// Last returns the final message, if any.
func (s Snapshot) Last() (models.Message, bool) {
	if len(s.Messages) == 0 {
		return models.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

type Store struct {
	mu        sync.RWMutex
	messages  []models.Message
	streaming Handle
}

func NewStore(seed ...models.Message) *Store {
	s := &Store{}
	s.Reset(seed...)
	return s
}

// Append adds msg at the end and returns its handle and the new length.
func (s *Store) Append(msg models.Message) (Handle, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(msg), len(s.messages)
}

func (s *Store) appendLocked(msg models.Message) Handle {
	msg = msg.Clone()
	msg.ID = uuid.NewString()
	s.messages = append(s.messages, msg)
	return Handle(msg.ID)
}

// BeginStream appends msg and marks it as the streaming target. Only model
// messages with a leading text part can be streamed.
func (s *Store) BeginStream(msg models.Message) (Handle, error) {
	if msg.Role != models.RoleModel {
		return "", ErrNotModel
	}
	if len(msg.Parts) == 0 || msg.Parts[0].IsInline() {
		msg.Parts = append([]models.Part{models.TextPart("")}, msg.Parts...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.appendLocked(msg)
	s.streaming = h
	return h, nil
}

// SetText replaces the text of the first part of the message named by h.
// The message must be the last one and still be streaming.
func (s *Store) SetText(h Handle, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.checkLastLocked(h)
	if err != nil {
		return err
	}
	if s.streaming != h {
		return ErrNotStreaming
	}
	s.messages[i].Parts[0].Text = text
	return nil
}

// EndStream clears the streaming mark if h holds it.
func (s *Store) EndStream(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming == h {
		s.streaming = ""
	}
}

// RemoveLast pops the final message, which must be the one named by h.
func (s *Store) RemoveLast(h Handle) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.checkLastLocked(h)
	if err != nil {
		return models.Message{}, err
	}
	msg := s.messages[i]
	s.messages = s.messages[:i]
	if s.streaming == h {
		s.streaming = ""
	}
	return msg, nil
}

func (s *Store) checkLastLocked(h Handle) (int, error) {
	n := len(s.messages)
	for i := n - 1; i >= 0; i-- {
		if Handle(s.messages[i].ID) != h {
			continue
		}
		if i != n-1 {
			return 0, ErrNotLast
		}
		return i, nil
	}
	return 0, ErrUnknownHandle
}

// Reset drops every message and seeds the store with seed.
func (s *Store) Reset(seed ...models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]models.Message, 0, len(seed)+8)
	s.streaming = ""
	for _, m := range seed {
		s.appendLocked(m)
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Messages:  make([]models.Message, len(s.messages)),
		Streaming: s.streaming,
	}
	for i, m := range s.messages {
		out.Messages[i] = m.Clone()
	}
	return out
}
