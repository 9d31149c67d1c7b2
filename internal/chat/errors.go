package chat

import (
	"errors"
	"fmt"
)

var (
	ErrBusy        = errors.New("chat: a turn is already in flight")
	ErrUnavailable = errors.New("chat: session is not available")
)

const (
	bootstrapMessage = "Failed to initialize the AI. Please check your API key and restart."
	encodingMessage  = "There was an error processing your image. Please try again."
	streamPrefix     = "Sorry, something went wrong."
)

// StreamError reports a failure while submitting a turn or reading its reply.
type StreamError struct {
	Started bool // false when the stream could not even be opened
	Err     error
}

func (e *StreamError) Error() string {
	if !e.Started {
		return fmt.Sprintf("start stream: %v", e.Err)
	}
	return fmt.Sprintf("read stream: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Banner is the single user-visible error state.
type Banner struct {
	Message string `json:"message,omitempty"`
	// Persistent banners are never cleared by later turns.
	Persistent bool `json:"persistent,omitempty"`
}

func (b Banner) IsZero() bool { return b.Message == "" }

func streamBanner(err error) Banner {
	msg := streamPrefix
	var se *StreamError
	if errors.As(err, &se) && se.Err != nil {
		err = se.Err
	}
	if err != nil {
		msg += " " + err.Error()
	} else {
		msg += " An unknown error occurred."
	}
	return Banner{Message: msg}
}
