package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64, standard encoding
}

// URI returns the data: URI a browser can display directly.
func (d InlineData) URI() string {
	return "data:" + d.MIMEType + ";base64," + d.Data
}

// Part is one unit of message content. Exactly one of Text or InlineData
// is expected to be set.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

func TextPart(text string) Part {
	return Part{Text: text}
}

func (p Part) IsInline() bool {
	return p.InlineData != nil
}

type Message struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	out := Message{ID: m.ID, Role: m.Role, Parts: make([]Part, len(m.Parts))}
	for i, p := range m.Parts {
		out.Parts[i] = p
		if p.InlineData != nil {
			data := *p.InlineData
			out.Parts[i].InlineData = &data
		}
	}
	return out
}

type TurnStatus string

const (
	TurnCompleted      TurnStatus = "completed"
	TurnEncodingFailed TurnStatus = "encoding_failed"
	TurnStreamFailed   TurnStatus = "stream_failed"
)

// TurnRecord describes how a turn went. It never carries message content.
type TurnRecord struct {
	ID            string     `json:"id"`
	Model         string     `json:"model"`
	Status        TurnStatus `json:"status"`
	HasImage      bool       `json:"has_image"`
	Chunks        int        `json:"chunks"`
	ResponseBytes int        `json:"response_bytes"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
}
