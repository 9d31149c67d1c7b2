// Package render turns a conversation frame into something a browser or
// terminal can display. Everything here is a pure function of its input.
package render

import (
	"encoding/base64"
	"errors"
	"regexp"
	"strings"

	"github.com/RichardoC/padchat/internal/chat"
	"github.com/RichardoC/padchat/internal/models"
)

var ErrBadDataURI = errors.New("render: malformed data URI")

type Span struct {
	Text string `json:"text"`
	Bold bool   `json:"bold,omitempty"`
}

type Line []Span

type Image struct {
	MIMEType string `json:"mime_type"`
	URI      string `json:"uri"`
}

type PartView struct {
	Image  *Image `json:"image,omitempty"`
	Lines  []Line `json:"lines,omitempty"`
	Cursor bool   `json:"cursor,omitempty"`
}

type Bubble struct {
	ID        string      `json:"id"`
	Role      models.Role `json:"role"`
	Parts     []PartView  `json:"parts"`
	Streaming bool        `json:"streaming,omitempty"`
}

type View struct {
	Bubbles []Bubble    `json:"bubbles"`
	Busy    bool        `json:"busy"`
	Error   chat.Banner `json:"error"`
}

// Render builds the view for f. The blinking cursor goes only on the text
// part of the message currently being streamed.
func Render(f chat.Frame) View {
	v := View{
		Bubbles: make([]Bubble, 0, len(f.Conversation.Messages)),
		Busy:    f.Busy,
		Error:   f.Error,
	}
	for _, m := range f.Conversation.Messages {
		streaming := f.Busy && f.Conversation.Streaming != "" && string(f.Conversation.Streaming) == m.ID
		b := Bubble{ID: m.ID, Role: m.Role, Streaming: streaming}
		for i, p := range m.Parts {
			cursor := streaming && i == 0 && !p.IsInline()
			switch {
			case p.InlineData != nil:
				b.Parts = append(b.Parts, PartView{Image: &Image{
					MIMEType: p.InlineData.MIMEType,
					URI:      DataURI(p.InlineData.MIMEType, p.InlineData.Data),
				}})
			case p.Text != "" || cursor:
				b.Parts = append(b.Parts, PartView{Lines: FormatText(p.Text), Cursor: cursor})
			}
		}
		v.Bubbles = append(v.Bubbles, b)
	}
	return v
}

var boldPattern = regexp.MustCompile(`\*\*.*?\*\*`)

// FormatText splits text into lines and marks **bold** runs. Any other
// markup, including unbalanced or empty markers, is kept literally.
func FormatText(text string) []Line {
	raw := strings.Split(text, "\n")
	lines := make([]Line, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, formatLine(l))
	}
	return lines
}

func formatLine(l string) Line {
	line := Line{}
	last := 0
	for _, loc := range boldPattern.FindAllStringIndex(l, -1) {
		inner := l[loc[0]+2 : loc[1]-2]
		if inner == "" {
			continue
		}
		line = appendPlain(line, l[last:loc[0]])
		line = append(line, Span{Text: inner, Bold: true})
		last = loc[1]
	}
	return appendPlain(line, l[last:])
}

func appendPlain(line Line, s string) Line {
	if s == "" {
		return line
	}
	if n := len(line); n > 0 && !line[n-1].Bold {
		line[n-1].Text += s
		return line
	}
	return append(line, Span{Text: s})
}

func DataURI(mimeType, data string) string {
	return models.InlineData{MIMEType: mimeType, Data: data}.URI()
}

// DecodeDataURI reverses DataURI.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, ErrBadDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrBadDataURI
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok || mimeType == "" {
		return "", nil, ErrBadDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, errors.Join(ErrBadDataURI, err)
	}
	return mimeType, data, nil
}
