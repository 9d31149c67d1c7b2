package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardoC/padchat/internal/models"
)

func userMsg(text string) models.Message {
	return models.Message{Role: models.RoleUser, Parts: []models.Part{models.TextPart(text)}}
}

func modelMsg(text string) models.Message {
	return models.Message{Role: models.RoleModel, Parts: []models.Part{models.TextPart(text)}}
}

func TestStore_SeedAndAppend(t *testing.T) {
	s := NewStore(modelMsg("hello"))
	require.Equal(t, 1, s.Len())

	h, n := s.Append(userMsg("hi"))
	assert.Equal(t, 2, n)
	assert.NotEmpty(t, h)

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, string(h), snap.Messages[1].ID)
	assert.Equal(t, models.RoleUser, snap.Messages[1].Role)
	assert.Empty(t, snap.Streaming)
}

func TestStore_StreamLifecycle(t *testing.T) {
	s := NewStore()
	s.Append(userMsg("question"))

	h, err := s.BeginStream(modelMsg(""))
	require.NoError(t, err)
	assert.Equal(t, h, s.Snapshot().Streaming)

	require.NoError(t, s.SetText(h, "Hel"))
	require.NoError(t, s.SetText(h, "Hello"))

	last, ok := s.Snapshot().Last()
	require.True(t, ok)
	assert.Equal(t, "Hello", last.Parts[0].Text)

	s.EndStream(h)
	assert.Empty(t, s.Snapshot().Streaming)
	assert.ErrorIs(t, s.SetText(h, "late"), ErrNotStreaming)
}

func TestStore_BeginStreamRejectsUser(t *testing.T) {
	s := NewStore()
	_, err := s.BeginStream(userMsg(""))
	assert.ErrorIs(t, err, ErrNotModel)
	assert.Equal(t, 0, s.Len())
}

func TestStore_BeginStreamAddsTextPart(t *testing.T) {
	s := NewStore()
	h, err := s.BeginStream(models.Message{Role: models.RoleModel})
	require.NoError(t, err)
	require.NoError(t, s.SetText(h, "ok"))
	last, _ := s.Snapshot().Last()
	require.Len(t, last.Parts, 1)
	assert.Equal(t, "ok", last.Parts[0].Text)
}

func TestStore_SetTextOnlyLast(t *testing.T) {
	s := NewStore()
	h, err := s.BeginStream(modelMsg(""))
	require.NoError(t, err)
	s.Append(userMsg("interleaved"))

	assert.ErrorIs(t, s.SetText(h, "x"), ErrNotLast)
	assert.ErrorIs(t, s.SetText(Handle("missing"), "x"), ErrUnknownHandle)
}

func TestStore_RemoveLast(t *testing.T) {
	s := NewStore()
	uh, _ := s.Append(userMsg("question"))
	mh, err := s.BeginStream(modelMsg(""))
	require.NoError(t, err)

	_, err = s.RemoveLast(uh)
	assert.ErrorIs(t, err, ErrNotLast)

	removed, err := s.RemoveLast(mh)
	require.NoError(t, err)
	assert.Equal(t, models.RoleModel, removed.Role)
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.Snapshot().Streaming)

	_, err = s.RemoveLast(mh)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestStore_SnapshotIsolation(t *testing.T) {
	s := NewStore()
	s.Append(models.Message{
		Role: models.RoleUser,
		Parts: []models.Part{
			{InlineData: &models.InlineData{MIMEType: "image/png", Data: "AAAA"}},
			models.TextPart("look"),
		},
	})

	snap := s.Snapshot()
	snap.Messages[0].Parts[0].InlineData.Data = "mutated"
	snap.Messages[0].Parts[1].Text = "mutated"

	fresh := s.Snapshot()
	assert.Equal(t, "AAAA", fresh.Messages[0].Parts[0].InlineData.Data)
	assert.Equal(t, "look", fresh.Messages[0].Parts[1].Text)
}

func TestStore_Reset(t *testing.T) {
	s := NewStore(modelMsg("hello"))
	s.Append(userMsg("a"))
	h, _ := s.BeginStream(modelMsg(""))

	s.Reset(modelMsg("again"))
	snap := s.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "again", snap.Messages[0].Parts[0].Text)
	assert.Empty(t, snap.Streaming)
	assert.ErrorIs(t, s.SetText(h, "x"), ErrUnknownHandle)
}
