package chatbot

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"SmargeChat/internal/chat"
	"SmargeChat/internal/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinter_StreamsDeltas(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)

	p.TranscriptChanged(chat.Change{Kind: chat.ChangeAppend, Turn: transcript.Turn{Role: transcript.RoleUser, Content: "Hi"}})
	assert.Empty(t, out.String(), "user turns are already on screen")

	p.TranscriptChanged(chat.Change{Kind: chat.ChangeAppend, Index: 1, Turn: transcript.Turn{Role: transcript.RoleAssistant}})
	p.TranscriptChanged(chat.Change{Kind: chat.ChangeDelta, Index: 1, Delta: "Hel"})
	p.TranscriptChanged(chat.Change{Kind: chat.ChangeDelta, Index: 1, Delta: "lo"})
	p.TranscriptChanged(chat.Change{Kind: chat.ChangeSettle, Index: 1})

	assert.Equal(t, "Bot: Hello\n\n", out.String())
}

func TestPrinter_FailureMidStream(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)

	p.TranscriptChanged(chat.Change{Kind: chat.ChangeAppend, Index: 1, Turn: transcript.Turn{Role: transcript.RoleAssistant}})
	p.TranscriptChanged(chat.Change{Kind: chat.ChangeDelta, Index: 1, Delta: "Par"})
	p.TranscriptChanged(chat.Change{Kind: chat.ChangeFail, Index: 1, Turn: transcript.Turn{Role: transcript.RoleAssistant, Content: chat.ErrorReply}})

	assert.Equal(t, "Bot: Par\nBot: "+chat.ErrorReply+"\n\n", out.String())
}

func TestReaderInput(t *testing.T) {
	var out bytes.Buffer
	in := NewReaderInput(strings.NewReader("one\nsecret\n"), &out)

	line, err := in.ReadLine("You: ")
	require.NoError(t, err)
	assert.Equal(t, "one", line)

	pw, err := in.ReadPassword("Password: ")
	require.NoError(t, err)
	assert.Equal(t, "secret", pw)

	_, err = in.ReadLine("You: ")
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "You: Password: You: ", out.String())
	assert.NoError(t, in.Close())
}
