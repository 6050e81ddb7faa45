package chatbot

import (
	"fmt"
	"io"

	"SmargeChat/internal/chat"
	"SmargeChat/internal/transcript"
)

// printer writes the assistant's reply to the terminal as it streams in
type printer struct {
	out       io.Writer
	streaming bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

// TranscriptChanged implements chat.Observer
func (p *printer) TranscriptChanged(ch chat.Change) {
	switch ch.Kind {
	case chat.ChangeAppend:
		if ch.Turn.Role == transcript.RoleAssistant {
			fmt.Fprint(p.out, "Bot: ")
			p.streaming = true
		}
	case chat.ChangeDelta:
		fmt.Fprint(p.out, ch.Delta)
	case chat.ChangeSettle:
		fmt.Fprint(p.out, "\n\n")
		p.streaming = false
	case chat.ChangeFail:
		if p.streaming {
			fmt.Fprint(p.out, "\n")
		}
		fmt.Fprintf(p.out, "Bot: %s\n\n", ch.Turn.Content)
		p.streaming = false
	case chat.ChangeReset:
		if p.streaming {
			fmt.Fprint(p.out, "\n")
		}
		p.streaming = false
	}
}
