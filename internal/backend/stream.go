package backend

import (
	"errors"
	"io"
)

// Stream is an open chat response body delivered chunk by chunk
type Stream interface {
	// ConversationID returns the id assigned by the server, or "" if the
	// response carried none.
	ConversationID() string

	// Recv blocks until the next chunk of raw bytes arrives. It returns
	// io.EOF once the body is exhausted.
	Recv() ([]byte, error)

	// Close releases the underlying connection
	Close() error
}

type httpStream struct {
	op             string
	body           io.ReadCloser
	buf            []byte
	conversationID string
	eof            bool
}

func (s *httpStream) ConversationID() string {
	return s.conversationID
}

func (s *httpStream) Recv() ([]byte, error) {
	for {
		if s.eof {
			return nil, io.EOF
		}
		n, err := s.body.Read(s.buf)
		if errors.Is(err, io.EOF) {
			s.eof = true
		} else if err != nil {
			return nil, &TransportError{Op: s.op, Err: err}
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			return chunk, nil
		}
	}
}

func (s *httpStream) Close() error {
	return s.body.Close()
}
