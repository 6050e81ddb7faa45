package chat

import (
	"errors"
	"fmt"

	"SmargeChat/internal/backend"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// Decoder turns a sequence of byte chunks into text. A multi-byte
// character split across two chunks is held back until its remaining
// bytes arrive, so chunk seams never corrupt the output.
type Decoder struct {
	validator transform.Transformer
	pending   []byte
	offset    int64
}

// NewDecoder returns a UTF-8 stream decoder
func NewDecoder() *Decoder {
	return &Decoder{validator: encoding.UTF8Validator}
}

// Decode consumes one chunk and returns the text that is complete so far
func (d *Decoder) Decode(chunk []byte) (string, error) {
	src := chunk
	if len(d.pending) > 0 {
		src = append(d.pending, chunk...)
	}
	dst := make([]byte, len(src))

	nDst, nSrc, err := d.validator.Transform(dst, src, false)
	if err != nil && !errors.Is(err, transform.ErrShortSrc) {
		return "", &backend.DecodeError{Op: "decode chunk", Offset: d.offset + int64(nSrc), Err: err}
	}

	d.offset += int64(nSrc)
	// at most utf8.UTFMax-1 bytes are carried
	d.pending = append(d.pending[:0:0], src[nSrc:]...)
	return string(dst[:nDst]), nil
}

// Flush reports an error if the stream ended inside a character
func (d *Decoder) Flush() error {
	if len(d.pending) == 0 {
		return nil
	}
	return &backend.DecodeError{
		Op:     "decode chunk",
		Offset: d.offset,
		Err:    fmt.Errorf("stream ended inside a %d-byte partial character", len(d.pending)),
	}
}
