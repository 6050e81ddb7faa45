package chat

import (
	"strings"
	"testing"

	"SmargeChat/internal/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_SplitAtEveryByte(t *testing.T) {
	input := "héllo 世界 🎉 done"
	raw := []byte(input)

	dec := NewDecoder()
	var out strings.Builder
	for i := range raw {
		text, err := dec.Decode(raw[i : i+1])
		require.NoError(t, err)
		out.WriteString(text)
	}
	require.NoError(t, dec.Flush())
	assert.Equal(t, input, out.String())
}

func TestDecoder_SplitAtEverySeam(t *testing.T) {
	input := "a€b𝄞c"
	raw := []byte(input)

	for cut := 0; cut <= len(raw); cut++ {
		dec := NewDecoder()
		first, err := dec.Decode(raw[:cut])
		require.NoError(t, err, "cut=%d", cut)
		second, err := dec.Decode(raw[cut:])
		require.NoError(t, err, "cut=%d", cut)
		require.NoError(t, dec.Flush(), "cut=%d", cut)
		assert.Equal(t, input, first+second, "cut=%d", cut)
	}
}

func TestDecoder_HoldsPartialCharacter(t *testing.T) {
	dec := NewDecoder()
	euro := []byte("€") // e2 82 ac

	text, err := dec.Decode(append([]byte("x"), euro[:2]...))
	require.NoError(t, err)
	assert.Equal(t, "x", text)

	text, err = dec.Decode(euro[2:])
	require.NoError(t, err)
	assert.Equal(t, "€", text)
}

func TestDecoder_InvalidSequence(t *testing.T) {
	dec := NewDecoder()
	_, err := dec.Decode([]byte("ok"))
	require.NoError(t, err)

	_, err = dec.Decode([]byte{'a', 0xff, 'b'})
	var de *backend.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, int64(3), de.Offset)
}

func TestDecoder_TruncatedAtEnd(t *testing.T) {
	dec := NewDecoder()
	text, err := dec.Decode([]byte{'h', 'i', 0xe4, 0xb8})
	require.NoError(t, err)
	assert.Equal(t, "hi", text)

	var de *backend.DecodeError
	require.ErrorAs(t, dec.Flush(), &de)
}
