package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameCodecSingleObject(t *testing.T) {
	c := NewFrameCodec()
	c.Feed([]byte(`{"a":1}`))
	frame, ok, err := c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"a":1}`, string(frame))

	_, ok, err = c.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

// TestFrameCodecConcatenatedNoSeparator covers S-style framing where two
// JSON values are concatenated with no whitespace between them: the
// codec must emit exactly two frames, never one and never three.
func TestFrameCodecConcatenatedNoSeparator(t *testing.T) {
	c := NewFrameCodec()
	c.Feed([]byte(`{"a":1}{"b":2}`))

	f1, ok, err := c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"a":1}`, string(f1))

	f2, ok, err := c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"b":2}`, string(f2))

	_, ok, _ = c.Next()
	require.False(t, ok)
}

func TestFrameCodecWhitespaceSeparated(t *testing.T) {
	c := NewFrameCodec()
	c.Feed([]byte("{\"a\":1}\n  {\"b\":2}"))

	f1, ok, err := c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"a":1}`, string(f1))

	f2, ok, err := c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"b":2}`, string(f2))
}

// TestFrameCodecBraceInString is property 2: braces inside quoted
// strings must never affect depth tracking.
func TestFrameCodecBraceInString(t *testing.T) {
	c := NewFrameCodec()
	c.Feed([]byte(`{"s":"}"}`))
	frame, ok, err := c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"s":"}"}`, string(frame))
}

func TestFrameCodecEscapedQuoteInString(t *testing.T) {
	c := NewFrameCodec()
	c.Feed([]byte(`{"s":"a\"}b"}`))
	frame, ok, err := c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"s":"a\"}b"}`, string(frame))
}

func TestFrameCodecPartialInputNeedsMoreBytes(t *testing.T) {
	c := NewFrameCodec()
	c.Feed([]byte(`{"a":`))
	_, ok, err := c.Next()
	require.NoError(t, err)
	require.False(t, ok)

	c.Feed([]byte(`1}`))
	frame, ok, err := c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"a":1}`, string(frame))
}

// TestFrameCodecCompletenessForEveryPrefix is property 1: feeding every
// byte-level prefix of a valid concatenation must never emit more
// frames than have actually closed at that prefix length.
func TestFrameCodecCompletenessForEveryPrefix(t *testing.T) {
	full := []byte(`{"x":1}[1,2,3]{"y":"z"}`)
	boundaries := []int{7, 14, 23} // index just past each closing delimiter

	for prefixLen := 1; prefixLen <= len(full); prefixLen++ {
		c := NewFrameCodec()
		c.Feed(full[:prefixLen])

		var got int
		for {
			_, ok, err := c.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			got++
		}

		want := 0
		for _, b := range boundaries {
			if prefixLen >= b {
				want++
			}
		}
		require.Equalf(t, want, got, "prefix length %d", prefixLen)
	}
}

func TestFrameCodecInvalidUTF8(t *testing.T) {
	c := NewFrameCodec()
	c.Feed([]byte{'{', '"', 0xff, '"', '}'})
	_, ok, err := c.Next()
	require.ErrorIs(t, err, ErrInvalidUTF8)
	require.False(t, ok)
}

func TestEncodeFrameIsVerbatim(t *testing.T) {
	in := []byte(`{"a":1}`)
	out := EncodeFrame(in)
	require.Equal(t, in, out)
	// EncodeFrame must copy, not alias, the input.
	out[0] = 'X'
	require.Equal(t, byte('{'), in[0])
}
