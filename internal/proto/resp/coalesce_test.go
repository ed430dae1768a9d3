package resp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreCoalesceDelParsesInteger(t *testing.T) {
	n, err := PreCoalesceDel([]byte(":3\r\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPreCoalesceDelRejectsNonInteger(t *testing.T) {
	_, err := PreCoalesceDel([]byte("+OK\r\n"))
	assert.Error(t, err)
}

func TestPostCoalesceDelRendersSum(t *testing.T) {
	assert.Equal(t, ":7\r\n", string(PostCoalesceDel(7)))
}

func TestPreCoalesceMgetSplitsElements(t *testing.T) {
	raw := []byte("*3\r\n$1\r\na\r\n$-1\r\n$1\r\nb\r\n")
	elems, err := PreCoalesceMget(raw)
	require.NoError(t, err)
	require.Len(t, elems, 3)
	assert.Equal(t, "$1\r\na\r\n", string(elems[0]))
	assert.Equal(t, "$-1\r\n", string(elems[1]))
	assert.Equal(t, "$1\r\nb\r\n", string(elems[2]))
}

func TestPreCoalesceMgetRejectsNonArray(t *testing.T) {
	_, err := PreCoalesceMget([]byte("+OK\r\n"))
	assert.Error(t, err)
}

func TestPostCoalesceMgetRewritesHeaderAndConcatenates(t *testing.T) {
	elems := [][]byte{[]byte("$1\r\na\r\n"), []byte("$1\r\nb\r\n")}
	out := PostCoalesceMget(elems)
	assert.Equal(t, "*2\r\n$1\r\na\r\n$1\r\nb\r\n", string(out))
}

func TestPostCoalesceMsetIsOK(t *testing.T) {
	assert.Equal(t, "+OK\r\n", string(PostCoalesceMset()))
}

func TestSynthesizeErrorRendersRespError(t *testing.T) {
	assert.Equal(t, "-ERR timeout\r\n", string(SynthesizeError("timeout")))
}
