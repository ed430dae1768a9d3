package memcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreCoalesceGetStripsEnd(t *testing.T) {
	raw := []byte("VALUE a 0 1\r\nx\r\nEND\r\n")
	stripped := PreCoalesceGet(raw)
	assert.Equal(t, "VALUE a 0 1\r\nx\r\n", string(stripped))
}

func TestPreCoalesceGetWithoutEndIsUnchanged(t *testing.T) {
	raw := []byte("VALUE a 0 1\r\nx\r\n")
	assert.Equal(t, raw, PreCoalesceGet(raw))
}

func TestPostCoalesceGetConcatenatesAndTerminates(t *testing.T) {
	blocks := [][]byte{
		[]byte("VALUE a 0 1\r\nx\r\n"),
		[]byte("VALUE b 0 1\r\ny\r\n"),
	}
	out := PostCoalesceGet(blocks)
	assert.Equal(t, "VALUE a 0 1\r\nx\r\nVALUE b 0 1\r\ny\r\nEND\r\n", string(out))
}

func TestPostCoalesceGetEmptyStillTerminates(t *testing.T) {
	out := PostCoalesceGet(nil)
	assert.Equal(t, "END\r\n", string(out))
}

func TestSynthesizeErrorRendersServerError(t *testing.T) {
	out := SynthesizeError("backend unavailable")
	assert.Equal(t, "SERVER_ERROR backend unavailable\r\n", string(out))
}
