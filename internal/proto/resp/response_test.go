package resp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukluk/rendang/internal/mbuf"
	"github.com/lukluk/rendang/internal/msg"
	"github.com/lukluk/rendang/internal/proto"
)

func newRsp(pool *mbuf.Pool, data string) *msg.Msg {
	m := msg.New(nil, false, true, pool)
	m.Append([]byte(data))
	return m
}

func TestParseResponseStatus(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newRsp(pool, "+OK\r\n")
	res, n := ParseResponse(m)
	require.Equal(t, proto.OK, res)
	assert.Equal(t, 5, n)
	assert.Equal(t, RspStatus, Kind(m))
}

func TestParseResponseError(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newRsp(pool, "-ERR wrong type\r\n")
	res, _ := ParseResponse(m)
	require.Equal(t, proto.OK, res)
	assert.Equal(t, RspError, Kind(m))
}

func TestParseResponseInteger(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newRsp(pool, ":42\r\n")
	res, _ := ParseResponse(m)
	require.Equal(t, proto.OK, res)
	assert.Equal(t, RspInteger, Kind(m))
	assert.Equal(t, 42, m.VLen)
}

func TestParseResponseBulkAndNullBulk(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newRsp(pool, "$3\r\nfoo\r\n")
	res, n := ParseResponse(m)
	require.Equal(t, proto.OK, res)
	assert.Equal(t, 9, n)
	assert.Equal(t, RspBulk, Kind(m))

	pool2 := mbuf.NewPool(256)
	m2 := newRsp(pool2, "$-1\r\n")
	res, _ = ParseResponse(m2)
	require.Equal(t, proto.OK, res)
	assert.Equal(t, -1, m2.VLen)
}

func TestParseResponseMultibulkNested(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newRsp(pool, "*2\r\n*1\r\n$1\r\na\r\n$1\r\nb\r\n")
	res, n := ParseResponse(m)
	require.Equal(t, proto.OK, res)
	assert.Equal(t, len("*2\r\n*1\r\n$1\r\na\r\n$1\r\nb\r\n"), n)
	assert.Equal(t, RspMultibulk, Kind(m))
}

func TestParseResponseIncompleteAgain(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newRsp(pool, "$10\r\nshort")
	res, _ := ParseResponse(m)
	assert.Equal(t, proto.Again, res)
}

func TestParseResponseMalformedByteErr(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newRsp(pool, "?garbage\r\n")
	res, _ := ParseResponse(m)
	assert.Equal(t, proto.Err, res)
}

func TestClassifyErrorTransientPrefixes(t *testing.T) {
	cases := map[string]ErrClass{
		"LOADING Redis is loading\r\n": ErrTransient,
		"BUSY script running\r\n":      ErrTransient,
		"OOM command not allowed\r\n":  ErrTransient,
		"NOAUTH auth required\r\n":     ErrTransient,
		"WRONGTYPE bad op\r\n":         ErrOther,
		"ERR generic\r\n":              ErrOther,
	}
	for line, want := range cases {
		assert.Equal(t, want, ClassifyError([]byte(line)), line)
	}
}
