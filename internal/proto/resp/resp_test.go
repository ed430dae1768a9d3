package resp

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukluk/rendang/internal/mbuf"
	"github.com/lukluk/rendang/internal/msg"
	"github.com/lukluk/rendang/internal/proto"
)

func newReq(pool *mbuf.Pool, data string) *msg.Msg {
	m := msg.New(nil, true, true, pool)
	m.Append([]byte(data))
	return m
}

func arrayOf(parts ...string) string {
	s := "*" + strconv.Itoa(len(parts)) + "\r\n"
	for _, p := range parts {
		s += "$" + strconv.Itoa(len(p)) + "\r\n" + p + "\r\n"
	}
	return s
}

func TestParseRequestGetSingleKey(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newReq(pool, arrayOf("GET", "foo"))
	res, n := ParseRequest(m, "")
	require.Equal(t, proto.OK, res)
	assert.Equal(t, len(arrayOf("GET", "foo")), n)
	require.Len(t, m.Keys, 1)
	assert.Equal(t, "foo", string(m.Keys[0].Raw))
}

func TestParseRequestMgetFragments(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newReq(pool, arrayOf("MGET", "a", "b", "c"))
	res, _ := ParseRequest(m, "")
	require.Equal(t, proto.Fragment, res)
	require.Len(t, m.Keys, 3)
}

func TestParseRequestDelSingleKeyNoFragment(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newReq(pool, arrayOf("DEL", "a"))
	res, _ := ParseRequest(m, "")
	require.Equal(t, proto.OK, res)
	require.Len(t, m.Keys, 1)
}

func TestParseRequestMsetFragmentsWithValues(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newReq(pool, arrayOf("MSET", "k1", "v1", "k2", "v2"))
	res, _ := ParseRequest(m, "")
	require.Equal(t, proto.Fragment, res)
	require.Len(t, m.Keys, 2)
	vals := MsetValues(m)
	require.Len(t, vals, 2)
	assert.Equal(t, "v1", string(vals[0]))
	assert.Equal(t, "v2", string(vals[1]))
}

func TestParseRequestPingIsNoForward(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newReq(pool, arrayOf("PING"))
	res, _ := ParseRequest(m, "")
	require.Equal(t, proto.OK, res)
	assert.True(t, m.NoForward)
	assert.Equal(t, "+PONG\r\n", string(m.LocalReply))
}

func TestParseRequestPingWithMessage(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newReq(pool, arrayOf("PING", "hello"))
	res, _ := ParseRequest(m, "")
	require.Equal(t, proto.OK, res)
	assert.Equal(t, "$5\r\nhello\r\n", string(m.LocalReply))
}

func TestParseRequestHashTagAppliesToKeys(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newReq(pool, arrayOf("GET", "foo{bar}baz"))
	res, _ := ParseRequest(m, "{}")
	require.Equal(t, proto.OK, res)
	require.Len(t, m.Keys, 1)
	assert.Equal(t, "foo{bar}baz", string(m.Keys[0].Raw))
	assert.Equal(t, "bar", string(m.Keys[0].Tag))
}

func TestParseRequestUnknownCommandErr(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newReq(pool, arrayOf("BOGUS", "x"))
	res, _ := ParseRequest(m, "")
	assert.Equal(t, proto.Err, res)
}

func TestParseRequestIncompleteArrayAgain(t *testing.T) {
	pool := mbuf.NewPool(256)
	m := newReq(pool, "*2\r\n$3\r\nGET\r\n$3\r\nfo")
	res, _ := ParseRequest(m, "")
	assert.Equal(t, proto.Again, res)
}

func TestBuildArrayRoundTripsThroughParseRequest(t *testing.T) {
	pool := mbuf.NewPool(256)
	built := BuildArray(Name(Mget), []byte("x"), []byte("y"))
	m := newReq(pool, string(built))
	res, _ := ParseRequest(m, "")
	require.Equal(t, proto.Fragment, res)
	require.Len(t, m.Keys, 2)
	assert.Equal(t, "x", string(m.Keys[0].Raw))
	assert.Equal(t, "y", string(m.Keys[1].Raw))
}
