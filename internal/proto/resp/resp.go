// Package resp implements the Redis RESP request and response state
// machines described in spec.md §4.6, including arity classification,
// hash-tag key extraction, and multi-key fragmentation.
package resp

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/lukluk/rendang/internal/hashkit"
	"github.com/lukluk/rendang/internal/msg"
	"github.com/lukluk/rendang/internal/proto"
)

// Cmd enumerates the commands this proxy recognizes. Anything outside this
// set closes the connection with a parse error, per spec.md §6.
type Cmd int

const (
	Unknown Cmd = iota
	Ping
	Get
	Set
	Del
	Mget
	Mset
	Eval
	Evalsha
	Select
	Auth
	Exists
	Expire
	Incr
	Decr
	Append
	Getset
	Setex
	Other // recognized, single-key, generic pass-through
)

// Arity classifies a command's argument shape, driving key extraction.
type Arity int

const (
	ArgZ    Arity = iota // zero keys, answered locally when possible
	Arg0                 // no args
	Arg1                 // single key, no extra value args beyond it
	Arg2                 // key + 1 more arg
	Arg3                 // key + 2 more args
	ArgN                 // key + variable trailing args
	ArgX                 // variable-length list, every element a key (MGET, DEL)
	ArgKVX               // key/value pairs, every other element a key (MSET)
	ArgEval              // script, numkeys, then numkeys keys, then argv
)

type cmdInfo struct {
	cmd   Cmd
	arity Arity
}

var table = map[string]cmdInfo{
	"PING":    {Ping, ArgZ},
	"GET":     {Get, Arg1},
	"SET":     {Set, ArgN},
	"DEL":     {Del, ArgX},
	"MGET":    {Mget, ArgX},
	"MSET":    {Mset, ArgKVX},
	"EVAL":    {Eval, ArgEval},
	"EVALSHA": {Evalsha, ArgEval},
	"SELECT":  {Select, Arg1},
	"AUTH":    {Auth, Arg1},
	"EXISTS":  {Exists, ArgX},
	"EXPIRE":  {Expire, Arg2},
	"INCR":    {Incr, Arg1},
	"DECR":    {Decr, Arg1},
	"APPEND":  {Append, Arg2},
	"GETSET":  {Getset, Arg2},
	"SETEX":   {Setex, Arg3},
	"TYPE":    {Other, Arg1},
	"TTL":     {Other, Arg1},
	"PERSIST": {Other, Arg1},
	"HGET":    {Other, Arg2},
	"HSET":    {Other, Arg3},
	"HGETALL": {Other, Arg1},
	"LPUSH":   {Other, ArgN},
	"RPUSH":   {Other, ArgN},
	"LRANGE":  {Other, Arg3},
	"SADD":    {Other, ArgN},
	"SMEMBERS": {Other, Arg1},
	"ZADD":    {Other, ArgN},
	"ZRANGE":  {Other, Arg3},
	"SCAN":    {Other, ArgZ},
}

// classify resolves a command name (already upper-cased) to its cmdInfo,
// reporting false for unrecognized names, which callers turn into a parse
// error.
func classify(name string) (cmdInfo, bool) {
	info, ok := table[name]
	return info, ok
}

// Name returns the canonical command name for cmd, used to rebuild a
// per-backend fragment's command array.
func Name(cmd Cmd) string {
	for name, info := range table {
		if info.cmd == cmd {
			return name
		}
	}
	return ""
}

// HashTag is re-exported from hashkit so callers parsing RESP requests
// don't need a second import.
var HashTag = hashkit.HashTag

// bulk is one parsed RESP bulk string token.
type bulk struct {
	data []byte
	null bool
}

// ParseRequest parses one RESP array request from m's current position.
// On OK/Fragment it populates m.Type, m.Keys (raw + hash-tagged), and for
// ArgZ commands it may set m.NoForward/m.LocalReply.
func ParseRequest(m *msg.Msg, hashTag string) (proto.Result, int) {
	buf := proto.Flatten(m.Head)
	toks, consumed, res := parseMultibulk(buf)
	if res != proto.OK {
		if res == proto.Again && proto.TailFull(m.Head) {
			return proto.Repair, 0
		}
		return res, 0
	}
	if len(toks) == 0 {
		return proto.Err, 0
	}
	name := strings.ToUpper(string(toks[0].data))
	info, ok := classify(name)
	if !ok {
		return proto.Err, 0
	}
	m.Type = msg.CmdType(int(msg.CmdBaseRedis) + int(info.cmd))

	switch info.cmd {
	case Ping:
		m.NoForward = true
		if len(toks) > 1 {
			m.LocalReply = bulkReply(toks[1].data)
		} else {
			m.LocalReply = []byte("+PONG\r\n")
		}
		return proto.OK, consumed
	}

	args := toks[1:]
	keys := extractKeys(args, info.arity)
	for _, k := range keys {
		m.Keys = append(m.Keys, msg.Key{Raw: k, Tag: HashTag(k, hashTag)})
	}
	if info.arity == ArgKVX {
		// MSET's values ride along in m.Scratch, keyed by position, so the
		// pipeline can rebuild a "key value" pair per backend fragment;
		// Scratch is otherwise only used on the response side of a Msg.
		var vals [][]byte
		for i := 1; i < len(args); i += 2 {
			vals = append(vals, append([]byte(nil), args[i].data...))
		}
		m.Scratch = vals
	}

	if (info.arity == ArgX || info.arity == ArgKVX) && len(keys) > 1 {
		return proto.Fragment, consumed
	}
	return proto.OK, consumed
}

// MsetValues returns the value bytes stashed by ParseRequest for an MSET
// request, parallel to m.Keys.
func MsetValues(m *msg.Msg) [][]byte {
	v, _ := m.Scratch.([][]byte)
	return v
}

func bulkReply(b []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("$")
	buf.WriteString(strconv.Itoa(len(b)))
	buf.WriteString("\r\n")
	buf.Write(b)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

func extractKeys(args []bulk, arity Arity) [][]byte {
	var keys [][]byte
	switch arity {
	case ArgX:
		for _, a := range args {
			keys = append(keys, append([]byte(nil), a.data...))
		}
	case ArgKVX:
		for i := 0; i < len(args); i += 2 {
			keys = append(keys, append([]byte(nil), args[i].data...))
		}
	case ArgEval:
		if len(args) < 1 {
			return nil
		}
		n, err := strconv.Atoi(string(args[0].data))
		if err != nil || n <= 0 {
			return nil
		}
		for i := 1; i <= n && i < len(args); i++ {
			keys = append(keys, append([]byte(nil), args[i].data...))
		}
	case ArgZ, Arg0:
		// no key
	default:
		if len(args) > 0 {
			keys = append(keys, append([]byte(nil), args[0].data...))
		}
	}
	return keys
}

// parseMultibulk parses "*N\r\n$l1\r\n<b1>\r\n..." fully, returning its
// tokens and the number of bytes consumed. It reports Again when the
// buffer runs out mid-array; the caller maps that to Repair when the
// chain's tail chunk is full.
func parseMultibulk(buf []byte) ([]bulk, int, proto.Result) {
	if len(buf) == 0 || buf[0] != '*' {
		return nil, 0, proto.Again
	}
	lineEnd := bytes.Index(buf, []byte("\r\n"))
	if lineEnd < 0 {
		return nil, 0, proto.Again
	}
	n, err := strconv.Atoi(string(buf[1:lineEnd]))
	if err != nil {
		return nil, 0, proto.Err
	}
	pos := lineEnd + 2
	if n < 0 {
		return nil, pos, proto.OK // null array, no tokens
	}
	toks := make([]bulk, 0, n)
	for i := 0; i < n; i++ {
		if pos >= len(buf) || buf[pos] != '$' {
			if pos >= len(buf) {
				return nil, 0, proto.Again
			}
			return nil, 0, proto.Err
		}
		hdrEnd := bytes.Index(buf[pos:], []byte("\r\n"))
		if hdrEnd < 0 {
			return nil, 0, proto.Again
		}
		hdrEnd += pos
		blen, err := strconv.Atoi(string(buf[pos+1 : hdrEnd]))
		if err != nil {
			return nil, 0, proto.Err
		}
		if blen < 0 {
			toks = append(toks, bulk{null: true})
			pos = hdrEnd + 2
			continue
		}
		dataStart := hdrEnd + 2
		need := dataStart + blen + 2
		if len(buf) < need {
			return nil, 0, proto.Again
		}
		if buf[dataStart+blen] != '\r' || buf[dataStart+blen+1] != '\n' {
			return nil, 0, proto.Err
		}
		toks = append(toks, bulk{data: buf[dataStart : dataStart+blen]})
		pos = need
	}
	return toks, pos, proto.OK
}
