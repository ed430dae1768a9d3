// Package memcache implements the memcached ASCII text protocol request
// and response state machines described in spec.md §4.5.
package memcache

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/lukluk/rendang/internal/msg"
	"github.com/lukluk/rendang/internal/proto"
)

// Cmd enumerates the recognized memcached commands.
type Cmd int

const (
	Unknown Cmd = iota
	Get
	Gets
	Set
	Add
	Replace
	Append
	Prepend
	Cas
	Delete
	Incr
	Decr
	Quit
)

const maxKeyLen = 250

var verbs = map[string]Cmd{
	"get":     Get,
	"gets":    Gets,
	"set":     Set,
	"add":     Add,
	"replace": Replace,
	"append":  Append,
	"prepend": Prepend,
	"cas":     Cas,
	"delete":  Delete,
	"incr":    Incr,
	"decr":    Decr,
	"quit":    Quit,
}

// HasStorageBody reports whether cmd carries a trailing "<data>\r\n" block.
func HasStorageBody(c Cmd) bool {
	switch c {
	case Set, Add, Replace, Append, Prepend, Cas:
		return true
	}
	return false
}

// IsMultiGet reports whether cmd can carry more than one key.
func IsMultiGet(c Cmd) bool { return c == Get || c == Gets }

func validKey(k []byte) bool {
	if len(k) == 0 || len(k) > maxKeyLen {
		return false
	}
	for _, b := range k {
		if b <= ' ' || b == 0x7f {
			return false
		}
	}
	return true
}

// ParseRequest advances parsing of m from its current position. It
// returns the outcome and, for OK/Fragment, the number of bytes of the
// unread region that the complete (first, for Fragment) request occupies.
func ParseRequest(m *msg.Msg) (proto.Result, int) {
	buf := proto.Flatten(m.Head)
	lineEnd := bytes.Index(buf, []byte("\r\n"))
	if lineEnd < 0 {
		if proto.TailFull(m.Head) {
			return proto.Repair, 0
		}
		return proto.Again, 0
	}
	line := buf[:lineEnd]
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return proto.Err, 0
	}
	verb := string(bytes.ToLower(fields[0]))
	cmd, ok := verbs[verb]
	if !ok {
		return proto.Err, 0
	}
	m.Type = msg.CmdType(int(msg.CmdBaseMemcache) + int(cmd))

	if cmd == Quit {
		m.Quit = true
		return proto.OK, lineEnd + 2
	}

	switch {
	case IsMultiGet(cmd):
		return parseGet(m, fields[1:], lineEnd)
	case HasStorageBody(cmd):
		return parseStorage(m, cmd, fields[1:], buf, lineEnd)
	case cmd == Delete:
		return parseSimpleKeyed(m, fields[1:], lineEnd)
	case cmd == Incr, cmd == Decr:
		return parseSimpleKeyed(m, fields[1:], lineEnd)
	}
	return proto.Err, 0
}

func parseGet(m *msg.Msg, keys [][]byte, lineEnd int) (proto.Result, int) {
	if len(keys) == 0 {
		return proto.Err, 0
	}
	for _, k := range keys {
		if !validKey(k) {
			return proto.Err, 0
		}
		m.Keys = append(m.Keys, msg.Key{Raw: append([]byte(nil), k...)})
	}
	if len(keys) > 1 {
		return proto.Fragment, lineEnd + 2
	}
	return proto.OK, lineEnd + 2
}

func parseSimpleKeyed(m *msg.Msg, args [][]byte, lineEnd int) (proto.Result, int) {
	if len(args) == 0 || !validKey(args[0]) {
		return proto.Err, 0
	}
	m.Keys = append(m.Keys, msg.Key{Raw: append([]byte(nil), args[0]...)})
	if len(args) > 1 && string(bytes.ToLower(args[len(args)-1])) == "noreply" {
		m.NoReply = true
	}
	return proto.OK, lineEnd + 2
}

func parseStorage(m *msg.Msg, cmd Cmd, args [][]byte, buf []byte, lineEnd int) (proto.Result, int) {
	// args is key, flags, exptime, bytes[, casid][, noreply].
	minArgs := 4
	if cmd == Cas {
		minArgs = 5
	}
	if len(args) < minArgs {
		return proto.Err, 0
	}
	key := args[0]
	if !validKey(key) {
		return proto.Err, 0
	}
	byteLenIdx := 3
	nbytes, err := strconv.Atoi(string(args[byteLenIdx]))
	if err != nil || nbytes < 0 {
		return proto.Err, 0
	}
	noreplyIdx := byteLenIdx + 1
	if cmd == Cas {
		noreplyIdx++
	}
	if len(args) > noreplyIdx && string(bytes.ToLower(args[noreplyIdx])) == "noreply" {
		m.NoReply = true
	}
	m.Keys = append(m.Keys, msg.Key{Raw: append([]byte(nil), key...)})

	dataStart := lineEnd + 2
	need := dataStart + nbytes + 2
	if len(buf) < need {
		if proto.TailFull(m.Head) {
			return proto.Repair, 0
		}
		return proto.Again, 0
	}
	if buf[dataStart+nbytes] != '\r' || buf[dataStart+nbytes+1] != '\n' {
		return proto.Err, 0
	}
	return proto.OK, need
}

// Verb returns the lowercase command verb for cmd, used to rebuild a
// per-backend fragment's request line.
func Verb(cmd Cmd) string {
	for v, c := range verbs {
		if c == cmd {
			return v
		}
	}
	return ""
}

// RequestLine re-renders "<verb> <key1> <key2> ...\r\n" for a fragment.
func RequestLine(cmd Cmd, keys [][]byte) []byte {
	var b bytes.Buffer
	b.WriteString(Verb(cmd))
	for _, k := range keys {
		b.WriteByte(' ')
		b.Write(k)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// ErrorLine renders a protocol-level error response.
func ErrorLine(kind string, detail string) []byte {
	if detail == "" {
		return []byte(kind + "\r\n")
	}
	return []byte(fmt.Sprintf("%s %s\r\n", kind, detail))
}
