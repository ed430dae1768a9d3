package resp

import (
	"bytes"
	"strconv"

	"github.com/lukluk/rendang/internal/msg"
	"github.com/lukluk/rendang/internal/proto"
)

// RspKind classifies one parsed response value.
type RspKind int

const (
	RspUnknown RspKind = iota
	RspStatus
	RspError
	RspInteger
	RspBulk
	RspMultibulk
)

// ErrClass further classifies an error reply for the failure counter
// (spec.md §7): transient errors never trigger permanent ejection.
type ErrClass int

const (
	ErrOther ErrClass = iota
	ErrTransient
)

var transientPrefixes = [][]byte{
	[]byte("LOADING"),
	[]byte("BUSY"),
	[]byte("OOM"),
	[]byte("NOAUTH"),
}

// ClassifyError inspects a "-ERR ..." line's prefix (after the leading
// '-') to decide whether it counts as a transient backend failure.
func ClassifyError(line []byte) ErrClass {
	for _, p := range transientPrefixes {
		if bytes.HasPrefix(line, p) {
			return ErrTransient
		}
	}
	return ErrOther
}

// ParseResponse parses one RESP value (status, error, integer, bulk, or a
// possibly nested multibulk) starting at m's current position.
func ParseResponse(m *msg.Msg) (proto.Result, int) {
	buf := proto.Flatten(m.Head)
	n, consumed, kind, err := parseValue(buf)
	if err == errAgain {
		if proto.TailFull(m.Head) {
			return proto.Repair, 0
		}
		return proto.Again, 0
	}
	if err != nil {
		return proto.Err, 0
	}
	m.Scratch = kind
	m.VLen = n
	return proto.OK, consumed
}

// Kind returns the last parsed response's RspKind.
func Kind(m *msg.Msg) RspKind {
	if k, ok := m.Scratch.(RspKind); ok {
		return k
	}
	return RspUnknown
}

var errAgain = &parseErr{"again"}
var errMalformed = &parseErr{"malformed"}

type parseErr struct{ s string }

func (e *parseErr) Error() string { return e.s }

// parseValue returns (declaredLength, bytesConsumed, kind, err). For
// bulk strings declaredLength is the byte length (-1 for null); for
// multibulk it is the element count (-1 for null array); otherwise 0.
func parseValue(buf []byte) (int, int, RspKind, error) {
	if len(buf) == 0 {
		return 0, 0, RspUnknown, errAgain
	}
	switch buf[0] {
	case '+':
		return parseLine(buf, RspStatus)
	case '-':
		return parseLine(buf, RspError)
	case ':':
		n, consumed, kind, err := parseLine(buf, RspInteger)
		return n, consumed, kind, err
	case '$':
		return parseBulk(buf)
	case '*':
		return parseArray(buf)
	default:
		return 0, 0, RspUnknown, errMalformed
	}
}

func parseLine(buf []byte, kind RspKind) (int, int, RspKind, error) {
	end := bytes.Index(buf, []byte("\r\n"))
	if end < 0 {
		return 0, 0, kind, errAgain
	}
	n := 0
	if kind == RspInteger {
		v, err := strconv.Atoi(string(buf[1:end]))
		if err != nil {
			return 0, 0, kind, errMalformed
		}
		n = v
	}
	return n, end + 2, kind, nil
}

func parseBulk(buf []byte) (int, int, RspKind, error) {
	end := bytes.Index(buf, []byte("\r\n"))
	if end < 0 {
		return 0, 0, RspBulk, errAgain
	}
	blen, err := strconv.Atoi(string(buf[1:end]))
	if err != nil {
		return 0, 0, RspBulk, errMalformed
	}
	if blen < 0 {
		return -1, end + 2, RspBulk, nil // $-1\r\n null bulk
	}
	need := end + 2 + blen + 2
	if len(buf) < need {
		return 0, 0, RspBulk, errAgain
	}
	if buf[end+2+blen] != '\r' || buf[end+2+blen+1] != '\n' {
		return 0, 0, RspBulk, errMalformed
	}
	return blen, need, RspBulk, nil
}

func parseArray(buf []byte) (int, int, RspKind, error) {
	end := bytes.Index(buf, []byte("\r\n"))
	if end < 0 {
		return 0, 0, RspMultibulk, errAgain
	}
	n, err := strconv.Atoi(string(buf[1:end]))
	if err != nil {
		return 0, 0, RspMultibulk, errMalformed
	}
	pos := end + 2
	if n < 0 {
		return -1, pos, RspMultibulk, nil // *-1\r\n null array
	}
	for i := 0; i < n; i++ {
		_, consumed, _, err := parseValue(buf[pos:])
		if err != nil {
			return 0, 0, RspMultibulk, err
		}
		pos += consumed
	}
	return n, pos, RspMultibulk, nil
}
