package memcache

import (
	"bytes"
	"strconv"

	"github.com/lukluk/rendang/internal/msg"
	"github.com/lukluk/rendang/internal/proto"
)

// RspKind classifies a memcached response line for the pipeline's
// pre/post-coalesce hooks.
type RspKind int

const (
	RspUnknown RspKind = iota
	RspValue           // VALUE <key> <flags> <bytes>[ <cas>]\r\n<data>\r\n, repeated, then END
	RspEnd
	RspStored
	RspNotStored
	RspExists
	RspNotFound
	RspDeleted
	RspError
	RspClientError
	RspServerError
	RspNumeric
)

var singleton = map[string]RspKind{
	"STORED\r\n":     RspStored,
	"NOT_STORED\r\n": RspNotStored,
	"EXISTS\r\n":     RspExists,
	"NOT_FOUND\r\n":  RspNotFound,
	"DELETED\r\n":    RspDeleted,
	"ERROR\r\n":      RspError,
	"END\r\n":        RspEnd,
}

// ParseResponse parses one memcached response unit starting at m's current
// position. A "get"/"gets" response may stream multiple VALUE blocks
// terminated by END; each call consumes exactly one VALUE block or one
// terminal/singleton line, leaving the caller to loop until END (or a
// singleton) is reached. VLen and Keys[0] are populated for VALUE blocks.
func ParseResponse(m *msg.Msg) (proto.Result, int) {
	buf := proto.Flatten(m.Head)
	lineEnd := bytes.Index(buf, []byte("\r\n"))
	if lineEnd < 0 {
		if proto.TailFull(m.Head) {
			return proto.Repair, 0
		}
		return proto.Again, 0
	}
	line := buf[:lineEnd+2]

	if kind, ok := singleton[string(line)]; ok {
		m.VLen = 0
		setKind(m, kind)
		return proto.OK, lineEnd + 2
	}
	if bytes.HasPrefix(line, []byte("CLIENT_ERROR")) {
		setKind(m, RspClientError)
		return proto.OK, lineEnd + 2
	}
	if bytes.HasPrefix(line, []byte("SERVER_ERROR")) {
		setKind(m, RspServerError)
		return proto.OK, lineEnd + 2
	}
	if bytes.HasPrefix(line, []byte("VALUE ")) {
		fields := bytes.Fields(line[:lineEnd])
		if len(fields) < 4 {
			return proto.Err, 0
		}
		nbytes, err := strconv.Atoi(string(fields[3]))
		if err != nil || nbytes < 0 {
			return proto.Err, 0
		}
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
		m.Keys = append(m.Keys, msg.Key{Raw: append([]byte(nil), fields[1]...)})
		m.VLen = nbytes
		setKind(m, RspValue)
		return proto.OK, need
	}
	// A bare numeric line answers incr/decr.
	trimmed := bytes.TrimSpace(line)
	if _, err := strconv.ParseInt(string(trimmed), 10, 64); err == nil {
		setKind(m, RspNumeric)
		return proto.OK, lineEnd + 2
	}
	return proto.Err, 0
}

func setKind(m *msg.Msg, k RspKind) {
	m.Scratch = k
}

// Kind returns the last parsed response line's kind.
func Kind(m *msg.Msg) RspKind {
	if k, ok := m.Scratch.(RspKind); ok {
		return k
	}
	return RspUnknown
}
