// Package proto defines the shared parse-result vocabulary used by both
// the memcached text parser (proto/memcache) and the Redis RESP parser
// (proto/resp), and the pipeline glue that drives the REPAIR/FRAGMENT
// dance described in spec.md §4.5/§4.10.
package proto

import "github.com/lukluk/rendang/internal/mbuf"

// Result is the outcome of one Parse call.
type Result int

const (
	// Again means more bytes are needed; the caller reads more and
	// resumes parsing from the same state.
	Again Result = iota
	// OK means one complete message ended at the returned offset.
	OK
	// Repair means a token ran off the end of the current mbuf; the
	// caller must compact the partial token into a fresh mbuf and
	// resume (spec.md "the REPAIR dance").
	Repair
	// Fragment means the request is a multi-key command whose
	// (potentially still incomplete) key list may span several
	// destination backends; the pipeline splits it key-by-key.
	Fragment
	// Err means the input is malformed.
	Err
)

// Flatten returns the unread bytes of an mbuf chain as a single slice. In
// the common case (a message living in one chunk, the default 16KiB)
// this is a zero-copy view; only when a message spans more than one
// chunk does it copy, which happens rarely — overlong pipelined commands
// or values near the chunk boundary.
func Flatten(head *mbuf.Mbuf) []byte {
	if head == nil {
		return nil
	}
	if head.Next() == nil {
		return head.Unread()
	}
	n := mbuf.Length(head)
	out := make([]byte, 0, n)
	for m := head; m != nil; m = m.Next() {
		out = append(out, m.Unread()...)
	}
	return out
}

// TailFull reports whether the chain's final chunk has no remaining
// write space, the condition that turns an "Again" into a "Repair".
func TailFull(head *mbuf.Mbuf) bool {
	if head == nil {
		return false
	}
	m := head
	for m.Next() != nil {
		m = m.Next()
	}
	return m.Size() == 0
}
