// Package msg implements the parsed protocol message: an mbuf chain plus
// parser cursor, routing keys, fragmentation bookkeeping and the flags that
// drive the request/response pipeline.
package msg

import (
	"container/list"
	"sync/atomic"

	"github.com/lukluk/rendang/internal/mbuf"
)

// CmdType is a closed enum of recognized memcached and Redis commands. Each
// protocol package defines its own range of constants.
type CmdType int

const (
	CmdUnknown CmdType = iota
	CmdBaseMemcache
	CmdBaseRedis CmdType = 1000
)

// Key is a routing key extracted from the message. Raw holds the full key
// bytes as they appear on the wire; Tag holds the hash-tag-reduced routing
// key (equal to Raw when no hash tag is configured or none is present).
type Key struct {
	Raw []byte
	Tag []byte
}

// FragKeyRef locates, for one of an owner's original keys, which fragment
// carries its reply (an index into Frags/FragResults/FragElems) and that
// element's position within that fragment's own reply.
type FragKeyRef struct {
	FragIndex int
	Elem      int
}

var idSeq uint64

// NextID returns a fresh monotonic message id.
func NextID() uint64 { return atomic.AddUint64(&idSeq, 1) }

// Msg is a parsed request or response.
type Msg struct {
	ID   uint64
	Pool *mbuf.Pool

	Request bool // true: request, false: response
	Redis   bool // true: RESP, false: memcached text

	Head *mbuf.Mbuf // mbuf chain holding on-wire bytes
	tail *mbuf.Mbuf

	// Parser state: a small integer plus protocol-specific scratch. The
	// concrete parser (proto/memcache or proto/resp) owns the meaning of
	// State and Scratch; msg only carries them between feed() calls.
	State   int
	Scratch interface{}

	Type CmdType
	Keys []Key
	VLen int // response payload length, when known

	NoReply    bool
	NoForward  bool   // locally answered (e.g. Redis PING), never sent to a backend
	LocalReply []byte // the reply bytes to send when NoForward is set
	Quit       bool
	Swallow    bool
	Done       bool // response has arrived (or request locally completed)
	Error      bool
	Err        error

	// Fragmentation (owner side). FragResults holds each fragment's
	// processed reply bytes, indexed by its position in Frags; memcached
	// GET coalescing renders these in backend-group order since its VALUE
	// blocks are self-keyed and order-independent on the wire. FragKeySeq
	// and FragElems exist for protocols where the reply is positional
	// (RESP MGET): FragKeySeq maps each of Keys' original indices to
	// where its element lands once fragments return, and FragElems holds
	// each fragment's reply pre-split into individual elements, so the
	// pipeline can reassemble them back into original key order
	// regardless of which backend-group order they were dispatched in.
	FragID      uint64
	NFrag       int
	NFragDone   int
	FErr        bool
	Frags       []*Msg
	FragResults [][]byte
	FragKeySeq  []FragKeyRef
	FragElems   [][][]byte
	FragSum     int64 // running total for DEL's integer-sum coalesce

	// Fragmentation (fragment side).
	FragOwner *Msg
	FragIndex int

	Peer *Msg // paired request<->response

	// Owner is an opaque back-reference to the connection the message was
	// read from or is destined for (a *rconn.Conn in practice); msg cannot
	// name that type directly without an import cycle, so the pipeline
	// type-asserts it back.
	Owner interface{}

	// BackendConn is an opaque back-reference (a *rconn.Conn in practice)
	// to the server connection this request was forwarded to — set on a
	// single-dispatch request itself, or on each of an owner's Frags. It
	// lets a deadline expiry find and close the exact backend connection
	// still holding the request, instead of erroring it in place while it
	// may still be linked into that connection's send/outstanding queue.
	BackendConn interface{}

	// Queue membership: each msg tracks its own list element so removal
	// from any of the three queues it can occupy is O(1).
	ClientOutstandingElem *list.Element
	ServerInboundElem     *list.Element
	ServerOutstandingElem *list.Element

	// Timeout index bookkeeping, set by the timeout package.
	TmoHeapIndex int
	TmoDeadline  int64 // unix milliseconds, 0 = not scheduled
}

// Pair links req and rsp to each other.
func Pair(req, rsp *Msg) {
	req.Peer = rsp
	rsp.Peer = req
}

// Empty reports whether the message carries no mbuf payload at all.
func Empty(m *Msg) bool { return m.Head == nil || mbuf.Length(m.Head) == 0 }

// New allocates a zeroed message bound to owner, with a fresh id.
func New(owner interface{}, isRequest, isRedis bool, pool *mbuf.Pool) *Msg {
	return &Msg{
		ID:      NextID(),
		Pool:    pool,
		Request: isRequest,
		Redis:   isRedis,
		Owner:   owner,
	}
}

// Put releases m's mbuf chain back to the pool. m itself is left for the
// garbage collector — a process-wide free list of Msg structs is not worth
// the complexity in a language with cheap allocation (see DESIGN.md).
func Put(m *Msg) {
	if m.Head != nil {
		m.Pool.Put(m.Head)
		m.Head, m.tail = nil, nil
	}
}

// Append writes all of data into the message's tail mbuf, allocating
// a fresh chunk and linking it in if the current tail is full.
func (m *Msg) Append(data []byte) {
	for len(data) > 0 {
		if m.tail == nil || m.tail.Size() == 0 {
			next := m.Pool.Get()
			if m.Head == nil {
				m.Head = next
			} else {
				mbuf.Insert(m.Head, next)
			}
			m.tail = next
		}
		n := mbuf.Copy(m.tail, data, len(data))
		if n == 0 {
			// Defensive: a freshly allocated chunk always has room for at
			// least one byte given DefaultChunkSize bounds; this can only
			// be reached with a pathological chunk size of 0.
			break
		}
		data = data[n:]
	}
}

// PrependFormat prepends formatted bytes as a new head mbuf, used to glue
// a reconstructed command envelope (e.g. "*N\r\n$4\r\nmget\r\n...") onto a
// per-backend fragment after its keys were appended.
func (m *Msg) PrependFormat(data []byte) {
	head := m.Pool.Get()
	mbuf.Copy(head, data, len(data))
	head.SetNext(m.Head)
	if m.Head == nil {
		m.tail = head
	}
	m.Head = head
}

// AdoptChain makes head (and its tail) m's mbuf chain, e.g. the leftover
// bytes split off a pipelined request that belong to the next one.
func (m *Msg) AdoptChain(head *mbuf.Mbuf) {
	m.Head = head
	m.tail = head
	for m.tail != nil && m.tail.Next() != nil {
		m.tail = m.tail.Next()
	}
}

// Iovecs returns the message's unread bytes as a scatter-gather list,
// skipping already fully-consumed chunks.
func (m *Msg) Iovecs() [][]byte {
	var out [][]byte
	for c := m.Head; c != nil; c = c.Next() {
		if c.Length() > 0 {
			out = append(out, c.Unread())
		}
	}
	return out
}

// Remaining returns the total unread byte count across the chain.
func (m *Msg) Remaining() int {
	if m.Head == nil {
		return 0
	}
	return mbuf.Length(m.Head)
}

// Consume advances the read cursor n bytes across the chain.
func (m *Msg) Consume(n int) { mbuf.ConsumeN(m.Head, n) }

// AllFragsDone reports whether every fragment of a split request has
// completed (successfully or with error).
func (m *Msg) AllFragsDone() bool { return m.NFrag > 0 && m.NFragDone == m.NFrag }
