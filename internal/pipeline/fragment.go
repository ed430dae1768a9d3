package pipeline

import (
	"github.com/lukluk/rendang/internal/msg"
	"github.com/lukluk/rendang/internal/proto"
	"github.com/lukluk/rendang/internal/proto/memcache"
	"github.com/lukluk/rendang/internal/proto/resp"
	"github.com/lukluk/rendang/internal/rconn"
	"github.com/lukluk/rendang/internal/server"
)

// fragGroup is one destination backend's share of a fragmented request's
// keys, in the order they were first seen.
type fragGroup struct {
	srv  *server.Server
	keys [][]byte
	vals [][]byte // MSET only, parallel to keys
}

// buildFragmentGroups routes every key of a multi-key request to its
// backend and groups them by destination, preserving first-seen order,
// the same grouping strategy the reference proxy uses. It also records,
// per original key, which group it landed in and at what position within
// that group (msg.FragKeyRef), per spec.md §3's frag_seq bookkeeping —
// the only way to reconstruct original key order out of per-group replies
// once groups interleave keys from the original request.
func buildFragmentGroups(pool *server.Pool, owner *msg.Msg, vals [][]byte) ([]*fragGroup, []msg.FragKeyRef, error) {
	var groups []*fragGroup
	keySeq := make([]msg.FragKeyRef, len(owner.Keys))
	idx := make(map[*server.Server]int, len(owner.Keys))
	for i, k := range owner.Keys {
		srv, err := pool.Route(pool.RoutingKey(k.Raw))
		if err != nil {
			return nil, nil, err
		}
		gi, ok := idx[srv]
		if !ok {
			gi = len(groups)
			idx[srv] = gi
			groups = append(groups, &fragGroup{srv: srv})
		}
		g := groups[gi]
		keySeq[i] = msg.FragKeyRef{FragIndex: gi, Elem: len(g.keys)}
		g.keys = append(g.keys, k.Raw)
		if vals != nil {
			g.vals = append(g.vals, vals[i])
		}
	}
	return groups, keySeq, nil
}

// renderMemcacheFragment builds a memcached "get"/"gets" fragment line
// for the keys routed to one backend.
func renderMemcacheFragment(sub *msg.Msg, cmd memcache.Cmd, g *fragGroup) {
	sub.Append(memcache.RequestLine(cmd, g.keys))
}

// renderRespFragment builds a RESP array fragment (MGET/DEL/MSET) for the
// keys (and, for MSET, values) routed to one backend.
func renderRespFragment(sub *msg.Msg, cmd resp.Cmd, g *fragGroup) {
	name := resp.Name(cmd)
	if cmd == resp.Mset {
		args := make([][]byte, 0, 2*len(g.keys))
		for i, k := range g.keys {
			args = append(args, k)
			if i < len(g.vals) {
				args = append(args, g.vals[i])
			}
		}
		sub.Append(resp.BuildArray(name, args...))
		return
	}
	sub.Append(resp.BuildArray(name, g.keys...))
}

// dispatchFragmented splits a multi-key request into one sub-request per
// destination backend and forwards each, per spec.md §4.10 scenarios 2
// and 6. A routing failure aborts the whole request with a synthesized
// error rather than partially forwarding it.
func (p *Proxy) dispatchFragmented(pool *server.Pool, owner *msg.Msg) {
	var vals [][]byte
	redisMset := pool.Redis && resp.Cmd(int(owner.Type)-int(msg.CmdBaseRedis)) == resp.Mset
	if redisMset {
		vals = resp.MsetValues(owner)
	}
	groups, keySeq, err := buildFragmentGroups(pool, owner, vals)
	if err != nil {
		p.synthesizeError(owner, err)
		return
	}

	owner.FragID = msg.NextID()
	owner.NFrag = len(groups)
	owner.FragResults = make([][]byte, len(groups))
	owner.FragKeySeq = keySeq
	owner.FragElems = make([][][]byte, len(groups))
	owner.Frags = make([]*msg.Msg, 0, len(groups))

	memCmd := memcache.Cmd(int(owner.Type) - int(msg.CmdBaseMemcache))
	respCmd := resp.Cmd(int(owner.Type) - int(msg.CmdBaseRedis))

	for i, g := range groups {
		sub := msg.New(nil, true, pool.Redis, p.mbufPool)
		sub.Type = owner.Type
		sub.FragOwner = owner
		sub.FragIndex = i
		if pool.Redis {
			renderRespFragment(sub, respCmd, g)
		} else {
			renderMemcacheFragment(sub, memCmd, g)
		}
		owner.Frags = append(owner.Frags, sub)
		if err := p.forwardToServer(pool, g.srv, sub); err != nil {
			p.synthesizeError(owner, err)
			return
		}
	}
}

// resolveReply routes a parsed backend reply to the request that caused
// it: a fragment reply feeds the owner's coalesce bookkeeping, while a
// direct reply is paired straight onto the client's outstanding request.
func (p *Proxy) resolveReply(pool *server.Pool, req *msg.Msg, reply *msg.Msg) {
	if req.FragOwner != nil {
		p.resolveFragment(pool, req, reply)
		return
	}
	msg.Pair(req, reply)
	req.Done = true
	p.tmo.Delete(req)
	p.armClientSend(req)
}

func (p *Proxy) resolveFragment(pool *server.Pool, req *msg.Msg, reply *msg.Msg) {
	owner := req.FragOwner
	p.accumulateFragment(pool, owner, req, reply)
	owner.NFragDone++
	msg.Put(reply)
	msg.Put(req)
	if !owner.AllFragsDone() {
		return
	}
	if owner.FErr {
		p.synthesizeError(owner, errForward)
		return
	}
	final := p.coalesceFragments(pool, owner)
	msg.Pair(owner, final)
	owner.Done = true
	p.tmo.Delete(owner)
	p.armClientSend(owner)
}

// accumulateFragment strips one fragment's reply envelope and folds it
// into the owner's running coalesce state.
func (p *Proxy) accumulateFragment(pool *server.Pool, owner, req, reply *msg.Msg) {
	raw := proto.Flatten(reply.Head)
	if pool.Redis {
		switch resp.Cmd(int(owner.Type) - int(msg.CmdBaseRedis)) {
		case resp.Del:
			if n, err := resp.PreCoalesceDel(raw); err == nil {
				owner.FragSum += n
			}
		case resp.Mget:
			if elems, err := resp.PreCoalesceMget(raw); err == nil {
				owner.FragElems[req.FragIndex] = elems
			}
		}
		return
	}
	if memcache.IsMultiGet(memcache.Cmd(int(owner.Type) - int(msg.CmdBaseMemcache))) {
		owner.FragResults[req.FragIndex] = memcache.PreCoalesceGet(raw)
	}
}

// coalesceFragments renders the single combined reply for a completed
// fragment set and wraps it in a fresh Msg ready for clientSend.
func (p *Proxy) coalesceFragments(pool *server.Pool, owner *msg.Msg) *msg.Msg {
	var out []byte
	if pool.Redis {
		switch resp.Cmd(int(owner.Type) - int(msg.CmdBaseRedis)) {
		case resp.Del:
			out = resp.PostCoalesceDel(owner.FragSum)
		case resp.Mget:
			out = resp.PostCoalesceMget(p.orderedMgetElems(owner))
		case resp.Mset:
			out = resp.PostCoalesceMset()
		}
	} else {
		out = memcache.PostCoalesceGet(owner.FragResults)
	}
	final := msg.New(nil, false, pool.Redis, p.mbufPool)
	final.Append(out)
	return final
}

// orderedMgetElems reassembles an MGET owner's elements into original key
// order: for each key, it pulls the element its FragKeyRef points at out
// of the fragment that carried it, rather than trusting fragment-group
// (dispatch) order — see msg.Msg.FragKeySeq. A fragment whose reply never
// parsed (FragElems[i] left nil) or that answered with fewer elements than
// expected answers that key with a null bulk, checked explicitly here
// rather than assumed from FErr having been set upstream.
func (p *Proxy) orderedMgetElems(owner *msg.Msg) [][]byte {
	const nullBulk = "$-1\r\n"
	elems := make([][]byte, len(owner.FragKeySeq))
	for i, ref := range owner.FragKeySeq {
		group := owner.FragElems[ref.FragIndex]
		if ref.Elem >= len(group) {
			elems[i] = []byte(nullBulk)
			continue
		}
		elems[i] = group[ref.Elem]
	}
	return elems
}

// synthesizeError answers a request with a single protocol-appropriate
// error reply: after a routing or forwarding failure, a timeout, or a
// multi-key request one or more of whose fragments failed.
func (p *Proxy) synthesizeError(owner *msg.Msg, cause error) {
	var out []byte
	if owner.Redis {
		out = resp.SynthesizeError(cause.Error())
	} else {
		out = memcache.SynthesizeError(cause.Error())
	}
	reply := msg.New(nil, false, owner.Redis, p.mbufPool)
	reply.Append(out)
	reply.Error = true
	msg.Pair(owner, reply)
	owner.Done = true
	owner.Error = true
	p.tmo.Delete(owner)
	p.armClientSend(owner)
}

// armClientSend enables write-readiness on a request's owning client
// connection now that it (or its fragment set) is ready to send.
func (p *Proxy) armClientSend(req *msg.Msg) {
	c, ok := req.Owner.(*rconn.Conn)
	if !ok || c == nil || c.Closed {
		return
	}
	_ = c.EnableWrite()
}

// failRequest answers a request in flight with a synthesized error,
// unwinding fragment bookkeeping if it was part of a multi-key request;
// used for both timeout expiry and backend connection failure.
func (p *Proxy) failRequest(m *msg.Msg, cause error) {
	if owner := m.FragOwner; owner != nil {
		owner.FErr = true
		owner.NFragDone++
		msg.Put(m)
		if !owner.AllFragsDone() {
			return
		}
		if owner.Done {
			// the coalesced reply already went out between this
			// fragment's forward and its delayed failure arriving.
			return
		}
		p.synthesizeError(owner, cause)
		return
	}
	if m.Done {
		// already resolved (e.g. a NoForward reply waiting to be sent);
		// nothing to synthesize.
		return
	}
	p.synthesizeError(m, cause)
}
