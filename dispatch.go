package coapd

import "strings"

// ResponseBufferSize is the scratch buffer used to serialize one reply: one
// full 1024-byte block plus option overhead (§5).
const ResponseBufferSize = 1536

// HandlerFunc answers one request with a complete response Message (code,
// options, payload already set); the dispatcher only fills in Type,
// MessageID and Token to complete piggy-backed ACK semantics (§4.8 step f).
type HandlerFunc func(req *Message, peer Addr, now int64) *Message

// Route is one entry of the endpoint table: method, path, handler (§9 —
// "implement as a vector of (method, path_segments, handler), not via
// inheritance").
type Route struct {
	Method  uint8
	Path    string
	Handler HandlerFunc
}

type cachedResponse struct {
	peer Addr
	mid  uint16
	resp *Message
}

// Dispatcher is the state machine handling one inbound datagram (§4.8).
type Dispatcher struct {
	routes    []Route
	serverDup *DuplicateWindow
	lastResp  []cachedResponse // small ring, same capacity as serverDup
	nextCache int

	engine   *ReliabilityEngine
	registry *ObserveRegistry
	sender   *BlockTransferSender
	receiver *BlockTransferReceiver

	nonSeq   uint16
	blockSeq uint16
	log      Logger
}

// NewDispatcher wires a dispatcher over the shared reliability engine,
// observe registry, and block-transfer state machines (§2 data flow).
func NewDispatcher(capacity int, engine *ReliabilityEngine, registry *ObserveRegistry, sender *BlockTransferSender, receiver *BlockTransferReceiver, log Logger) *Dispatcher {
	return &Dispatcher{
		serverDup: NewDuplicateWindow(capacity),
		lastResp:  make([]cachedResponse, capacity),
		engine:    engine,
		registry:  registry,
		sender:    sender,
		receiver:  receiver,
		log:       log,
	}
}

// Handle registers one route. Table size is small (single-digit entries,
// §9); matching is a linear scan.
func (d *Dispatcher) Handle(method uint8, path string, h HandlerFunc) {
	d.routes = append(d.routes, Route{Method: method, Path: path, Handler: h})
}

// Dispatch processes one inbound datagram and returns the wire bytes to
// send back (if any) and whether to send them.
func (d *Dispatcher) Dispatch(data []byte, peer Addr, now int64) ([]byte, bool) {
	msg, err := Parse(data)
	if err != nil {
		// RFC 7252 forbids responding to a malformed message.
		logf(d.log, "dispatch: dropping malformed datagram from %s: %s", peer, err)
		return nil, false
	}

	if msg.Type == ACK || msg.Type == RST {
		next := d.handleAckOrReset(msg, peer, now)
		if next == nil {
			return nil, false
		}
		buf := make([]byte, ResponseBufferSize)
		n, err := Build(next, buf)
		if err != nil {
			logf(d.log, "dispatch: next block notification to %s did not fit: %s", peer, err)
			return nil, false
		}
		if !d.engine.Register(now, next.MessageID, peer, buf[:n]) {
			logf(d.log, "dispatch: pending table full, dropping next block to %s", peer)
			return nil, false
		}
		return buf[:n], true
	}

	skipDup := isFileGET(msg)
	if !skipDup {
		if d.serverDup.IsDuplicate(msg.MessageID) {
			if cached, ok := d.cachedFor(peer, msg.MessageID); ok {
				return d.serialize(cached, msg, now)
			}
			if msg.Type == CON {
				ack := msg.ResponseTo(ACK, CodeEmpty)
				return d.serialize(ack, msg, now)
			}
			return nil, false
		}
		d.serverDup.Record(msg.MessageID)
	}

	resp := d.route(msg, peer, now)
	if !skipDup {
		d.cacheResponse(peer, msg.MessageID, resp)
	}

	return d.serialize(resp, msg, now)
}

func (d *Dispatcher) route(msg *Message, peer Addr, now int64) *Message {
	route, ok := d.match(msg)
	if !ok {
		return msg.ResponseTo(CON, NotFound4_04)
	}
	resp := route.Handler(msg, peer, now)
	if resp == nil {
		resp = msg.ResponseTo(CON, ServiceUnavailable5_03)
	}
	return resp
}

func (d *Dispatcher) match(msg *Message) (Route, bool) {
	segments := pathSegments(msg.Options.Path())
	for _, r := range d.routes {
		if r.Method != msg.Code {
			continue
		}
		if matchSegments(r.Path, segments) {
			return r, true
		}
	}
	return Route{}, false
}

func matchSegments(routePath string, reqSegments []string) bool {
	routeSegments := pathSegments(routePath)
	if len(routeSegments) != len(reqSegments) {
		return false
	}
	for i := range routeSegments {
		if routeSegments[i] != reqSegments[i] {
			return false
		}
	}
	return true
}

func pathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// serialize finalizes a response for the wire: sets the piggy-backed ACK
// type/MID/Token for a CON request, or a fresh NON reply otherwise, then
// builds it into the scratch buffer (§4.8 step f, §5).
func (d *Dispatcher) serialize(resp *Message, req *Message, now int64) ([]byte, bool) {
	if req.Type == CON {
		resp.Type = ACK
		resp.MessageID = req.MessageID
	} else {
		resp.Type = NON
		resp.MessageID = d.nextNonID()
	}
	resp.Token = req.Token

	buf := make([]byte, ResponseBufferSize)
	n, err := Build(resp, buf)
	if err != nil {
		fallback := req.ResponseTo(resp.Type, BadRequest4_00)
		fallback.Payload = []byte("response too large for buffer")
		n2, err2 := Build(fallback, buf)
		if err2 != nil {
			logf(d.log, "dispatch: even the fallback response did not fit, dropping")
			return nil, false
		}
		return buf[:n2], true
	}
	return buf[:n], true
}

func (d *Dispatcher) nextNonID() uint16 {
	d.nonSeq++
	return d.nonSeq
}

func (d *Dispatcher) cachedFor(peer Addr, mid uint16) (*Message, bool) {
	for _, c := range d.lastResp {
		if c.resp != nil && c.peer == peer && c.mid == mid {
			return c.resp, true
		}
	}
	return nil, false
}

func (d *Dispatcher) cacheResponse(peer Addr, mid uint16, resp *Message) {
	d.lastResp[d.nextCache] = cachedResponse{peer: peer, mid: mid, resp: resp}
	d.nextCache = (d.nextCache + 1) % len(d.lastResp)
}

// handleAckOrReset routes an ACK/RST to the reliability engine, advances
// any outstanding block send for this peer, and refreshes Observe
// liveness (§4.8 step 2). When the ACK carries a Block2 option for a peer
// with an active send, it advances BlockTransferSender and returns the
// next block's notification for the caller to build, register, and send;
// nil otherwise.
func (d *Dispatcher) handleAckOrReset(msg *Message, peer Addr, now int64) *Message {
	cleared := d.engine.Clear(msg.MessageID, peer)
	if msg.Type == RST {
		// client has forgotten the observation (RFC 7641 §3.6).
		if d.sender != nil {
			d.sender.Abort(peer)
		}
		return nil
	}
	if !cleared {
		return nil
	}
	if d.registry != nil {
		d.registry.OnAck(peer, now)
	}

	if d.sender == nil || !d.sender.Active(peer) {
		return nil
	}
	if _, ok := msg.Options.Find(OptBlock2); !ok {
		return nil
	}
	var sequence uint32
	if d.registry != nil {
		if sub, ok := d.registry.Find(peer); ok {
			sequence = d.registry.NextSequence(sub)
		}
	}
	next, done, err := d.sender.Advance(peer, sequence, d.nextBlockID())
	if err != nil {
		logf(d.log, "dispatch: advancing block transfer to %s: %s", peer, err)
		return nil
	}
	if done {
		return nil
	}
	return next
}

func (d *Dispatcher) nextBlockID() uint16 {
	d.blockSeq++
	return d.blockSeq
}

// isFileGET implements the deliberate dispatcher policy carve-out from
// spec.md §4.8/§9: GET requests on /file skip duplicate detection because
// block-wise clients may reuse Message IDs across block iterations (this
// package's own Client takes a fresh Message ID per block). Every other
// route uses the RFC-correct cached-replay duplicate handling above (the
// resolution of Open Question 1 in DESIGN.md).
func isFileGET(msg *Message) bool {
	if msg.Code != CodeGET {
		return false
	}
	segs := pathSegments(msg.Options.Path())
	return len(segs) == 1 && segs[0] == "file"
}
