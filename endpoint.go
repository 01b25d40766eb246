package coapd

import (
	"context"
	"time"

	"go.uber.org/atomic"
)

// TriggerKind distinguishes the two notify calls the hosting environment
// uses to report a hardware event (§6).
type TriggerKind int

const (
	TriggerByte TriggerKind = iota
	TriggerText
)

// Trigger is one notification-input event (a button press or similar)
// reduced to its CoAP-relevant payload (§6).
type Trigger struct {
	Resource string
	Kind     TriggerKind
	Byte     byte
	Text     string
}

// Endpoint owns the single-threaded cooperative event loop (§5): one
// goroutine services the UDP transport, the monotonic clock tick, and the
// notification-trigger input. Every other component's state is touched
// only from this goroutine; the transport's read loop is the one
// concession to blocking I/O, handing decoded datagrams over a channel.
type Endpoint struct {
	cfg       Config
	transport *Transport
	clock     Clock
	engine    *ReliabilityEngine
	registry  *ObserveRegistry
	sender    *BlockTransferSender
	receiver  *BlockTransferReceiver
	client    *Client
	dispatch  *Dispatcher
	resources *Resources
	snapshot  *SnapshotStore
	status    *StatusReporter
	triggers  chan Trigger
	log       Logger

	mid atomic.Uint32
}

// NewEndpoint wires every component from cfg, matching the data flow in
// §2: Codec -> Dispatcher -> {DuplicateDetector, ResourceHandler}, with the
// ReliabilityEngine and ObserveRegistry shared across both directions.
func NewEndpoint(cfg Config, fs Filesystem, log Logger) (*Endpoint, error) {
	transport, err := NewTransport(cfg.ListenAddr, log)
	if err != nil {
		return nil, err
	}

	registry := NewObserveRegistry(cfg.MaxSubscribers, cfg.TimeoutThreshold, cfg.subscriberTimeout().Milliseconds(), log)
	sender := NewBlockTransferSender(log)
	receiver := NewBlockTransferReceiver(fs, log)
	resources := NewResources(fs, cfg.TextFilePath, cfg.ImageFilePath, registry, log)

	ep := &Endpoint{
		cfg:       cfg,
		transport: transport,
		clock:     NewSystemClock(),
		registry:  registry,
		sender:    sender,
		receiver:  receiver,
		resources: resources,
		snapshot:  NewSnapshotStore(cfg.SnapshotPath, log),
		status:    NewStatusReporter(),
		triggers:  make(chan Trigger, 16),
		log:       log,
	}
	ep.engine = NewReliabilityEngine(cfg.MaxPendingMessages, cfg.ackTimeout().Milliseconds(), cfg.MaxRetransmits, ep.onRetransmitFailure, log)
	ep.dispatch = NewDispatcher(cfg.RecentMsgHistory, ep.engine, registry, sender, receiver, log)
	RegisterRoutes(ep.dispatch, resources)
	// the client role shares this same engine/receiver pair with the
	// server role above, per §1's "symmetric between server and client
	// roles... both share the same message engine ... and block-transfer
	// state machine".
	ep.client = NewClient(ep.engine, receiver, log)
	return ep, nil
}

// FetchFile starts the client role's block-wise download of remotePath on
// peer into localPath (§2 "Data flow (client role)"): it builds the
// initial GET, registers it with the reliability engine, and sends it.
// Subsequent blocks are requested automatically from Run's event loop as
// each ACK carrying Block2 arrives.
func (e *Endpoint) FetchFile(peer Addr, remotePath, localPath string, imageQuery bool) error {
	now := e.clock.NowMS()
	data, err := e.client.GetFile(peer, remotePath, localPath, imageQuery, now)
	if err != nil {
		return err
	}
	e.transport.Send(peer, data)
	return nil
}

// onRetransmitFailure is the ReliabilityEngine's FailureFunc (§4.3/§9): it
// aborts any file transfer routed to the peer and charges a subscriber
// strike, the mandatory cleanup §5 requires on retransmit exhaustion.
func (e *Endpoint) onRetransmitFailure(messageID uint16, peer Addr) {
	logf(e.log, "endpoint: retransmit exhausted mid=%d peer=%s", messageID, peer)
	e.sender.Abort(peer)
	e.registry.IncrementStrike(peer)
}

// NotifyByte reports a one-byte trigger event for resource ("buttons") to
// the event loop — the `notify_byte` call of §6.
func (e *Endpoint) NotifyByte(resource string, b byte) {
	e.triggers <- Trigger{Resource: resource, Kind: TriggerByte, Byte: b}
}

// NotifyText reports a short ASCII trigger event — the `notify_text` call
// of §6.
func (e *Endpoint) NotifyText(resource string, text string) {
	e.triggers <- Trigger{Resource: resource, Kind: TriggerText, Text: text}
}

// Resources exposes the shared resource state, e.g. for a caller seeding
// actuator state before Run starts.
func (e *Endpoint) Resources() *Resources {
	return e.resources
}

// Run services the event loop until ctx is cancelled (§5).
func (e *Endpoint) Run(ctx context.Context) error {
	if e.snapshot.Enabled() {
		recs, err := e.snapshot.Load()
		if err != nil {
			logf(e.log, "endpoint: snapshot load failed: %s", err)
		}
		e.restoreSubscribers(recs)
	}

	go e.transport.Serve()
	defer e.transport.Close()

	pruneTicker := time.NewTicker(e.cfg.pruneInterval())
	defer pruneTicker.Stop()
	snapshotTicker := time.NewTicker(e.cfg.snapshotInterval())
	defer snapshotTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case dgram := <-e.transport.Inbound():
			now := e.clock.NowMS()
			var (
				data []byte
				ok   bool
			)
			if e.client.Active(dgram.Peer) {
				// a download we initiated: route the response through the
				// client role instead of the server dispatcher (§2 "Data
				// flow (client role)").
				data, ok = e.client.HandleResponse(dgram.Data, dgram.Peer, now)
			} else {
				data, ok = e.dispatch.Dispatch(dgram.Data, dgram.Peer, now)
			}
			if ok {
				e.transport.Send(dgram.Peer, data)
			}

		case t := <-pruneTicker.C:
			now := t.UnixMilli()
			e.engine.Tick(now, e.transport.Send)
			removed := e.registry.Prune(now)
			for _, peer := range removed {
				e.sender.Abort(peer)
				e.receiver.Abort(peer)
			}
			logf(e.log, "endpoint: status %s", e.status.Snapshot(e.engine, e.registry, e.sender, e.receiver))

		case <-snapshotTicker.C:
			if e.snapshot.Enabled() {
				if err := e.snapshot.Save(e.registry.Active()); err != nil {
					logf(e.log, "endpoint: snapshot save failed: %s", err)
				}
			}

		case trig := <-e.triggers:
			e.handleTrigger(trig)
		}
	}
}

// handleTrigger applies one notification-input event to resource state and
// broadcasts the result to active subscribers (§6).
func (e *Endpoint) handleTrigger(t Trigger) {
	switch t.Resource {
	case "buttons":
		if t.Kind == TriggerByte {
			e.resources.Buttons.SetFromByte(t.Byte)
		}
		e.broadcastButtons()
	default:
		logf(e.log, "endpoint: trigger for unknown resource %q", t.Resource)
	}
}

// broadcastButtons pushes a CON notification carrying the current
// `buttons` state to every subscriber, in strictly increasing
// per-subscriber sequence order (§4.7/§8).
func (e *Endpoint) broadcastButtons() {
	now := e.clock.NowMS()
	payload := []byte(e.resources.Buttons.Format())
	for _, sub := range e.registry.Active() {
		seq := e.registry.NextSequence(sub)
		msg := NewMessage(CON, Content2_05, e.nextMessageID(), sub.Token)
		msg.Options.SetUint(OptObserve, seq)
		msg.Payload = payload

		buf := make([]byte, ResponseBufferSize)
		n, err := Build(msg, buf)
		if err != nil {
			logf(e.log, "endpoint: notification to %s too large: %s", sub.Peer, err)
			continue
		}
		if !e.engine.Register(now, msg.MessageID, sub.Peer, buf[:n]) {
			logf(e.log, "endpoint: pending table full, dropping notification to %s", sub.Peer)
			continue
		}
		e.transport.Send(sub.Peer, buf[:n])
	}
}

func (e *Endpoint) restoreSubscribers(recs []SnapshotRecord) {
	now := e.clock.NowMS()
	for _, rec := range recs {
		sub, err := e.registry.Register(rec.Peer, rec.Token, now)
		if err != nil {
			continue
		}
		sub.Sequence = rec.Sequence
		sub.LastAckMS = rec.LastAckMS
		sub.TimeoutSessions = rec.TimeoutSessions
	}
}

func (e *Endpoint) nextMessageID() uint16 {
	return uint16(e.mid.Inc())
}
