package coapd

import (
	"time"

	"go.uber.org/atomic"
)

// PendingMessage is one slot of the retransmission table (§3). A slot is
// active iff a CON has been sent and neither an ACK nor exhausted retries
// has cleared it.
type PendingMessage struct {
	Active          bool
	MessageID       uint16
	Peer            Addr
	Bytes           []byte
	RetransmitCount int
	NextRetryMS     int64
}

// FailureFunc is invoked when a CON exhausts MaxRetransmits without an ACK.
// Cleanup (aborting a block transfer, charging a subscriber strike) is part
// of the contract (§4.3/§9).
type FailureFunc func(messageID uint16, peer Addr)

// SendFunc re-emits the original wire bytes to peer during a retry.
type SendFunc func(peer Addr, data []byte)

// ReliabilityEngine implements the RFC 7252 confirmable-message semantics:
// a fixed-size pending-message table, exponential-backoff retransmission,
// and ACK matching by (peer, Message ID). Matching on the pair rather than
// bare Message ID tolerates the same random 16-bit ID being in flight to
// two different peers at once, which the bare-ID-only wording of spec.md
// §4.3 doesn't rule out.
type ReliabilityEngine struct {
	slots          []PendingMessage
	ackTimeoutMS   int64
	maxRetransmits int
	onFailure      FailureFunc
	log            Logger

	activeCount atomic.Int64
}

// NewReliabilityEngine builds an engine with `capacity` slots (spec.md's
// MaxPendingMessages=10 suffices for this workload).
func NewReliabilityEngine(capacity int, ackTimeoutMS int64, maxRetransmits int, onFailure FailureFunc, log Logger) *ReliabilityEngine {
	return &ReliabilityEngine{
		slots:          make([]PendingMessage, capacity),
		ackTimeoutMS:   ackTimeoutMS,
		maxRetransmits: maxRetransmits,
		onFailure:      onFailure,
		log:            log,
	}
}

// Register copies wire bytes into a free slot and schedules the first
// retry at now+AckTimeout. It returns false when no slot is free — callers
// must check this return (§3 invariant, §7 PendingQueueFull).
func (e *ReliabilityEngine) Register(now int64, messageID uint16, peer Addr, data []byte) bool {
	for i := range e.slots {
		if e.slots[i].Active {
			continue
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		e.slots[i] = PendingMessage{
			Active:          true,
			MessageID:       messageID,
			Peer:            peer,
			Bytes:           cp,
			RetransmitCount: 0,
			NextRetryMS:     now + e.ackTimeoutMS,
		}
		e.activeCount.Inc()
		return true
	}
	logf(e.log, "reliability: register failed, table full (mid=%d peer=%s)", messageID, peer)
	return false
}

// Clear marks the matching (peer, messageID) slot inactive; a no-op if
// absent (already cleared, never registered, or a spurious duplicate ACK).
func (e *ReliabilityEngine) Clear(messageID uint16, peer Addr) bool {
	for i := range e.slots {
		if e.slots[i].Active && e.slots[i].MessageID == messageID && e.slots[i].Peer == peer {
			e.slots[i] = PendingMessage{}
			e.activeCount.Dec()
			return true
		}
	}
	return false
}

// Tick re-emits every slot whose retry deadline has passed, doubling its
// backoff (2s, 4s, 8s, 16s after the initial 2s send), and fires onFailure
// for slots that have exhausted MaxRetransmits (§4.3).
func (e *ReliabilityEngine) Tick(now int64, send SendFunc) {
	for i := range e.slots {
		slot := &e.slots[i]
		if !slot.Active || slot.NextRetryMS > now {
			continue
		}
		if slot.RetransmitCount >= e.maxRetransmits {
			logf(e.log, "reliability: exhausted retries (mid=%d peer=%s)", slot.MessageID, slot.Peer)
			messageID, peer := slot.MessageID, slot.Peer
			*slot = PendingMessage{}
			e.activeCount.Dec()
			if e.onFailure != nil {
				e.onFailure(messageID, peer)
			}
			continue
		}
		if send != nil {
			send(slot.Peer, slot.Bytes)
		}
		slot.RetransmitCount++
		backoff := e.ackTimeoutMS << uint(slot.RetransmitCount)
		slot.NextRetryMS = now + backoff
	}
}

// ActiveCount returns the number of pending CONs awaiting an ACK.
func (e *ReliabilityEngine) ActiveCount() int64 {
	return e.activeCount.Load()
}

// NowMS is the monotonic-millisecond clock helper every engine/registry in
// this package takes as an explicit `now`, so tests can drive time without
// sleeping (§5, Clock is an external collaborator per spec.md §1).
func NowMS(t time.Time) int64 {
	return t.UnixMilli()
}
