package coapd

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// StatusReporter builds a JSON diagnostic snapshot (pending count, active
// subscriber count, in-flight transfer counts) for a single structured log
// line at each prune tick. Grounded on the teacher's use of
// github.com/tidwall/sjson / gjson for ad-hoc JSON documents that don't
// warrant a fixed struct and a full marshal round trip.
type StatusReporter struct{}

// NewStatusReporter builds a StatusReporter. It is stateless; everything
// it summarizes is passed in at Snapshot time.
func NewStatusReporter() *StatusReporter {
	return &StatusReporter{}
}

// Snapshot builds the diagnostic JSON blob for one log line.
func (r *StatusReporter) Snapshot(engine *ReliabilityEngine, registry *ObserveRegistry, sender *BlockTransferSender, receiver *BlockTransferReceiver) []byte {
	doc := []byte("{}")
	doc, _ = sjson.SetBytes(doc, "pending", engine.ActiveCount())
	doc, _ = sjson.SetBytes(doc, "subscribers", registry.Count())
	doc, _ = sjson.SetBytes(doc, "sends_active", sender.ActiveCount())
	doc, _ = sjson.SetBytes(doc, "receives_active", receiver.ActiveCount())

	subs := registry.Active()
	seqs := make([]uint32, len(subs))
	for i, s := range subs {
		seqs[i] = s.Sequence
	}
	doc, _ = sjson.SetBytes(doc, "subscriber_sequences", seqs)
	return doc
}

// Field is a thin gjson.GetBytes wrapper so callers can assert on one
// field of a snapshot without re-parsing JSON by hand.
func (r *StatusReporter) Field(snapshot []byte, path string) gjson.Result {
	return gjson.GetBytes(snapshot, path)
}
