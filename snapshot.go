package coapd

import (
	"os"

	"github.com/fxamacker/cbor/v2"
)

// SnapshotRecord is the on-disk CBOR shape of one Subscriber: just enough
// to re-register it after a restart. In-flight transfer file handles are
// deliberately not part of it — a restart always starts a transfer over.
type SnapshotRecord struct {
	Peer            Addr   `cbor:"peer"`
	Token           []byte `cbor:"token"`
	Sequence        uint32 `cbor:"sequence"`
	LastAckMS       int64  `cbor:"last_ack_ms"`
	TimeoutSessions int    `cbor:"timeout_sessions"`
}

// SnapshotStore periodically persists the ObserveRegistry subscriber table
// to a CBOR file and restores it on startup, so a server restart does not
// silently drop live subscriptions. Grounded on the teacher's
// `cbor_codec.go` use of github.com/fxamacker/cbor/v2.
type SnapshotStore struct {
	path string
	log  Logger
}

// NewSnapshotStore builds a store writing to path; an empty path disables
// the feature (Enabled reports false, Save/Load become no-ops).
func NewSnapshotStore(path string, log Logger) *SnapshotStore {
	return &SnapshotStore{path: path, log: log}
}

// Enabled reports whether a snapshot path was configured.
func (s *SnapshotStore) Enabled() bool {
	return s.path != ""
}

// Save CBOR-encodes subs to a temp file then renames it over path, so a
// crash mid-write never leaves a half-written snapshot — the same
// single-write-is-one-complete-object discipline the teacher's
// jsonToCBORWriter relies on.
func (s *SnapshotStore) Save(subs []*Subscriber) error {
	if !s.Enabled() {
		return nil
	}
	recs := make([]SnapshotRecord, len(subs))
	for i, sub := range subs {
		recs[i] = SnapshotRecord{
			Peer:            sub.Peer,
			Token:           sub.Token,
			Sequence:        sub.Sequence,
			LastAckMS:       sub.LastAckMS,
			TimeoutSessions: sub.TimeoutSessions,
		}
	}
	data, err := cbor.Marshal(recs)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load decodes the subscriber table from path. A missing, unreadable or
// corrupt file is not an error — it yields zero records, since a fresh
// server with no subscribers yet is the common case. An unreadable or
// corrupt file is logged as a warning; a missing file is not logged.
func (s *SnapshotStore) Load() ([]SnapshotRecord, error) {
	if !s.Enabled() {
		return nil, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		logf(s.log, "snapshot: reading %s: %s", s.path, err)
		return nil, nil
	}
	var recs []SnapshotRecord
	if err := cbor.Unmarshal(data, &recs); err != nil {
		logf(s.log, "snapshot: decoding %s: %s", s.path, err)
		return nil, nil
	}
	return recs, nil
}
