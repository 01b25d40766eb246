package coapd

import "testing"

func TestObserveRegistryRegisterDeduplicates(t *testing.T) {
	r := NewObserveRegistry(5, 3, int64(3*60*60*1000), nil)
	a, err := r.Register("peer:1", []byte("tok"), 0)
	if err != nil {
		t.Fatalf("register: %s", err)
	}
	b, err := r.Register("peer:1", []byte("tok"), 100)
	if err != nil {
		t.Fatalf("second register: %s", err)
	}
	if a != b {
		t.Fatalf("same (peer, token) should reuse the same subscriber slot")
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 active subscriber, got %d", r.Count())
	}
}

func TestObserveRegistryFullSlots(t *testing.T) {
	r := NewObserveRegistry(1, 3, 1000, nil)
	if _, err := r.Register("peer:1", []byte("a"), 0); err != nil {
		t.Fatalf("first register should succeed: %s", err)
	}
	if _, err := r.Register("peer:2", []byte("b"), 0); err != ErrSubscriberSlotsFull {
		t.Fatalf("expected ErrSubscriberSlotsFull, got %v", err)
	}
}

func TestObserveSequenceMonotonic(t *testing.T) {
	r := NewObserveRegistry(5, 3, 1000, nil)
	sub, _ := r.Register("peer:1", []byte("tok"), 0)
	var seqs []uint32
	for i := 0; i < 5; i++ {
		seqs = append(seqs, r.NextSequence(sub))
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("sequence numbers must strictly increase: %v", seqs)
		}
	}
}

func TestObserveRegistryPruneAfterStrikes(t *testing.T) {
	r := NewObserveRegistry(5, 3, 1000, nil)
	sub, _ := r.Register("peer:1", []byte("tok"), 0)
	_ = sub

	now := int64(0)
	// Each strike requires exceeding the SubscriberTimeout window; 3
	// strikes cross TimeoutThreshold and prune the subscriber.
	for i := 0; i < 3; i++ {
		now += 1001
		removed := r.Prune(now)
		if i < 2 && len(removed) != 0 {
			t.Fatalf("should not prune before 3 strikes accumulate, iter=%d", i)
		}
		if i == 2 && len(removed) != 1 {
			t.Fatalf("expected the subscriber to be pruned on the 3rd strike, got %v", removed)
		}
	}
	if r.Count() != 0 {
		t.Fatalf("expected 0 active subscribers after pruning, got %d", r.Count())
	}
}

func TestObserveRegistryOnAckResetsStrikes(t *testing.T) {
	r := NewObserveRegistry(5, 3, 1000, nil)
	r.Register("peer:1", []byte("tok"), 0)
	r.Prune(1001) // 1 strike
	r.OnAck("peer:1", 1001)
	sub, ok := r.Find("peer:1")
	if !ok {
		t.Fatalf("expected to find peer:1")
	}
	if sub.TimeoutSessions != 0 {
		t.Fatalf("OnAck should reset strikes, got %d", sub.TimeoutSessions)
	}
}
