package coapd

// Subscriber is one entry in the Observe registry: a peer watching a
// resource under a given token, with its 24-bit sequence counter and
// liveness bookkeeping (§3).
type Subscriber struct {
	Active          bool
	Peer            Addr
	Token           []byte
	Sequence        uint32
	LastAckMS       int64
	TimeoutSessions int
}

// alive reports whether a subscriber still meets spec.md §3's liveness
// invariant: fewer than TimeoutThreshold strikes and acked within
// SubscriberTimeout.
func (s *Subscriber) alive(now int64, timeoutThreshold int, subscriberTimeoutMS int64) bool {
	if s.TimeoutSessions >= timeoutThreshold {
		return false
	}
	return now-s.LastAckMS <= subscriberTimeoutMS
}

// ObserveRegistry is a fixed-capacity table of Observe subscriptions
// (§4.7, MaxSubscribers=5).
type ObserveRegistry struct {
	subs                []Subscriber
	timeoutThreshold    int
	subscriberTimeoutMS int64
	log                 Logger
}

// NewObserveRegistry builds a registry with `capacity` slots.
func NewObserveRegistry(capacity, timeoutThreshold int, subscriberTimeoutMS int64, log Logger) *ObserveRegistry {
	return &ObserveRegistry{
		subs:                make([]Subscriber, capacity),
		timeoutThreshold:    timeoutThreshold,
		subscriberTimeoutMS: subscriberTimeoutMS,
		log:                 log,
	}
}

// Register finds or reuses a slot for (peer, token). Per spec.md §9 (the
// source leaves this ambiguous — "no source evidence for this policy"),
// this registry deduplicates: an existing entry with the same peer and
// token is reused in place rather than duplicated, which is also what RFC
// 7641 §4.1 mandates ("the server MUST NOT add a new entry but MUST
// replace or update the existing one"). It returns ErrSubscriberSlotsFull
// when no slot is free and none matches.
func (r *ObserveRegistry) Register(peer Addr, token []byte, now int64) (*Subscriber, error) {
	tok := append([]byte(nil), token...)
	if len(tok) > MaxTokenLength {
		tok = tok[:MaxTokenLength]
	}

	for i := range r.subs {
		if r.subs[i].Active && r.subs[i].Peer == peer && bytesEqual(r.subs[i].Token, tok) {
			r.subs[i].LastAckMS = now
			r.subs[i].TimeoutSessions = 0
			return &r.subs[i], nil
		}
	}
	for i := range r.subs {
		if !r.subs[i].Active {
			r.subs[i] = Subscriber{
				Active:          true,
				Peer:            peer,
				Token:           tok,
				Sequence:        0,
				LastAckMS:       now,
				TimeoutSessions: 0,
			}
			return &r.subs[i], nil
		}
	}
	logf(r.log, "observe: registry full, rejecting peer=%s", peer)
	return nil, ErrSubscriberSlotsFull
}

// OnAck resets the matched subscriber's strike count and liveness
// timestamp, called when the reliability engine clears a notification ACK
// or a block-transfer ACK from this peer.
func (r *ObserveRegistry) OnAck(peer Addr, now int64) {
	for i := range r.subs {
		if r.subs[i].Active && r.subs[i].Peer == peer {
			r.subs[i].LastAckMS = now
			r.subs[i].TimeoutSessions = 0
		}
	}
}

// IncrementStrike charges one timeout strike to a subscriber, called from
// the reliability engine's failure callback (§4.5, retransmit exhaustion).
func (r *ObserveRegistry) IncrementStrike(peer Addr) {
	for i := range r.subs {
		if r.subs[i].Active && r.subs[i].Peer == peer {
			r.subs[i].TimeoutSessions++
		}
	}
}

// NextSequence returns the subscriber's current sequence number and
// advances it for the next notification, wrapping at 24 bits (§3/§4.7).
func (r *ObserveRegistry) NextSequence(sub *Subscriber) uint32 {
	seq := sub.Sequence
	sub.Sequence = (sub.Sequence + 1) & 0xFFFFFF
	return seq
}

// Prune removes subscribers that have accumulated TimeoutThreshold
// strikes, and charges one strike to any subscriber silent for longer than
// SubscriberTimeout (§4.7). It returns the peers removed this pass so the
// caller can abort their in-flight block transfers.
func (r *ObserveRegistry) Prune(now int64) []Addr {
	var removed []Addr
	for i := range r.subs {
		s := &r.subs[i]
		if !s.Active {
			continue
		}
		if s.TimeoutSessions >= r.timeoutThreshold {
			logf(r.log, "observe: pruning subscriber peer=%s (strikes=%d)", s.Peer, s.TimeoutSessions)
			removed = append(removed, s.Peer)
			*s = Subscriber{}
			continue
		}
		if now-s.LastAckMS > r.subscriberTimeoutMS {
			s.TimeoutSessions++
			s.LastAckMS = now
		}
	}
	return removed
}

// Active returns every currently-registered subscriber, for broadcast.
func (r *ObserveRegistry) Active() []*Subscriber {
	var out []*Subscriber
	for i := range r.subs {
		if r.subs[i].Active {
			out = append(out, &r.subs[i])
		}
	}
	return out
}

// Find returns the active subscriber for peer, if any.
func (r *ObserveRegistry) Find(peer Addr) (*Subscriber, bool) {
	for i := range r.subs {
		if r.subs[i].Active && r.subs[i].Peer == peer {
			return &r.subs[i], true
		}
	}
	return nil, false
}

// Count returns the number of active subscribers.
func (r *ObserveRegistry) Count() int {
	n := 0
	for i := range r.subs {
		if r.subs[i].Active {
			n++
		}
	}
	return n
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
