package relay

import (
	"sync"
	"sync/atomic"

	"github.com/nbd-wtf/go-nostr"

	"nostrgraph/pkg/telemetry"
)

// Synthesizer fabricates and signs write-relay events the service never
// received. It is a pure function of (pubkey, relay list, timestamp) plus
// the server keypair, memoized by the event's content-hash id so an
// unchanged relay list is signed at most once no matter how many clients
// request it.
type Synthesizer struct {
	sk string
	pk string

	mu    sync.Mutex
	sigs  map[string]string
	signs uint64
}

// NewSynthesizer generates a fresh server keypair. The key is throwaway;
// it exists so synthesized events carry a valid signature, not to hold an
// identity across restarts.
func NewSynthesizer() (*Synthesizer, error) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, err
	}
	return &Synthesizer{sk: sk, pk: pk, sigs: map[string]string{}}, nil
}

// PublicKey returns the server's signing public key.
func (s *Synthesizer) PublicKey() string { return s.pk }

// SignCount returns how many actual signing operations have run.
func (s *Synthesizer) SignCount() uint64 { return atomic.LoadUint64(&s.signs) }

// RelayListEvent builds a signed kind-10003 event declaring pubkey's write
// relays. The subject pubkey rides in a "p" tag and each relay in an "r"
// tag; createdAt comes from the underlying write-relay record so the
// event id, and with it the cached signature, changes exactly when the
// record does.
func (s *Synthesizer) RelayListEvent(pubkey string, urls []string, createdAt int64) (*nostr.Event, error) {
	tags := nostr.Tags{nostr.Tag{"p", pubkey}}
	for _, u := range urls {
		tags = append(tags, nostr.Tag{"r", u, "write"})
	}
	ev := &nostr.Event{
		PubKey:    s.pk,
		CreatedAt: nostr.Timestamp(createdAt),
		Kind:      KindRelayList,
		Tags:      tags,
		Content:   "",
	}

	id := ev.GetID()
	s.mu.Lock()
	if sig, ok := s.sigs[id]; ok {
		s.mu.Unlock()
		ev.ID = id
		ev.Sig = sig
		return ev, nil
	}
	s.mu.Unlock()

	if err := ev.Sign(s.sk); err != nil {
		return nil, err
	}
	atomic.AddUint64(&s.signs, 1)
	telemetry.SignaturesComputed.Inc()

	s.mu.Lock()
	s.sigs[ev.ID] = ev.Sig
	s.mu.Unlock()
	return ev, nil
}
