package ingest

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// Source is one upstream relay connection. Implementations must be safe for
// a single historical walk plus one live subscription running concurrently.
type Source interface {
	URL() string
	Subscribe(ctx context.Context, filter nostr.Filter) (Subscription, error)
	Close() error
}

// Subscription delivers events until end-of-stored-data or cancellation.
type Subscription interface {
	// Events yields matching events; the channel closes when the
	// subscription dies with the connection.
	Events() <-chan *nostr.Event
	// EndOfStoredEvents fires once when the relay has no more historical
	// matches.
	EndOfStoredEvents() <-chan struct{}
	Unsub()
}

// Dialer connects to an upstream relay by URL.
type Dialer func(ctx context.Context, url string) (Source, error)

// relaySource adapts a go-nostr relay connection to Source.
type relaySource struct {
	url   string
	relay *nostr.Relay
}

// Dial is the production Dialer.
func Dial(ctx context.Context, url string) (Source, error) {
	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	return &relaySource{url: url, relay: r}, nil
}

func (s *relaySource) URL() string { return s.url }

func (s *relaySource) Subscribe(ctx context.Context, filter nostr.Filter) (Subscription, error) {
	sub, err := s.relay.Subscribe(ctx, nostr.Filters{filter})
	if err != nil {
		return nil, err
	}
	return &relaySubscription{sub: sub}, nil
}

func (s *relaySource) Close() error {
	return s.relay.Close()
}

type relaySubscription struct {
	sub *nostr.Subscription
}

func (s *relaySubscription) Events() <-chan *nostr.Event       { return s.sub.Events }
func (s *relaySubscription) EndOfStoredEvents() <-chan struct{} { return s.sub.EndOfStoredEvents }
func (s *relaySubscription) Unsub()                             { s.sub.Unsub() }
