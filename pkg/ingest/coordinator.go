// Package ingest subscribes to upstream relays, walks their history
// backward page by page, follows live updates forward, and applies
// everything to the index store through one writer goroutine.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"nostrgraph/pkg/archive"
	"nostrgraph/pkg/ingest/queue"
	"nostrgraph/pkg/logger"
	"nostrgraph/pkg/store"
	"nostrgraph/pkg/telemetry"
)

// DefaultPageLimit bounds one historical page when the config does not say
// otherwise.
const DefaultPageLimit = 500

const maxBackoff = time.Minute

// Coordinator owns the upstream subscriptions and the single writer that
// mutates the store.
type Coordinator struct {
	store     *store.Store
	queue     *queue.Queue
	dial      Dialer
	pageLimit int

	wg sync.WaitGroup
}

// New builds a Coordinator. dial defaults to the production websocket
// dialer; tests inject their own.
func New(st *store.Store, q *queue.Queue, dial Dialer, pageLimit int) *Coordinator {
	if dial == nil {
		dial = Dial
	}
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	return &Coordinator{store: st, queue: q, dial: dial, pageLimit: pageLimit}
}

// MergeArchive folds the archived contact and metadata events into the
// store under the usual last-write-wins comparison. Runs before live
// subscriptions start, so it may write to the store directly.
func (c *Coordinator) MergeArchive() {
	if !archive.Ready() {
		return
	}
	merged := 0
	_ = archive.ForEachKind(nostr.KindContactList, func(pubkey string, createdAt int64, raw []byte) error {
		if c.store.UpsertContacts(pubkey, createdAt, raw) {
			merged++
			var env struct {
				Content string `json:"content"`
			}
			if json.Unmarshal(raw, &env) == nil {
				c.store.UpsertWriteRelays(pubkey, createdAt, []byte(env.Content))
			}
		}
		return nil
	})
	_ = archive.ForEachKind(nostr.KindProfileMetadata, func(pubkey string, createdAt int64, raw []byte) error {
		if c.store.UpsertMetadata(pubkey, createdAt, raw) {
			merged++
		}
		return nil
	})
	logger.Info("archive_merged", "records", merged)
}

// Rebuild regenerates the derived indices from the current record sets.
func (c *Coordinator) Rebuild() {
	c.store.RebuildFollowerGraph()
	c.store.RebuildAuthorSearchIndex()
}

// Run starts the writer and one goroutine per source, then blocks until ctx
// is done and the writer has drained. An empty source list is an error; the
// caller treats it as startup-fatal.
func (c *Coordinator) Run(ctx context.Context, sources []string) error {
	if len(sources) == 0 {
		return ErrNoSources
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for it := range c.queue.Out() {
			c.apply(it.Op)
			it.Done()
		}
	}()

	for _, url := range sources {
		c.wg.Add(1)
		go func(url string) {
			defer c.wg.Done()
			c.runSource(ctx, url)
		}(url)
	}

	<-ctx.Done()
	c.wg.Wait()
	c.queue.Close()
	<-writerDone
	return nil
}

// apply is the single writer. Watermarks move on every event regardless of
// whether the upsert was accepted, so they reflect stream coverage.
func (c *Coordinator) apply(op *queue.Op) {
	c.store.ObserveTimestamp(op.Source, op.CreatedAt)
	kind := strconv.Itoa(op.Kind)
	switch op.Kind {
	case nostr.KindProfileMetadata:
		outcome := "stale"
		if c.store.UpsertMetadata(op.Pubkey, op.CreatedAt, op.Payload) {
			outcome = "applied"
		}
		telemetry.EventsIngested.WithLabelValues(kind, outcome).Inc()
	case nostr.KindContactList:
		outcome := "stale"
		if c.store.UpsertContacts(op.Pubkey, op.CreatedAt, op.Payload) {
			outcome = "applied"
		}
		c.store.UpsertWriteRelays(op.Pubkey, op.CreatedAt, []byte(op.Content))
		telemetry.EventsIngested.WithLabelValues(kind, outcome).Inc()
	default:
		telemetry.EventsDropped.Inc()
		return
	}
	if archive.Ready() {
		if err := archive.SaveEvent(op.Kind, op.Pubkey, op.CreatedAt, op.Payload); err != nil {
			logger.Warn("archive_save_failed", "pubkey", op.Pubkey, "error", err)
		}
	}
}

func (c *Coordinator) enqueue(ctx context.Context, src string, ev *nostr.Event) {
	if ev == nil || ev.PubKey == "" || (ev.Kind != nostr.KindProfileMetadata && ev.Kind != nostr.KindContactList) {
		telemetry.EventsDropped.Inc()
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		telemetry.EventsDropped.Inc()
		return
	}
	op := &queue.Op{
		Source:    src,
		Kind:      ev.Kind,
		Pubkey:    ev.PubKey,
		CreatedAt: int64(ev.CreatedAt),
		Content:   ev.Content,
		Payload:   raw,
	}
	if err := c.queue.Enqueue(ctx, op); err != nil && err != context.Canceled {
		logger.Warn("ingest_enqueue_failed", "source", src, "error", err)
	}
}

// runSource keeps one upstream relay alive: dial, walk history, follow live
// updates, reconnect with backoff when the connection dies. One misbehaving
// source never affects the others.
func (c *Coordinator) runSource(ctx context.Context, url string) {
	backoff := time.Second
	for ctx.Err() == nil {
		src, err := c.dial(ctx, url)
		if err != nil {
			logger.Warn("source_dial_failed", "source", url, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		telemetry.ConnectedSources.Inc()

		liveDone := make(chan struct{})
		go func() {
			defer close(liveDone)
			c.liveFollow(ctx, src)
		}()

		if err := c.historicalWalk(ctx, src); err != nil {
			logger.Warn("historical_walk_failed", "source", url, "error", err)
		}

		select {
		case <-liveDone:
			// connection died under the live subscription; reconnect
		case <-ctx.Done():
		}
		_ = src.Close()
		telemetry.ConnectedSources.Dec()
		<-liveDone
		if ctx.Err() != nil {
			return
		}
	}
}

// walkState names the per-(source, direction) subscription states.
type walkState int

const (
	stateSubscribing walkState = iota
	stateReceiving
	stateEndOfStored
	stateResubscribedOlder
	stateIdle
)

// historicalWalk pages backward through a source's stored events. The
// resumption token is the page's minimum timestamp minus one; the walk ends
// when a page makes no progress. A prior session's oldest watermark seeds
// the first page so restarts do not re-walk covered ground.
func (c *Coordinator) historicalWalk(ctx context.Context, src Source) error {
	var until int64
	if oldest := c.store.OldestSeen(src.URL()); oldest > 0 {
		until = oldest - 1
	}

	state := stateSubscribing
	for state != stateIdle {
		filter := nostr.Filter{
			Kinds: []int{nostr.KindProfileMetadata, nostr.KindContactList},
			Limit: c.pageLimit,
		}
		if until > 0 {
			ts := nostr.Timestamp(until)
			filter.Until = &ts
		}

		sub, err := src.Subscribe(ctx, filter)
		if err != nil {
			return fmt.Errorf("subscribe until=%d: %w", until, err)
		}
		state = stateReceiving

		var pageMin int64
		received := 0
	page:
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					sub.Unsub()
					return fmt.Errorf("subscription closed mid-page")
				}
				received++
				if ts := int64(ev.CreatedAt); pageMin == 0 || ts < pageMin {
					pageMin = ts
				}
				c.enqueue(ctx, src.URL(), ev)
			case <-sub.EndOfStoredEvents():
				state = stateEndOfStored
				break page
			case <-ctx.Done():
				sub.Unsub()
				return nil
			}
		}
		sub.Unsub()
		telemetry.PagesWalked.WithLabelValues(src.URL()).Inc()

		switch {
		case received == 0 || pageMin == 0:
			state = stateIdle
		case until > 0 && pageMin-1 >= until:
			// the page reported nothing older than what we asked for
			state = stateIdle
		default:
			until = pageMin - 1
			state = stateResubscribedOlder
		}
	}
	logger.Info("historical_walk_done", "source", src.URL())
	return nil
}

// liveFollow opens the never-retired forward subscription and pumps it until
// the connection dies or ctx ends.
func (c *Coordinator) liveFollow(ctx context.Context, src Source) {
	filter := nostr.Filter{
		Kinds: []int{nostr.KindProfileMetadata, nostr.KindContactList},
	}
	if resume := c.store.ResumePoint(src.URL()); resume > 0 {
		ts := nostr.Timestamp(resume)
		filter.Since = &ts
	}
	sub, err := src.Subscribe(ctx, filter)
	if err != nil {
		logger.Warn("live_subscribe_failed", "source", src.URL(), "error", err)
		return
	}
	defer sub.Unsub()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			c.enqueue(ctx, src.URL(), ev)
		case <-ctx.Done():
			return
		}
	}
}
