package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"nostrgraph/pkg/logger"
	"nostrgraph/pkg/store"
	"nostrgraph/pkg/telemetry"
)

// DefaultMaxLimit is the default and the cap for per-filter emission limits.
const DefaultMaxLimit = 200

// Options carries the administrative switches from startup configuration.
type Options struct {
	// GlobalSubscriptions lets an authorless REQ fan out over every known
	// pubkey.
	GlobalSubscriptions bool
	// ContinueSubscriptions enables the EVENT echo onto matching
	// subscriptions of the originating connection.
	ContinueSubscriptions bool
	// MaxLimit caps per-filter limits; zero means DefaultMaxLimit.
	MaxLimit int
	// RPS/Burst rate-limit messages per connection; zero disables.
	RPS   float64
	Burst int
}

// Server answers subscription and count requests against the index store
// over persistent websocket connections.
type Server struct {
	store    *store.Store
	synth    *Synthesizer
	opts     Options
	upgrader websocket.Upgrader
}

// NewServer builds a protocol server around the given store and signer.
func NewServer(st *store.Store, synth *Synthesizer, opts Options) *Server {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	return &Server{
		store: st,
		synth: synth,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// IsWebSocketUpgrade reports whether the request asks for a websocket, so
// the protocol server can share a listener with the plain query endpoints.
func IsWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// ServeHTTP upgrades the connection and serves it until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &conn{srv: s, ws: ws, subs: map[string][]Filter{}}
	if s.opts.RPS > 0 {
		burst := s.opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(s.opts.RPS), burst)
	}
	telemetry.OpenConnections.Inc()
	defer telemetry.OpenConnections.Dec()
	c.readLoop()
}

// conn is one client connection: its websocket, its write lock, and its
// subscription-id to filter-set map. Closing the connection stops all
// emission into it; there is no cancellation mid-filter.
type conn struct {
	srv *Server
	ws  *websocket.Conn

	writeMu sync.Mutex
	subs    map[string][]Filter
	limiter *rate.Limiter
}

func (c *conn) readLoop() {
	defer c.ws.Close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.notice("rate limited")
			continue
		}
		c.handle(data)
	}
}

// handle processes one message. Any failure is reported as a NOTICE on the
// same connection and never unwinds past it. Every handled message lands in
// the request ring; failures additionally land in the error ring.
func (c *conn) handle(data []byte) {
	start := time.Now()
	summary, err := c.dispatch(data)
	elapsed := time.Since(start)

	telemetry.Requests.Add(elapsed, summary)
	telemetry.MessageLatency.Observe(elapsed.Seconds())
	if err != nil {
		telemetry.Errors.Add(elapsed, fmt.Sprintf("%s: %v", summary, err))
		c.notice(err.Error())
	}
}

func (c *conn) dispatch(data []byte) (string, error) {
	msg, err := ParseMessage(data)
	if err != nil {
		return "invalid", err
	}
	switch m := msg.(type) {
	case *ReqMessage:
		telemetry.MessagesHandled.WithLabelValues("REQ").Inc()
		return "REQ " + m.Sub, c.handleReq(m)
	case *CloseMessage:
		telemetry.MessagesHandled.WithLabelValues("CLOSE").Inc()
		delete(c.subs, m.Sub)
		return "CLOSE " + m.Sub, nil
	case *EventMessage:
		telemetry.MessagesHandled.WithLabelValues("EVENT").Inc()
		return "EVENT", c.handleEvent(m)
	case *CountMessage:
		telemetry.MessagesHandled.WithLabelValues("COUNT").Inc()
		return "COUNT " + m.Sub, c.handleCount(m)
	default:
		return "unknown", fmt.Errorf("unhandled message type %T", msg)
	}
}

func (c *conn) send(parts ...any) error {
	b, err := json.Marshal(parts)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *conn) notice(msg string) {
	_ = c.send("NOTICE", msg)
}

func (c *conn) sendRaw(sub string, raw json.RawMessage) error {
	return c.send("EVENT", sub, raw)
}

// handleReq registers the subscription, serves each filter in order, then
// closes the stored-data phase with EOSE.
func (c *conn) handleReq(m *ReqMessage) error {
	c.subs[m.Sub] = m.Filters
	for _, f := range m.Filters {
		if err := c.serveFilter(m.Sub, &f); err != nil {
			return err
		}
	}
	return c.send("EOSE", m.Sub)
}

func (c *conn) effectiveLimit(f *Filter) int {
	if f.Limit <= 0 || f.Limit > c.srv.opts.MaxLimit {
		return c.srv.opts.MaxLimit
	}
	return f.Limit
}

// serveFilter answers one filter. The three query forms are tried in order:
// social reach (#p with contact/relay-list kinds), name search, then the
// authors form.
func (c *conn) serveFilter(sub string, f *Filter) error {
	limit := c.effectiveLimit(f)

	switch {
	case len(f.Ptags) > 0 && (f.WantsKind(KindContactList) || f.WantsKind(KindRelayList)):
		return c.serveSocialReach(sub, f, limit)
	case f.Search != "" && f.WantsKind(KindProfileMetadata):
		return c.serveSearch(sub, f, limit)
	default:
		return c.serveAuthors(sub, f)
	}
}

// Kind aliases; the wire protocol uses the bare integers.
const (
	KindProfileMetadata = 0
	KindContactList     = 3
)

// serveSocialReach emits, for each referenced pubkey, the contact lists of
// its followers (bounded by limit) followed by a synthesized write-relay
// event for the referenced pubkey itself.
func (c *conn) serveSocialReach(sub string, f *Filter, limit int) error {
	for _, pk := range f.Ptags {
		emitted := 0
		for _, follower := range c.srv.store.Followers(pk) {
			if emitted >= limit {
				break
			}
			rec, ok := c.srv.store.ContactsFor(follower)
			if !ok || rec.CreatedAt <= f.Since {
				continue
			}
			if err := c.sendRaw(sub, rec.Raw); err != nil {
				return err
			}
			emitted++
		}
		if err := c.emitRelayList(sub, pk, f.Since); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) serveSearch(sub string, f *Filter, limit int) error {
	for _, e := range c.srv.store.SearchByPrefix(f.Search, limit) {
		rec, ok := c.srv.store.MetadataFor(e.Pubkey)
		if !ok || rec.CreatedAt <= f.Since {
			continue
		}
		if err := c.sendRaw(sub, rec.Raw); err != nil {
			return err
		}
	}
	return nil
}

// serveAuthors emits the requested record kinds for each author; with no
// authors present the fan-out covers every known pubkey, which is only
// allowed when global subscriptions are administratively enabled.
func (c *conn) serveAuthors(sub string, f *Filter) error {
	authors := f.Authors
	if len(authors) == 0 {
		if !c.srv.opts.GlobalSubscriptions {
			return nil
		}
		authors = c.srv.store.AllPubkeys()
	}
	for _, a := range authors {
		if f.WantsKind(KindProfileMetadata) {
			if rec, ok := c.srv.store.MetadataFor(a); ok && rec.CreatedAt > f.Since {
				if err := c.sendRaw(sub, rec.Raw); err != nil {
					return err
				}
			}
		}
		if f.WantsKind(KindContactList) {
			if rec, ok := c.srv.store.ContactsFor(a); ok && rec.CreatedAt > f.Since {
				if err := c.sendRaw(sub, rec.Raw); err != nil {
					return err
				}
			}
		}
		if f.WantsKind(KindRelayList) {
			if err := c.emitRelayList(sub, a, f.Since); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *conn) emitRelayList(sub, pubkey string, since int64) error {
	urls, createdAt, ok := c.srv.store.WriteRelaysFor(pubkey)
	if !ok || createdAt <= since {
		return nil
	}
	ev, err := c.srv.synth.RelayListEvent(pubkey, urls, createdAt)
	if err != nil {
		return fmt.Errorf("synthesize relay list: %w", err)
	}
	return c.send("EVENT", sub, ev)
}

// handleEvent implements the echo: the incoming event is matched against
// every filter set stored on this connection and re-broadcast under each
// matching subscription id. It is a fan-out to the originating connection
// only, and it is off unless administratively enabled.
func (c *conn) handleEvent(m *EventMessage) error {
	if !c.srv.opts.ContinueSubscriptions {
		return fmt.Errorf("EVENT not accepted")
	}
	for sub, filters := range c.subs {
		for i := range filters {
			if filters[i].Matches(&m.Event) {
				if err := c.send("EVENT", sub, &m.Event); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}

func (c *conn) handleCount(m *CountMessage) error {
	for i := range m.Filters {
		res := c.srv.countFilter(&m.Filters[i])
		if err := c.send("COUNT", m.Sub, res); err != nil {
			return err
		}
	}
	return nil
}
