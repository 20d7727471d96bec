package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"nostrgraph/pkg/archive"
	"nostrgraph/pkg/store"
	"nostrgraph/pkg/telemetry"
	"nostrgraph/pkg/utils"
)

const (
	defaultFollowerPage = 50
	maxFollowerPage     = 500
)

// getMetadata handles GET /p/{pubkey}, returning the latest metadata event
// verbatim as stored.
func (a *API) getMetadata(w http.ResponseWriter, r *http.Request) {
	pk, ok := pathPubkey(w, r)
	if !ok {
		return
	}
	rec, ok := a.store.MetadataFor(pk)
	if !ok {
		utils.JSONError(w, http.StatusNotFound, "no metadata for pubkey")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(rec.Raw)
}

// getContacts handles GET /c/{pubkey}, returning the latest contact-list
// event verbatim as stored.
func (a *API) getContacts(w http.ResponseWriter, r *http.Request) {
	pk, ok := pathPubkey(w, r)
	if !ok {
		return
	}
	rec, ok := a.store.ContactsFor(pk)
	if !ok {
		utils.JSONError(w, http.StatusNotFound, "no contacts for pubkey")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(rec.Raw)
}

// getWriteRelays handles GET /r/{pubkey}.
func (a *API) getWriteRelays(w http.ResponseWriter, r *http.Request) {
	pk, ok := pathPubkey(w, r)
	if !ok {
		return
	}
	urls, createdAt, ok := a.store.WriteRelaysFor(pk)
	if !ok {
		utils.JSONError(w, http.StatusNotFound, "no write relays for pubkey")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Pubkey    string   `json:"pubkey"`
		Relays    []string `json:"relays"`
		UpdatedAt int64    `json:"updated_at"`
	}{Pubkey: pk, Relays: urls, UpdatedAt: createdAt})
}

// profileSummary is the hydrated form used by /i and /f: the pubkey plus
// whatever metadata fields name it, and its follower count.
type profileSummary struct {
	Pubkey    string          `json:"pubkey"`
	Followers int             `json:"followers"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

func (a *API) summarize(pk string) profileSummary {
	sum := profileSummary{Pubkey: pk, Followers: a.store.FollowerCount(pk)}
	if rec, ok := a.store.MetadataFor(pk); ok {
		sum.Metadata = rec.Raw
	}
	return sum
}

// getInfo handles GET /i/{pubkey}: the profile itself plus its following
// list ranked by follower count, each entry hydrated with metadata.
func (a *API) getInfo(w http.ResponseWriter, r *http.Request) {
	pk, ok := pathPubkey(w, r)
	if !ok {
		return
	}
	_, hasMeta := a.store.MetadataFor(pk)
	_, hasContacts := a.store.ContactsFor(pk)
	if !hasMeta && !hasContacts {
		utils.JSONError(w, http.StatusNotFound, "unknown pubkey")
		return
	}
	following := a.store.FollowingOf(pk)
	out := struct {
		Profile   profileSummary   `json:"profile"`
		Following []profileSummary `json:"following"`
	}{Profile: a.summarize(pk), Following: make([]profileSummary, 0, len(following))}
	for _, f := range following {
		out.Following = append(out.Following, a.summarize(f))
	}
	_ = utils.JSONWrite(w, http.StatusOK, out)
}

// getFollowers handles GET /f/{pubkey}?page=<n>&per=<n>, returning one page
// of the ranked follower list.
func (a *API) getFollowers(w http.ResponseWriter, r *http.Request) {
	pk, ok := pathPubkey(w, r)
	if !ok {
		return
	}
	page := queryInt(r, "page", 0)
	per := queryInt(r, "per", defaultFollowerPage)
	if per <= 0 || per > maxFollowerPage {
		per = defaultFollowerPage
	}
	all := a.store.Followers(pk)
	// compare before multiplying so an extreme page value cannot overflow
	lo := len(all)
	if page <= len(all)/per {
		lo = page * per
	}
	hi := lo + per
	if hi > len(all) {
		hi = len(all)
	}
	slice := make([]profileSummary, 0, hi-lo)
	for _, f := range all[lo:hi] {
		slice = append(slice, a.summarize(f))
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Pubkey    string           `json:"pubkey"`
		Total     int              `json:"total"`
		Page      int              `json:"page"`
		Per       int              `json:"per"`
		Followers []profileSummary `json:"followers"`
	}{Pubkey: pk, Total: len(all), Page: page, Per: per, Followers: slice})
}

// search handles GET /search?q=<prefix>&limit=<n> against the author name
// index.
func (a *API) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		utils.JSONError(w, http.StatusBadRequest, "q query parameter is required")
		return
	}
	limit := queryInt(r, "limit", store.DefaultSearchLimit)
	results := a.store.SearchByPrefix(q, limit)
	out := make([]profileSummary, 0, len(results))
	for _, e := range results {
		out = append(out, a.summarize(e.Pubkey))
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Query   string           `json:"query"`
		Results []profileSummary `json:"results"`
	}{Query: q, Results: out})
}

type ringSample struct {
	At      time.Time `json:"at"`
	Latency string    `json:"latency"`
	Summary string    `json:"summary"`
}

func ringSamples(samples []telemetry.Sample) []ringSample {
	out := make([]ringSample, 0, len(samples))
	for _, s := range samples {
		out = append(out, ringSample{At: s.At, Latency: s.Latency.String(), Summary: s.Summary})
	}
	return out
}

// stats handles GET /stats.
func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	metadata, contacts, relays, graphed := a.store.Counts()
	out := struct {
		Uptime        string       `json:"uptime"`
		Metadata      int          `json:"metadata"`
		Contacts      int          `json:"contacts"`
		Relays        int          `json:"relays"`
		Graphed       int          `json:"graphed"`
		ArchiveEvents string       `json:"archive_events"`
		Requests      []ringSample `json:"requests"`
		Errors        []ringSample `json:"errors"`
	}{
		Uptime:   time.Since(a.start).Round(time.Second).String(),
		Metadata: metadata,
		Contacts: contacts,
		Relays:   relays,
		Graphed:  graphed,
		Requests: ringSamples(telemetry.Requests.Snapshot()),
		Errors:   ringSamples(telemetry.Errors.Snapshot()),
	}
	if archive.Ready() {
		profiles, perr := archive.CountKind(0)
		lists, lerr := archive.CountKind(3)
		if perr == nil && lerr == nil {
			out.ArchiveEvents = humanize.Comma(int64(profiles + lists))
		}
	}
	_ = utils.JSONWrite(w, http.StatusOK, out)
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
