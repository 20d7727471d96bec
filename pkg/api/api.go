package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/nbd-wtf/go-nostr/nip19"

	"nostrgraph/pkg/store"
	"nostrgraph/pkg/utils"
)

// API serves the plain JSON query endpoints over the index store. It is a
// read-only companion surface to the websocket protocol server.
type API struct {
	store *store.Store
	start time.Time
}

// New builds the query API around the given store.
func New(st *store.Store) *API {
	return &API{store: st, start: time.Now()}
}

// Register attaches all query routes to the provided router.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/p/{pubkey}", a.getMetadata).Methods(http.MethodGet)
	r.HandleFunc("/c/{pubkey}", a.getContacts).Methods(http.MethodGet)
	r.HandleFunc("/r/{pubkey}", a.getWriteRelays).Methods(http.MethodGet)
	r.HandleFunc("/i/{pubkey}", a.getInfo).Methods(http.MethodGet)
	r.HandleFunc("/f/{pubkey}", a.getFollowers).Methods(http.MethodGet)
	r.HandleFunc("/search", a.search).Methods(http.MethodGet)
	r.HandleFunc("/stats", a.stats).Methods(http.MethodGet)
}

// resolvePubkey accepts either a hex pubkey or an npub and returns the hex
// form. Unknown bech32 prefixes are rejected.
func resolvePubkey(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if strings.HasPrefix(s, "npub1") {
		prefix, data, err := nip19.Decode(s)
		if err != nil || prefix != "npub" {
			return "", false
		}
		pk, ok := data.(string)
		return pk, ok
	}
	return strings.ToLower(s), true
}

func pathPubkey(w http.ResponseWriter, r *http.Request) (string, bool) {
	pk, ok := resolvePubkey(mux.Vars(r)["pubkey"])
	if !ok {
		utils.JSONError(w, http.StatusBadRequest, "invalid pubkey")
	}
	return pk, ok
}
