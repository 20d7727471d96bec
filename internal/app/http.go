package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nostrgraph/pkg/api"
	"nostrgraph/pkg/banner"
	"nostrgraph/pkg/relay"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	banner.Print(a.cfg, a.sources, a.version)
}

// buildHandler assembles the shared listener: websocket upgrades on any
// path go to the protocol server, everything else to the JSON query API.
func (a *App) buildHandler() (http.Handler, error) {
	synth, err := relay.NewSynthesizer()
	if err != nil {
		return nil, err
	}
	ws := relay.NewServer(a.st, synth, relay.Options{
		GlobalSubscriptions:   a.cfg.Gateway.GlobalSubscriptions,
		ContinueSubscriptions: a.cfg.Gateway.ContinueSubscriptions,
		MaxLimit:              a.cfg.Gateway.MaxLimit,
		RPS:                   a.cfg.Gateway.RateLimit.RPS,
		Burst:                 a.cfg.Gateway.RateLimit.Burst,
	})

	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthzHandler)
	r.HandleFunc("/readyz", a.readyzHandler)
	r.Handle("/metrics", promhttp.Handler())
	api.New(a.st).Register(r)

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if relay.IsWebSocketUpgrade(req) {
			ws.ServeHTTP(w, req)
			return
		}
		r.ServeHTTP(w, req)
	}), nil
}

// readyzHandler reports ready once the archive is open and the store holds
// at least a restored or merged index.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	metadata, contacts, _, _ := a.st.Counts()
	if metadata == 0 && contacts == 0 && !a.resumed {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"warming up"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	_, _ = w.Write([]byte(`{"status":"ok","version":"` + ver + `"}`))
}

// healthzHandler handles the /healthz endpoint.
func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// startHTTP builds the handler, starts the HTTP server in a goroutine and
// returns the server plus a channel that will carry any fatal error.
func (a *App) startHTTP() (*http.Server, <-chan error) {
	errCh := make(chan error, 1)
	h, err := a.buildHandler()
	if err != nil {
		errCh <- err
		return &http.Server{}, errCh
	}
	srv := &http.Server{Addr: a.cfg.Addr(), Handler: h}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return srv, errCh
}
