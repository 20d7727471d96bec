package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"nostrgraph/pkg/logger"
)

// ErrNoSources means the relay registry and the static list together yielded
// nothing to subscribe to. The process cannot usefully run without upstream
// sources, so callers must treat this as fatal at startup.
var ErrNoSources = errors.New("ingest: no upstream relay sources")

// DiscoverRelays resolves the set of upstream relays: the JSON list behind
// registryURL (when configured) merged with the static list, deduplicated
// and sorted. The registry document may be a JSON array of URLs or an object
// whose keys are URLs.
func DiscoverRelays(ctx context.Context, registryURL string, static []string, timeout time.Duration) ([]string, error) {
	set := map[string]struct{}{}
	for _, u := range static {
		if u != "" {
			set[u] = struct{}{}
		}
	}

	if registryURL != "" {
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		urls, err := fetchRegistry(cctx, registryURL)
		if err != nil {
			// a dead registry is tolerable when static relays exist
			logger.Warn("relay_registry_fetch_failed", "url", registryURL, "error", err)
		}
		for _, u := range urls {
			if u != "" {
				set[u] = struct{}{}
			}
		}
	}

	if len(set) == 0 {
		return nil, ErrNoSources
	}
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	logger.Info("relay_sources_resolved", "count", len(out))
	return out, nil
}

func fetchRegistry(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var list []string
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		urls := make([]string, 0, len(obj))
		for u := range obj {
			urls = append(urls, u)
		}
		return urls, nil
	}
	return nil, fmt.Errorf("registry document is neither a list nor an object")
}
