// Package relay implements the subset of the Nostr wire protocol this
// service speaks to its own clients: REQ/CLOSE/COUNT handling against the
// index store, an administratively gated EVENT echo, and synthesis of signed
// write-relay events.
package relay

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// KindRelayList is the event kind this service uses for synthesized
// write-relay lists.
const KindRelayList = 10003

// Filter is the validated form of one subscription filter. Incoming JSON is
// parsed into this explicit shape at the boundary instead of being probed
// field by field downstream.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Ptags   []string `json:"#p,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Until   int64    `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Search  string   `json:"search,omitempty"`
	// Group selects the grouped COUNT shape; "pubkey" is the only value
	// with meaning.
	Group string `json:"group,omitempty"`
}

// WantsKind reports whether the filter allows the given kind. An absent
// kinds list allows every kind.
func (f *Filter) WantsKind(kind int) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Matches reports whether ev satisfies the filter; used by the EVENT echo.
func (f *Filter) Matches(ev *nostr.Event) bool {
	if !f.WantsKind(ev.Kind) {
		return false
	}
	if len(f.IDs) > 0 && !containsString(f.IDs, ev.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, ev.PubKey) {
		return false
	}
	if f.Since > 0 && int64(ev.CreatedAt) < f.Since {
		return false
	}
	if f.Until > 0 && int64(ev.CreatedAt) > f.Until {
		return false
	}
	if len(f.Ptags) > 0 {
		found := false
		for _, tag := range ev.Tags {
			if len(tag) >= 2 && tag[0] == "p" && containsString(f.Ptags, tag[1]) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// One variant type per command tag.
type (
	ReqMessage struct {
		Sub     string
		Filters []Filter
	}
	CloseMessage struct {
		Sub string
	}
	EventMessage struct {
		Event nostr.Event
	}
	CountMessage struct {
		Sub     string
		Filters []Filter
	}
)

// ParseMessage decodes one incoming wire message (a JSON array whose first
// element is the command tag) into its typed variant. Validation failures
// are returned as errors, not partially filled messages.
func ParseMessage(data []byte) (any, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("message is not a JSON array: %w", err)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	var tag string
	if err := json.Unmarshal(arr[0], &tag); err != nil {
		return nil, fmt.Errorf("message tag is not a string: %w", err)
	}

	parseSub := func() (string, error) {
		if len(arr) < 2 {
			return "", fmt.Errorf("%s: missing subscription id", tag)
		}
		var sub string
		if err := json.Unmarshal(arr[1], &sub); err != nil {
			return "", fmt.Errorf("%s: subscription id is not a string: %w", tag, err)
		}
		if sub == "" {
			return "", fmt.Errorf("%s: empty subscription id", tag)
		}
		return sub, nil
	}
	parseFilters := func() ([]Filter, error) {
		filters := make([]Filter, 0, len(arr)-2)
		for i := 2; i < len(arr); i++ {
			var f Filter
			if err := json.Unmarshal(arr[i], &f); err != nil {
				return nil, fmt.Errorf("%s: bad filter at position %d: %w", tag, i-1, err)
			}
			filters = append(filters, f)
		}
		return filters, nil
	}

	switch tag {
	case "REQ":
		sub, err := parseSub()
		if err != nil {
			return nil, err
		}
		filters, err := parseFilters()
		if err != nil {
			return nil, err
		}
		return &ReqMessage{Sub: sub, Filters: filters}, nil
	case "CLOSE":
		sub, err := parseSub()
		if err != nil {
			return nil, err
		}
		return &CloseMessage{Sub: sub}, nil
	case "EVENT":
		if len(arr) < 2 {
			return nil, fmt.Errorf("EVENT: missing event")
		}
		var ev nostr.Event
		if err := json.Unmarshal(arr[len(arr)-1], &ev); err != nil {
			return nil, fmt.Errorf("EVENT: bad event: %w", err)
		}
		return &EventMessage{Event: ev}, nil
	case "COUNT":
		sub, err := parseSub()
		if err != nil {
			return nil, err
		}
		filters, err := parseFilters()
		if err != nil {
			return nil, err
		}
		return &CountMessage{Sub: sub, Filters: filters}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", tag)
	}
}
