package relay

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestParseReq(t *testing.T) {
	msg, err := ParseMessage([]byte(`["REQ","sub1",{"kinds":[0,3],"authors":["ab"],"limit":10},{"search":"ali"}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	req, ok := msg.(*ReqMessage)
	if !ok {
		t.Fatalf("wrong type %T", msg)
	}
	if req.Sub != "sub1" || len(req.Filters) != 2 {
		t.Fatalf("req = %+v", req)
	}
	if !req.Filters[0].WantsKind(0) || !req.Filters[0].WantsKind(3) || req.Filters[0].WantsKind(10003) {
		t.Fatalf("kinds parsed wrong: %+v", req.Filters[0])
	}
	if req.Filters[1].Search != "ali" {
		t.Fatalf("search not parsed: %+v", req.Filters[1])
	}
}

func TestParseReferencedPubkeys(t *testing.T) {
	msg, err := ParseMessage([]byte(`["COUNT","c1",{"kinds":[3],"#p":["aa","bb"],"group":"pubkey"}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cnt := msg.(*CountMessage)
	f := cnt.Filters[0]
	if len(f.Ptags) != 2 || f.Group != "pubkey" {
		t.Fatalf("filter = %+v", f)
	}
}

func TestParseClose(t *testing.T) {
	msg, err := ParseMessage([]byte(`["CLOSE","sub1"]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.(*CloseMessage).Sub != "sub1" {
		t.Fatalf("close = %+v", msg)
	}
}

func TestParseEvent(t *testing.T) {
	msg, err := ParseMessage([]byte(`["EVENT",{"kind":1,"pubkey":"ab","created_at":5,"tags":[],"content":"hi"}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ev := msg.(*EventMessage)
	if ev.Event.Kind != 1 || ev.Event.Content != "hi" {
		t.Fatalf("event = %+v", ev.Event)
	}
}

func TestParseRejects(t *testing.T) {
	bad := []string{
		`{"not":"array"}`,
		`[]`,
		`[42]`,
		`["REQ"]`,
		`["REQ",""]`,
		`["REQ","s","not-a-filter"]`,
		`["CLOSE"]`,
		`["NOPE","x"]`,
	}
	for _, in := range bad {
		if _, err := ParseMessage([]byte(in)); err == nil {
			t.Fatalf("input %s parsed without error", in)
		}
	}
}

func TestFilterMatches(t *testing.T) {
	ev := &nostr.Event{
		ID:        "id1",
		PubKey:    "author1",
		Kind:      3,
		CreatedAt: 100,
		Tags:      nostr.Tags{nostr.Tag{"p", "target"}},
	}
	cases := []struct {
		f    Filter
		want bool
	}{
		{Filter{}, true},
		{Filter{Kinds: []int{3}}, true},
		{Filter{Kinds: []int{0}}, false},
		{Filter{Authors: []string{"author1"}}, true},
		{Filter{Authors: []string{"other"}}, false},
		{Filter{Since: 50}, true},
		{Filter{Since: 150}, false},
		{Filter{Until: 150}, true},
		{Filter{Until: 50}, false},
		{Filter{Ptags: []string{"target"}}, true},
		{Filter{Ptags: []string{"elsewhere"}}, false},
		{Filter{IDs: []string{"id1"}}, true},
		{Filter{IDs: []string{"id2"}}, false},
	}
	for i, tc := range cases {
		if got := tc.f.Matches(ev); got != tc.want {
			t.Fatalf("case %d: Matches = %v, want %v (%+v)", i, got, tc.want, tc.f)
		}
	}
}
