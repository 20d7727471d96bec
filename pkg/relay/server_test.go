package relay

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"nostrgraph/pkg/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New()
	meta := func(pubkey, name string) {
		content, _ := json.Marshal(map[string]string{"name": name})
		ev := map[string]any{"pubkey": pubkey, "created_at": 10, "kind": 0, "tags": [][]string{}, "content": string(content)}
		raw, _ := json.Marshal(ev)
		st.UpsertMetadata(pubkey, 10, raw)
	}
	contacts := func(pubkey string, follows []string, relays map[string]map[string]any) {
		tags := make([][]string, 0, len(follows))
		for _, f := range follows {
			tags = append(tags, []string{"p", f})
		}
		content := ""
		if relays != nil {
			b, _ := json.Marshal(relays)
			content = string(b)
		}
		ev := map[string]any{"pubkey": pubkey, "created_at": 10, "kind": 3, "tags": tags, "content": content}
		raw, _ := json.Marshal(ev)
		st.UpsertContacts(pubkey, 10, raw)
		if content != "" {
			st.UpsertWriteRelays(pubkey, 10, []byte(content))
		}
	}
	meta("aaa", "alice")
	meta("bbb", "bob")
	contacts("bbb", []string{"aaa"}, nil)
	contacts("aaa", nil, map[string]map[string]any{"wss://w.example": {"write": true}})
	st.RebuildFollowerGraph()
	st.RebuildAuthorSearchIndex()
	return st
}

func dialTest(t *testing.T, opts Options) (*websocket.Conn, func()) {
	t.Helper()
	st := testStore(t)
	synth, err := NewSynthesizer()
	if err != nil {
		t.Fatalf("synthesizer: %v", err)
	}
	srv := httptest.NewServer(NewServer(st, synth, opts))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return ws, func() { ws.Close(); srv.Close() }
}

func readFrame(t *testing.T, ws *websocket.Conn) []json.RawMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		t.Fatalf("frame not an array: %s", data)
	}
	return arr
}

func frameTag(t *testing.T, arr []json.RawMessage) string {
	t.Helper()
	var tag string
	if err := json.Unmarshal(arr[0], &tag); err != nil {
		t.Fatalf("tag: %v", err)
	}
	return tag
}

func TestReqAuthorsThenEOSE(t *testing.T) {
	ws, done := dialTest(t, Options{})
	defer done()

	req := `["REQ","s1",{"kinds":[0,3],"authors":["aaa"]}]`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}

	var events int
	for {
		arr := readFrame(t, ws)
		switch frameTag(t, arr) {
		case "EVENT":
			events++
		case "EOSE":
			var sub string
			_ = json.Unmarshal(arr[1], &sub)
			if sub != "s1" {
				t.Fatalf("EOSE for %q", sub)
			}
			// aaa has metadata and contacts
			if events != 2 {
				t.Fatalf("got %d events before EOSE, want 2", events)
			}
			return
		default:
			t.Fatalf("unexpected frame %v", arr)
		}
	}
}

func TestReqSocialReachSynthesizesRelayList(t *testing.T) {
	ws, done := dialTest(t, Options{})
	defer done()

	req := `["REQ","s2",{"kinds":[3,10003],"#p":["aaa"]}]`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}

	var sawContacts, sawSynth bool
	for {
		arr := readFrame(t, ws)
		tag := frameTag(t, arr)
		if tag == "EOSE" {
			break
		}
		if tag != "EVENT" {
			t.Fatalf("unexpected frame %v", arr)
		}
		var ev struct {
			Kind   int    `json:"kind"`
			PubKey string `json:"pubkey"`
			Sig    string `json:"sig"`
		}
		if err := json.Unmarshal(arr[2], &ev); err != nil {
			t.Fatalf("event: %v", err)
		}
		switch ev.Kind {
		case 3:
			if ev.PubKey != "bbb" {
				t.Fatalf("follower contacts from %q", ev.PubKey)
			}
			sawContacts = true
		case KindRelayList:
			if ev.Sig == "" {
				t.Fatalf("synthesized event unsigned")
			}
			sawSynth = true
		}
	}
	if !sawContacts || !sawSynth {
		t.Fatalf("contacts=%v synth=%v", sawContacts, sawSynth)
	}
}

func TestReqSearch(t *testing.T) {
	ws, done := dialTest(t, Options{})
	defer done()

	req := `["REQ","s3",{"kinds":[0],"search":"ali"}]`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}
	arr := readFrame(t, ws)
	if frameTag(t, arr) != "EVENT" {
		t.Fatalf("expected EVENT, got %v", arr)
	}
	var ev struct {
		PubKey string `json:"pubkey"`
	}
	_ = json.Unmarshal(arr[2], &ev)
	if ev.PubKey != "aaa" {
		t.Fatalf("search returned %q", ev.PubKey)
	}
	if frameTag(t, readFrame(t, ws)) != "EOSE" {
		t.Fatalf("missing EOSE")
	}
}

func TestGlobalSubscriptionsGated(t *testing.T) {
	ws, done := dialTest(t, Options{})
	defer done()

	// authorless REQ without the administrative switch yields only EOSE
	req := `["REQ","s4",{"kinds":[0]}]`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frameTag(t, readFrame(t, ws)) != "EOSE" {
		t.Fatalf("authorless REQ emitted events while gated")
	}
}

func TestEventEchoGatedAndMatching(t *testing.T) {
	ws, done := dialTest(t, Options{ContinueSubscriptions: true})
	defer done()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`["REQ","echo",{"kinds":[1]}]`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frameTag(t, readFrame(t, ws)) != "EOSE" {
		t.Fatalf("expected EOSE first")
	}

	ev := `["EVENT",{"id":"x","pubkey":"p","created_at":5,"kind":1,"tags":[],"content":"hi","sig":""}]`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(ev)); err != nil {
		t.Fatalf("write: %v", err)
	}
	arr := readFrame(t, ws)
	if frameTag(t, arr) != "EVENT" {
		t.Fatalf("echo missing, got %v", arr)
	}
	var sub string
	_ = json.Unmarshal(arr[1], &sub)
	if sub != "echo" {
		t.Fatalf("echo under sub %q", sub)
	}
}

func TestEventRejectedWhenDisabled(t *testing.T) {
	ws, done := dialTest(t, Options{})
	defer done()

	ev := `["EVENT",{"id":"x","pubkey":"p","created_at":5,"kind":1,"tags":[],"content":"hi","sig":""}]`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(ev)); err != nil {
		t.Fatalf("write: %v", err)
	}
	arr := readFrame(t, ws)
	if frameTag(t, arr) != "NOTICE" {
		t.Fatalf("expected NOTICE, got %v", arr)
	}
}

func TestMalformedMessageYieldsNotice(t *testing.T) {
	ws, done := dialTest(t, Options{})
	defer done()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"not":"an array"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	arr := readFrame(t, ws)
	if frameTag(t, arr) != "NOTICE" {
		t.Fatalf("expected NOTICE, got %v", arr)
	}

	// the connection keeps serving after the error
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`["REQ","ok",{"kinds":[0],"authors":["bbb"]}]`)); err != nil {
		t.Fatalf("write after notice: %v", err)
	}
	sawEOSE := false
	for !sawEOSE {
		arr := readFrame(t, ws)
		if frameTag(t, arr) == "EOSE" {
			sawEOSE = true
		}
	}
}

func TestCloseDropsSubscription(t *testing.T) {
	ws, done := dialTest(t, Options{ContinueSubscriptions: true})
	defer done()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`["REQ","gone",{"kinds":[1]}]`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frameTag(t, readFrame(t, ws)) != "EOSE" {
		t.Fatalf("expected EOSE")
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`["CLOSE","gone"]`)); err != nil {
		t.Fatalf("close: %v", err)
	}
	// an event that would have matched the dropped subscription is not echoed
	ev := `["EVENT",{"id":"x","pubkey":"p","created_at":5,"kind":1,"tags":[],"content":"hi","sig":""}]`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(ev)); err != nil {
		t.Fatalf("event: %v", err)
	}
	// follow with a REQ whose EOSE proves no echo frame arrived in between
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`["REQ","after",{"kinds":[0],"authors":["zzz"]}]`)); err != nil {
		t.Fatalf("req: %v", err)
	}
	arr := readFrame(t, ws)
	if frameTag(t, arr) != "EOSE" {
		t.Fatalf("expected bare EOSE, got %v", arr)
	}
}
