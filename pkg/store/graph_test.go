package store

import "testing"

func TestFollowerGraphInversion(t *testing.T) {
	s := New()
	// A follows B and C; B follows C
	s.UpsertContacts("a", 1, contactsEvent("a", []string{"b", "c"}, 1, nil))
	s.UpsertContacts("b", 1, contactsEvent("b", []string{"c"}, 1, nil))
	s.RebuildFollowerGraph()

	if got := s.Followers("b"); len(got) != 1 || got[0] != "a" {
		t.Fatalf("followers of b = %v, want [a]", got)
	}
	got := s.Followers("c")
	if len(got) != 2 {
		t.Fatalf("followers of c = %v, want two entries", got)
	}
	seen := map[string]bool{got[0]: true, got[1]: true}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("followers of c = %v, want {a, b}", got)
	}
	if s.FollowerCount("c") != 2 || s.FollowerCount("b") != 1 || s.FollowerCount("a") != 0 {
		t.Fatalf("counts: a=%d b=%d c=%d", s.FollowerCount("a"), s.FollowerCount("b"), s.FollowerCount("c"))
	}
}

func TestFollowerGraphRankingByFollowerCount(t *testing.T) {
	s := New()
	// popular has two followers, nobody has zero; both follow target
	s.UpsertContacts("popular", 2, contactsEvent("popular", []string{"target"}, 2, nil))
	s.UpsertContacts("nobody", 2, contactsEvent("nobody", []string{"target"}, 2, nil))
	s.UpsertContacts("f1", 1, contactsEvent("f1", []string{"popular"}, 1, nil))
	s.UpsertContacts("f2", 1, contactsEvent("f2", []string{"popular"}, 1, nil))
	s.RebuildFollowerGraph()

	got := s.Followers("target")
	if len(got) != 2 || got[0] != "popular" {
		t.Fatalf("followers of target = %v, want popular ranked first", got)
	}
}

func TestFollowerGraphUppercaseTagAndMalformedContent(t *testing.T) {
	s := New()
	// uppercase tag name still counts
	raw := []byte(`{"pubkey":"a","created_at":1,"kind":3,"tags":[["P","b"]],"content":""}`)
	s.UpsertContacts("a", 1, raw)
	// malformed record must not abort the rebuild
	s.UpsertContacts("broken", 1, []byte(`{"tags":"not-a-list"}`))
	s.RebuildFollowerGraph()

	if got := s.Followers("b"); len(got) != 1 || got[0] != "a" {
		t.Fatalf("followers of b = %v, want [a]", got)
	}
}
