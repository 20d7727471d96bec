package store

// recentRingSize bounds the per-source ring of recently seen timestamps.
const recentRingSize = 20

// Watermark tracks per-source stream coverage: the oldest createdAt seen so
// far (for paging further into the past) and a bounded ring of the most
// recent createdAt values (for resuming forward after a restart). Watermarks
// reflect what the stream delivered, not which events were accepted.
type Watermark struct {
	Oldest int64   `json:"oldest"`
	Recent []int64 `json:"recent"`
}

// ObserveTimestamp folds one event timestamp from the given source into its
// watermark.
func (s *Store) ObserveTimestamp(source string, createdAt int64) {
	if source == "" || createdAt <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.marks[source]
	if m == nil {
		m = &Watermark{}
		s.marks[source] = m
	}
	if m.Oldest == 0 || createdAt < m.Oldest {
		m.Oldest = createdAt
	}
	m.Recent = append(m.Recent, createdAt)
	if len(m.Recent) > recentRingSize {
		m.Recent = m.Recent[len(m.Recent)-recentRingSize:]
	}
}

// OldestSeen returns the source's oldest observed timestamp, or zero when
// the source was never seen.
func (s *Store) OldestSeen(source string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m := s.marks[source]; m != nil {
		return m.Oldest
	}
	return 0
}

// ResumePoint returns the largest timestamp in the source's recent ring, the
// point a live subscription should resume from. Zero means no prior state.
func (s *Store) ResumePoint(source string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.marks[source]
	if m == nil {
		return 0
	}
	var max int64
	for _, ts := range m.Recent {
		if ts > max {
			max = ts
		}
	}
	return max
}

// Watermarks returns a copy of every per-source watermark.
func (s *Store) Watermarks() map[string]Watermark {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Watermark, len(s.marks))
	for src, m := range s.marks {
		out[src] = Watermark{Oldest: m.Oldest, Recent: append([]int64(nil), m.Recent...)}
	}
	return out
}
