package issuance

import (
	"cmp"
	"slices"
	"time"
)

// ClientCount is the number of tokens issued to one client.
type ClientCount struct {
	Client string
	Count  int
}

// Stats summarizes a ledger.
type Stats struct {
	Total int
	// Valid counts issued tokens that have not expired.
	Valid     int
	Activated int
	Revoked   int
	Expired   int
	PerClient []ClientCount
}

// Summarize computes Stats at now. Clients are ordered by count, then name.
func Summarize(entries []Entry, now time.Time) Stats {
	s := Stats{Total: len(entries)}
	counts := make(map[string]int)

	for _, e := range entries {
		switch {
		case e.Status == StatusIssued && !e.Expired(now):
			s.Valid++
		case e.Status == StatusActivated:
			s.Activated++
		case e.Status == StatusRevoked:
			s.Revoked++
		}
		if e.Status != StatusRevoked && e.Expired(now) {
			s.Expired++
		}
		counts[e.Client]++
	}

	for client, n := range counts {
		s.PerClient = append(s.PerClient, ClientCount{Client: client, Count: n})
	}
	slices.SortFunc(s.PerClient, func(a, b ClientCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Client, b.Client)
	})
	return s
}
