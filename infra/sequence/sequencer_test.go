package sequence

import (
	"sync"
	"testing"
)

func TestSequencerMonotonic(t *testing.T) {
	s := New(10)
	if got := s.Next(); got != 11 {
		t.Fatalf("expected 11, got %d", got)
	}
	s.Observe(5)
	if s.Current() != 11 {
		t.Fatal("Observe must never move backwards")
	}
	s.Observe(40)
	if got := s.Next(); got != 41 {
		t.Fatalf("expected 41 after observing 40, got %d", got)
	}
}

func TestSequencerConcurrentUnique(t *testing.T) {
	s := New(0)
	const workers, per = 8, 1000
	seen := make([]uint64, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				seen[w*per+i] = s.Next()
			}
		}(w)
	}
	wg.Wait()

	uniq := make(map[uint64]struct{}, len(seen))
	for _, v := range seen {
		uniq[v] = struct{}{}
	}
	if len(uniq) != workers*per || s.Current() != workers*per {
		t.Fatalf("expected %d unique values, got %d (current %d)", workers*per, len(uniq), s.Current())
	}
}
