package sessionlog

import (
	"sync"
	"testing"
)

func TestSequencer_Next(t *testing.T) {
	s := NewSequencer()

	if got := s.Current(); got != 0 {
		t.Errorf("Expected initial current to be 0, got %d", got)
	}
	for want := int64(1); want <= 3; want++ {
		if got := s.Next(); got != want {
			t.Errorf("Expected %d, got %d", want, got)
		}
	}
	if got := s.Current(); got != 3 {
		t.Errorf("Expected current to be 3, got %d", got)
	}
}

func TestSequencer_Observe(t *testing.T) {
	s := NewSequencer()
	s.Observe(41)
	if got := s.Next(); got != 42 {
		t.Errorf("Expected 42 after observing 41, got %d", got)
	}
	s.Observe(10)
	if got := s.Current(); got != 42 {
		t.Errorf("Observe must never move backwards, got %d", got)
	}
}

func TestSequencer_ConcurrentSafety(t *testing.T) {
	s := NewSequencer()
	const goroutines = 50
	const perGoroutine = 200

	var mu sync.Mutex
	seen := make(map[int64]bool, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perGoroutine)
			for j := 0; j < perGoroutine; j++ {
				local = append(local, s.Next())
			}
			mu.Lock()
			for _, id := range local {
				if seen[id] {
					t.Errorf("Duplicate sequence number %d", id)
				}
				seen[id] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Errorf("Expected %d unique numbers, got %d", goroutines*perGoroutine, len(seen))
	}
}
