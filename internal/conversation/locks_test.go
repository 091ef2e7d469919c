package conversation

import (
	"sync"
	"testing"
)

func TestLocksSerializeSameID(t *testing.T) {
	l := NewLocks()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := l.Acquire("conv-1")
			defer release()
			counter++
		}()
	}
	wg.Wait()

	if counter != 64 {
		t.Fatalf("counter = %d, want 64", counter)
	}
	l.mu.Lock()
	remaining := len(l.locks)
	l.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("lock entries not reclaimed: %d", remaining)
	}
}

func TestLocksIndependentIDsDoNotBlock(t *testing.T) {
	l := NewLocks()

	releaseA := l.Acquire("conv-a")
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB := l.Acquire("conv-b")
		releaseB()
		close(done)
	}()

	<-done
}

func TestLocksReleaseIsIdempotent(t *testing.T) {
	l := NewLocks()

	release := l.Acquire("conv-1")
	release()
	release()

	again := l.Acquire("conv-1")
	again()
}
