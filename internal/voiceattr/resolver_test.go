package voiceattr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kemet-ai/kemet/internal/capability"
	"github.com/kemet-ai/kemet/internal/persona"
)

type countingModel struct {
	reply string
	err   error
	calls atomic.Int64
	gate  chan struct{}
}

func (m *countingModel) Complete(context.Context, string) (string, error) {
	m.calls.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	return m.reply, m.err
}

func TestResolvePrefersRegistryGender(t *testing.T) {
	model := &countingModel{reply: "male"}
	r := NewResolver(model, zerolog.Nop())

	got := r.Resolve(context.Background(), persona.Persona{Name: "Hatshepsut", Gender: persona.GenderFemale})
	if got != persona.GenderFemale {
		t.Fatalf("expected registry gender, got %q", got)
	}
	if model.calls.Load() != 0 {
		t.Fatal("model consulted despite known gender")
	}
}

func TestResolveClassifiesOnceAndCaches(t *testing.T) {
	model := &countingModel{reply: "Female."}
	r := NewResolver(model, zerolog.Nop())
	p := persona.Persona{Name: "Nefertiti", Gender: persona.GenderUnknown}

	for i := 0; i < 3; i++ {
		if got := r.Resolve(context.Background(), p); got != persona.GenderFemale {
			t.Fatalf("resolve %d: got %q", i, got)
		}
	}
	if n := model.calls.Load(); n != 1 {
		t.Fatalf("expected a single classification call, got %d", n)
	}
}

func TestResolveSingleFlightDeduplicates(t *testing.T) {
	model := &countingModel{reply: "male", gate: make(chan struct{})}
	r := NewResolver(model, zerolog.Nop())
	p := persona.Persona{Name: "Sneferu", Gender: persona.GenderUnknown}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]persona.Gender, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), p)
		}(i)
	}
	time.Sleep(50 * time.Millisecond) // let every worker reach the resolver
	close(model.gate)
	wg.Wait()

	for i, got := range results {
		if got != persona.GenderMale {
			t.Fatalf("worker %d got %q", i, got)
		}
	}
	if n := model.calls.Load(); n != 1 {
		t.Fatalf("concurrent first requests triggered %d classification calls", n)
	}
}

func TestResolveFailureDegradesToUnknownWithoutCaching(t *testing.T) {
	model := &countingModel{err: errors.New("upstream down")}
	r := NewResolver(model, zerolog.Nop())
	p := persona.Persona{Name: "Thutmose", Gender: persona.GenderUnknown}

	if got := r.Resolve(context.Background(), p); got != persona.GenderUnknown {
		t.Fatalf("expected unknown on failure, got %q", got)
	}

	model.err = nil
	model.reply = "male"
	if got := r.Resolve(context.Background(), p); got != persona.GenderMale {
		t.Fatalf("expected retry after failed classification, got %q", got)
	}
}

func TestResolveNarratorStaysUnknown(t *testing.T) {
	r := NewResolver(capability.NewMockProvider(8, nil), zerolog.Nop())
	if got := r.Resolve(context.Background(), persona.Narrator()); got != persona.GenderUnknown {
		t.Fatalf("narrator must stay unknown, got %q", got)
	}
}
