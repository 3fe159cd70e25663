package solver

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/quadra0/quadra/internal/log"
)

func TestNew_Validation(t *testing.T) {
	g := genkit.Init(context.Background())

	if _, err := New(Config{ModelName: "googleai/gemini-2.5-flash"}); err == nil {
		t.Error("New() without genkit expected error")
	}
	if _, err := New(Config{Genkit: g}); err == nil {
		t.Error("New() without model name expected error")
	}
	s, err := New(Config{Genkit: g, ModelName: "googleai/gemini-2.5-flash", Logger: log.NewNop()})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if s.limiter == nil {
		t.Error("default limiter not applied")
	}
}

func TestBuildPrompt(t *testing.T) {
	demos := []Demo{
		{Question: "What is 1+1?", Answer: "Step 1: Add.\nFinal Answer: 2"},
		{Question: "What is 2*3?", Answer: "Step 1: Multiply.\nFinal Answer: 6"},
	}

	t.Run("zero-shot without context", func(t *testing.T) {
		p := BuildPrompt("what is 5-2", "", nil)
		if p != "Question: what is 5-2" {
			t.Errorf("BuildPrompt() = %q", p)
		}
	})

	t.Run("context included", func(t *testing.T) {
		p := BuildPrompt("q", "Similar problem: 4-1=3", nil)
		if !strings.Contains(p, "Reference material") || !strings.Contains(p, "4-1=3") {
			t.Errorf("context missing from prompt: %q", p)
		}
		if !strings.HasSuffix(p, "Question: q") {
			t.Errorf("question must come last: %q", p)
		}
	})

	t.Run("demos precede context and question", func(t *testing.T) {
		p := BuildPrompt("q", "ctx", demos)
		demoIdx := strings.Index(p, "Example 1:")
		ctxIdx := strings.Index(p, "Reference material")
		qIdx := strings.LastIndex(p, "Question: q")
		if demoIdx == -1 || ctxIdx == -1 || qIdx == -1 {
			t.Fatalf("prompt missing sections: %q", p)
		}
		if !(demoIdx < ctxIdx && ctxIdx < qIdx) {
			t.Errorf("section order wrong: demos=%d ctx=%d question=%d", demoIdx, ctxIdx, qIdx)
		}
		if !strings.Contains(p, "Example 2:\nQuestion: What is 2*3?") {
			t.Errorf("second demo not rendered: %q", p)
		}
	})

	t.Run("blank context omitted", func(t *testing.T) {
		p := BuildPrompt("q", "   \n ", nil)
		if strings.Contains(p, "Reference material") {
			t.Errorf("blank context should be dropped: %q", p)
		}
	})
}

func TestSlot(t *testing.T) {
	s := NewSlot()
	if s.Load() != nil {
		t.Fatal("empty slot should load nil")
	}

	first := &Artifact{ID: uuid.New(), Score: 0.6, CompiledAt: time.Now(), Demos: []Demo{{Question: "q", Answer: "a"}}}
	s.Publish(first)
	if got := s.Load(); got != first {
		t.Errorf("Load() = %p, want %p", got, first)
	}

	second := &Artifact{ID: uuid.New(), Score: 0.8, CompiledAt: time.Now()}
	s.Publish(second)
	if got := s.Load(); got != second {
		t.Error("Publish() did not replace artifact")
	}

	s.Publish(nil)
	if s.Load() != nil {
		t.Error("Publish(nil) should clear the slot")
	}
}

// Concurrent readers must always observe a complete artifact pointer,
// old or new, while a writer swaps.
func TestSlot_ConcurrentSwap(t *testing.T) {
	s := NewSlot()
	artifacts := []*Artifact{
		{ID: uuid.New(), Score: 0.1},
		{ID: uuid.New(), Score: 0.2},
		{ID: uuid.New(), Score: 0.3},
	}
	known := map[*Artifact]bool{nil: true}
	for _, a := range artifacts {
		known[a] = true
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if got := s.Load(); !known[got] {
					t.Error("loaded an unknown artifact pointer")
					return
				}
			}
		}()
	}

	for i := range 1000 {
		s.Publish(artifacts[i%len(artifacts)])
	}
	close(stop)
	wg.Wait()
}
