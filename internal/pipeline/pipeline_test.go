package pipeline

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/quadra0/quadra/internal/gate"
	"github.com/quadra0/quadra/internal/knowledge"
	"github.com/quadra0/quadra/internal/log"
	"github.com/quadra0/quadra/internal/solver"
	"github.com/quadra0/quadra/internal/websearch"
)

type fakeGate struct {
	input  gate.Verdict
	output gate.Verdict
}

func (f *fakeGate) ValidateInput(context.Context, string) gate.Verdict { return f.input }

func (f *fakeGate) ValidateOutput(context.Context, string, string) gate.Verdict { return f.output }

type fakeRouter struct {
	routing Routing
	err     error
}

func (f *fakeRouter) Route(context.Context, string, string) (Routing, error) {
	return f.routing, f.err
}

type fakeRetriever struct {
	hits  []knowledge.Hit
	err   error
	calls int
}

func (f *fakeRetriever) Search(context.Context, string, int) ([]knowledge.Hit, error) {
	f.calls++
	return f.hits, f.err
}

type fakeSearcher struct {
	res   websearch.Result
	err   error
	calls int
}

func (f *fakeSearcher) Search(context.Context, string) (websearch.Result, error) {
	f.calls++
	return f.res, f.err
}

type fakeGenerator struct {
	ans      solver.Answer
	err      error
	lastBlob string
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, blob string) (solver.Answer, error) {
	f.lastBlob = blob
	if f.err != nil {
		return solver.Answer{}, f.err
	}
	return f.ans, nil
}

type fakeCorrections struct {
	list []Correction
	err  error
}

func (f *fakeCorrections) CanonicalCorrections(context.Context, int) ([]Correction, error) {
	return f.list, f.err
}

// deps bundles fakes with happy-path defaults; tests override fields.
type deps struct {
	gate        *fakeGate
	router      *fakeRouter
	retriever   *fakeRetriever
	searcher    *fakeSearcher
	generator   *fakeGenerator
	corrections *fakeCorrections
}

func happyDeps() *deps {
	return &deps{
		gate: &fakeGate{
			input:  gate.Verdict{IsValid: true, SanitizedText: "2 + 2 = ?", DetectedTopic: "arithmetic"},
			output: gate.Verdict{IsValid: true, SanitizedText: "Step 1: Add the numbers.\nFinal Answer: 4"},
		},
		router: &fakeRouter{routing: RouteKnowledgeBase},
		retriever: &fakeRetriever{hits: []knowledge.Hit{
			{Document: knowledge.Document{Question: "2+2", Answer: "4", Source: knowledge.SourceSeed}, Similarity: 0.95},
		}},
		searcher:    &fakeSearcher{res: websearch.Result{Success: true, Content: "addition basics", Sources: []string{"[Web] https://example.edu/add"}}},
		generator:   &fakeGenerator{ans: solver.Answer{Text: "Step 1: Add the numbers.\nFinal Answer: 4"}},
		corrections: &fakeCorrections{},
	}
}

func newPipeline(t *testing.T, d *deps) *Pipeline {
	t.Helper()
	p, err := New(Config{
		Gate:        d.gate,
		Router:      d.router,
		Retriever:   d.retriever,
		Searcher:    d.searcher,
		Generator:   d.generator,
		Corrections: d.corrections,
		Logger:      log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return p
}

func TestProcess_KnowledgeBaseHit(t *testing.T) {
	d := happyDeps()
	res := newPipeline(t, d).Process(context.Background(), "2 + 2 = ?")

	if !res.Success {
		t.Errorf("Success = false: %+v", res)
	}
	if res.RoutingDecision != RouteKnowledgeBase {
		t.Errorf("RoutingDecision = %q, want knowledge_base", res.RoutingDecision)
	}
	if res.Confidence < 0.8 {
		t.Errorf("Confidence = %v, want >= 0.8", res.Confidence)
	}
	if len(res.Sources) == 0 || res.Sources[0] != "Knowledge Base - seed" {
		t.Errorf("Sources = %v, want KB citation", res.Sources)
	}
	if res.UsedWebSearch {
		t.Error("UsedWebSearch = true for a pure KB run")
	}
	if res.Topic != "arithmetic" {
		t.Errorf("Topic = %q", res.Topic)
	}
	if len(res.Steps) != 1 || !strings.HasPrefix(res.Steps[0], "Step 1:") {
		t.Errorf("Steps = %v", res.Steps)
	}
	if res.Error != "" {
		t.Errorf("Error = %q, want empty", res.Error)
	}
	if d.searcher.calls != 0 {
		t.Errorf("searcher called %d times on the KB branch", d.searcher.calls)
	}
}

func TestProcess_GateRejection(t *testing.T) {
	d := happyDeps()
	d.gate.input = gate.Verdict{
		IsValid:   false,
		Reason:    "question does not appear to be mathematical",
		Violation: gate.ViolationNonMathematical,
	}
	res := newPipeline(t, d).Process(context.Background(), "asdkjalksjd irrelevant text no numbers")

	if res.RoutingDecision != RouteRejected {
		t.Errorf("RoutingDecision = %q, want rejected", res.RoutingDecision)
	}
	if res.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", res.Confidence)
	}
	if !res.Success {
		t.Error("a rejection is a domain outcome, not a failure")
	}
	if !strings.Contains(res.Answer, "not accepted") {
		t.Errorf("Answer = %q, want refusal message", res.Answer)
	}
	if d.retriever.calls != 0 || d.searcher.calls != 0 {
		t.Error("rejected run must not reach retrieval or search")
	}
}

func TestProcess_ZeroHitsEscalatesToSearch(t *testing.T) {
	d := happyDeps()
	d.retriever.hits = nil

	res := newPipeline(t, d).Process(context.Background(), "2 + 2 = ?")

	if d.searcher.calls != 1 {
		t.Fatalf("searcher called %d times, want 1 (same-run escalation)", d.searcher.calls)
	}
	if res.RoutingDecision != RouteWebSearch {
		t.Errorf("RoutingDecision = %q, want web_search after escalation", res.RoutingDecision)
	}
	if !res.UsedWebSearch {
		t.Error("UsedWebSearch = false after successful search")
	}
	if res.Error == "" {
		t.Error("escalation cause must be recorded in Error")
	}
	// base 0.5 + search 0.2 - recorded error 0.2
	if math.Abs(res.Confidence-0.5) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.5", res.Confidence)
	}
	if !reflect.DeepEqual(res.Sources, []string{"[Web] https://example.edu/add"}) {
		t.Errorf("Sources = %v", res.Sources)
	}
}

func TestProcess_RetrievalErrorEscalatesToSearch(t *testing.T) {
	d := happyDeps()
	d.retriever.hits = nil
	d.retriever.err = errors.New("connection refused")

	res := newPipeline(t, d).Process(context.Background(), "2 + 2 = ?")

	if d.searcher.calls != 1 {
		t.Fatalf("searcher called %d times, want 1", d.searcher.calls)
	}
	if res.RoutingDecision != RouteWebSearch {
		t.Errorf("RoutingDecision = %q", res.RoutingDecision)
	}
	if !res.Success {
		t.Error("retrieval failure must not fail the run")
	}
}

func TestProcess_SearchFailureDegradesContext(t *testing.T) {
	d := happyDeps()
	d.router.routing = RouteWebSearch
	d.searcher.err = errors.New("api down")

	res := newPipeline(t, d).Process(context.Background(), "2 + 2 = ?")

	if !res.Success {
		t.Error("search failure must not fail the run")
	}
	if res.UsedWebSearch {
		t.Error("UsedWebSearch = true for a failed search")
	}
	if res.Error == "" {
		t.Error("search failure must be recorded")
	}
	// base 0.5 - error 0.2
	if res.Confidence < 0.29 || res.Confidence > 0.31 {
		t.Errorf("Confidence = %v, want 0.3", res.Confidence)
	}
	if d.generator.lastBlob != "" {
		t.Errorf("context blob = %q, want empty after failed search", d.generator.lastBlob)
	}
}

func TestProcess_RoutingFailureDefaultsToKnowledgeBase(t *testing.T) {
	d := happyDeps()
	d.router.err = errors.New("model unavailable")
	d.router.routing = RouteUnrouted

	res := newPipeline(t, d).Process(context.Background(), "2 + 2 = ?")

	if res.RoutingDecision != RouteKnowledgeBase {
		t.Errorf("RoutingDecision = %q, want knowledge_base default", res.RoutingDecision)
	}
	if d.retriever.calls != 1 {
		t.Errorf("retriever called %d times, want 1", d.retriever.calls)
	}
}

func TestProcess_GenerationFailure(t *testing.T) {
	d := happyDeps()
	d.generator.err = errors.New("all generation paths failed")

	res := newPipeline(t, d).Process(context.Background(), "2 + 2 = ?")

	if res.Success {
		t.Error("Success = true after total generation failure")
	}
	if res.Answer != apologyAnswer {
		t.Errorf("Answer = %q, want apology placeholder", res.Answer)
	}
	if res.Error == "" {
		t.Error("generation failure must be recorded")
	}
	if len(res.Steps) != 0 {
		t.Errorf("Steps = %v, want none", res.Steps)
	}
}

func TestProcess_OutputGateFailureReturnsAnswerAnyway(t *testing.T) {
	d := happyDeps()
	d.gate.output = gate.Verdict{
		IsValid:   false,
		Reason:    "answer not relevant to the question",
		Violation: gate.ViolationUnsafeOutput,
	}

	res := newPipeline(t, d).Process(context.Background(), "2 + 2 = ?")

	if !res.Success {
		t.Error("output-gate failure must not flip Success")
	}
	if res.Answer != "Step 1: Add the numbers.\nFinal Answer: 4" {
		t.Errorf("Answer = %q, want the original answer returned anyway", res.Answer)
	}
	if !strings.Contains(res.Error, "output validation") {
		t.Errorf("Error = %q, want output validation reason", res.Error)
	}
}

func TestProcess_ContextAssembly(t *testing.T) {
	d := happyDeps()
	d.retriever.hits = []knowledge.Hit{
		{Document: knowledge.Document{Question: "q1", Answer: "a1"}, Similarity: 0.9},
		{Document: knowledge.Document{Question: "q2", Answer: "a2"}, Similarity: 0.8},
		{Document: knowledge.Document{Question: "q3", Answer: "a3"}, Similarity: 0.7},
	}
	d.corrections.list = []Correction{{Question: "cq", Answer: "ca"}}

	newPipeline(t, d).Process(context.Background(), "2 + 2 = ?")

	blob := d.generator.lastBlob
	if !strings.Contains(blob, "Similar question: q1") || !strings.Contains(blob, "Similar question: q2") {
		t.Errorf("first two hits missing from context: %q", blob)
	}
	if strings.Contains(blob, "q3") {
		t.Errorf("context must cap retrieval hits at two: %q", blob)
	}
	if !strings.Contains(blob, "Previously corrected: cq") {
		t.Errorf("corrections missing from context: %q", blob)
	}
}

func TestProcess_CorrectionFetchFailureIsBestEffort(t *testing.T) {
	d := happyDeps()
	d.corrections.err = errors.New("feedback store down")

	res := newPipeline(t, d).Process(context.Background(), "2 + 2 = ?")

	if !res.Success || res.Error != "" {
		t.Errorf("corrections failure leaked into the result: %+v", res)
	}
}

func TestProcess_ArtifactFloorsConfidence(t *testing.T) {
	d := happyDeps()
	d.router.routing = RouteWebSearch
	d.searcher.err = errors.New("api down")
	d.generator.ans = solver.Answer{Text: "Final Answer: 4", UsedArtifact: true}

	res := newPipeline(t, d).Process(context.Background(), "2 + 2 = ?")

	// 0.5 - 0.2 would be 0.3; the artifact floors it at 0.5.
	if res.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want artifact floor 0.5", res.Confidence)
	}
}

func TestProcess_ConfidenceAlwaysInRange(t *testing.T) {
	variants := []func(*deps){
		func(d *deps) {},
		func(d *deps) { d.retriever.hits = nil },
		func(d *deps) { d.router.routing = RouteWebSearch },
		func(d *deps) { d.router.routing = RouteWebSearch; d.searcher.err = errors.New("down") },
		func(d *deps) { d.generator.err = errors.New("down") },
	}
	for i, mutate := range variants {
		d := happyDeps()
		mutate(d)
		res := newPipeline(t, d).Process(context.Background(), "2 + 2 = ?")
		if res.Confidence < 0 || res.Confidence > 1 {
			t.Errorf("variant %d: Confidence = %v out of range", i, res.Confidence)
		}
		if res.Confidence == 0 && res.RoutingDecision != RouteRejected {
			t.Errorf("variant %d: zero confidence on a non-rejected run", i)
		}
	}
}

func TestExtractSteps(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   []string
	}{
		{
			name:   "numbered steps",
			answer: "Step 1: Add 2 and 2.\nStep 2: The sum is 4.\nFinal Answer: 4",
			want:   []string{"Step 1: Add 2 and 2.", "Step 2: The sum is 4."},
		},
		{
			name:   "indented steps",
			answer: "  Step 1: compute\n\tStep 2: simplify",
			want:   []string{"Step 1: compute", "Step 2: simplify"},
		},
		{
			name:   "no markers",
			answer: "The answer is 4 because addition.",
			want:   []string{},
		},
		{
			name:   "marker mid-line ignored",
			answer: "As shown in Step 1: above",
			want:   []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractSteps(tt.answer)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractSteps() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRouting(t *testing.T) {
	tests := []struct {
		input string
		want  Routing
	}{
		{"knowledge_base", RouteKnowledgeBase},
		{"  WEB_SEARCH\n", RouteWebSearch},
		{"I think web_search fits best", RouteWebSearch},
		{"no idea", RouteKnowledgeBase},
		{"", RouteKnowledgeBase},
	}
	for _, tt := range tests {
		if got := ParseRouting(tt.input); got != tt.want {
			t.Errorf("ParseRouting(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
