package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/brandguard/backend/internal/domain/audit"
	"github.com/brandguard/backend/internal/platform/vectorstore"
)

func retrieverEvidence() *audit.EvidenceBundle {
	return &audit.EvidenceBundle{
		Transcript: []audit.Segment{
			{ID: "speech-0", Text: "our supplement cures anxiety", StartSec: 0, EndSec: 4},
		},
		OCRText: []audit.Segment{
			{ID: "ocr-0", Text: "results not typical", StartSec: 2, EndSec: 5},
		},
		DetectedMarks:   []audit.Mark{{Label: "AcmeHealth", Occurrences: []float64{1.5}}},
		DurationSeconds: 30,
	}
}

func ruleMatch(id string, score float64, regions []string) vectorstore.Match {
	return vectorstore.Match{
		ID:    "point-" + id,
		Score: score,
		Payload: map[string]any{
			"rule_id":            id,
			"source_document":    "asa_code.md",
			"text_excerpt":       "excerpt for " + id,
			"applicable_regions": regions,
		},
	}
}

func TestRuleRetrieverQueriesWithRegionFilter(t *testing.T) {
	ai := &fakeAIClient{}
	store := &fakeVectorStore{
		queryFn: func(_ context.Context, _ string, _ []float32, _ int, _ map[string]any) ([]vectorstore.Match, error) {
			return []vectorstore.Match{ruleMatch("asa#1", 0.9, []string{"EUROPE"})}, nil
		},
	}
	r := NewRuleRetriever(newTestLogger(t), ai, store)

	got, err := r.Retrieve(context.Background(), retrieverEvidence(), audit.RegionEurope)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].RuleID != "asa#1" {
		t.Fatalf("excerpts: %+v", got)
	}

	if store.lastNamespace != "compliance-rules" {
		t.Fatalf("namespace: got %q", store.lastNamespace)
	}
	raw, ok := store.lastFilter["applicable_regions"].([]string)
	if !ok {
		t.Fatalf("filter regions: %#v", store.lastFilter["applicable_regions"])
	}
	if len(raw) != 2 || raw[0] != "EUROPE" || raw[1] != "GLOBAL" {
		t.Fatalf("filter regions: %v", raw)
	}

	if len(ai.embedCalls) != 1 || len(ai.embedCalls[0]) != 1 {
		t.Fatalf("embed calls: %v", ai.embedCalls)
	}
	query := ai.embedCalls[0][0]
	for _, want := range []string{"cures anxiety", "On-screen text:", "results not typical", "Brands shown: AcmeHealth", "EUROPE"} {
		if !strings.Contains(query, want) {
			t.Fatalf("query missing %q:\n%s", want, query)
		}
	}
}

func TestRuleRetrieverOrdersByScoreThenRegionExactness(t *testing.T) {
	store := &fakeVectorStore{
		queryFn: func(_ context.Context, _ string, _ []float32, _ int, _ map[string]any) ([]vectorstore.Match, error) {
			return []vectorstore.Match{
				ruleMatch("global#1", 0.80, []string{"GLOBAL"}),
				ruleMatch("eu#1", 0.80, []string{"EUROPE"}),
				ruleMatch("eu#2", 0.95, []string{"EUROPE", "GLOBAL"}),
				ruleMatch("global#0", 0.80, []string{"GLOBAL"}),
			}, nil
		},
	}
	r := NewRuleRetriever(newTestLogger(t), &fakeAIClient{}, store)

	got, err := r.Retrieve(context.Background(), retrieverEvidence(), audit.RegionEurope)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	ids := make([]string, 0, len(got))
	for _, ex := range got {
		ids = append(ids, ex.RuleID)
	}
	// Highest score first; among the 0.80 ties the EUROPE-exact rule outranks
	// the GLOBAL ones, which fall back to rule id order.
	want := []string{"eu#2", "eu#1", "global#0", "global#1"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Fatalf("order: want=%v got=%v", want, ids)
	}
}

func TestRuleRetrieverDropsNonApplicableMatches(t *testing.T) {
	store := &fakeVectorStore{
		queryFn: func(_ context.Context, _ string, _ []float32, _ int, _ map[string]any) ([]vectorstore.Match, error) {
			return []vectorstore.Match{
				ruleMatch("na#1", 0.9, []string{"NORTH_AMERICA"}),
				ruleMatch("eu#1", 0.5, []string{"EUROPE"}),
			}, nil
		},
	}
	r := NewRuleRetriever(newTestLogger(t), &fakeAIClient{}, store)

	got, err := r.Retrieve(context.Background(), retrieverEvidence(), audit.RegionEurope)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].RuleID != "eu#1" {
		t.Fatalf("excerpts: %+v", got)
	}
}

func TestRuleRetrieverDefaultsEmptyRegionsToGlobal(t *testing.T) {
	store := &fakeVectorStore{
		queryFn: func(_ context.Context, _ string, _ []float32, _ int, _ map[string]any) ([]vectorstore.Match, error) {
			m := ruleMatch("legacy#1", 0.7, nil)
			delete(m.Payload, "applicable_regions")
			return []vectorstore.Match{m}, nil
		},
	}
	r := NewRuleRetriever(newTestLogger(t), &fakeAIClient{}, store)

	got, err := r.Retrieve(context.Background(), retrieverEvidence(), audit.RegionAsia)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("excerpts: %+v", got)
	}
	if len(got[0].ApplicableRegions) != 1 || got[0].ApplicableRegions[0] != audit.RegionGlobal {
		t.Fatalf("regions: %v", got[0].ApplicableRegions)
	}
}

func TestRuleRetrieverWrapsStageErrors(t *testing.T) {
	embedErr := fmt.Errorf("embeddings api down")
	ai := &fakeAIClient{
		embedFn: func(_ context.Context, _ []string) ([][]float32, error) {
			return nil, embedErr
		},
	}
	r := NewRuleRetriever(newTestLogger(t), ai, &fakeVectorStore{})

	_, err := r.Retrieve(context.Background(), retrieverEvidence(), audit.RegionGlobal)
	var retErr *audit.RetrievalError
	if !errors.As(err, &retErr) {
		t.Fatalf("want RetrievalError, got %T: %v", err, err)
	}
	if !errors.Is(err, embedErr) {
		t.Fatalf("cause not wrapped: %v", err)
	}

	_, err = r.Retrieve(context.Background(), nil, audit.RegionGlobal)
	if !errors.As(err, &retErr) {
		t.Fatalf("nil evidence: want RetrievalError, got %T", err)
	}
}

func TestRuleRetrieverTopKFromEnv(t *testing.T) {
	t.Setenv("AUDIT_RETRIEVAL_TOPK", "50")
	store := &fakeVectorStore{}
	r := NewRuleRetriever(newTestLogger(t), &fakeAIClient{}, store)

	if _, err := r.Retrieve(context.Background(), retrieverEvidence(), audit.RegionGlobal); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if store.lastTopK != 20 {
		t.Fatalf("topK clamp: want=20 got=%d", store.lastTopK)
	}
}

func TestBuildRetrievalQueryCutsAtRuneBoundary(t *testing.T) {
	// One ASCII byte up front pushes the byte limit into the middle of a
	// two-byte rune.
	ev := &audit.EvidenceBundle{
		Transcript: []audit.Segment{
			{ID: "speech-0", Text: "x" + strings.Repeat("é", 2500), StartSec: 0, EndSec: 4},
		},
	}
	q := buildRetrievalQuery(ev, audit.RegionEurope)
	if len(q) > maxQueryChars {
		t.Fatalf("query length: %d > %d", len(q), maxQueryChars)
	}
	if !utf8.ValidString(q) {
		t.Fatalf("query is not valid UTF-8 near its end: %q", q[len(q)-8:])
	}
}
