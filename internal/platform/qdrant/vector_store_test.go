package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/brandguard/backend/internal/platform/logger"
	"github.com/brandguard/backend/internal/platform/vectorstore"
)

func TestVectorStoreUpsertRequestShape(t *testing.T) {
	var captured map[string]any
	s := newTestVectorStore(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPut {
			t.Fatalf("method: want=%s got=%s", http.MethodPut, r.Method)
		}
		if r.URL.Path != "/collections/brandguard/points" {
			t.Fatalf("path: want=%q got=%q", "/collections/brandguard/points", r.URL.Path)
		}
		if r.URL.RawQuery != "wait=true" {
			t.Fatalf("query: want=%q got=%q", "wait=true", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	payloadIn := map[string]any{"rule_id": "asa#1"}
	err := s.Upsert(context.Background(), "compliance-rules", []vectorstore.Vector{
		{ID: "asa#1", Values: []float32{1, 2, 3}, Payload: payloadIn},
		{ID: "asa#2", Values: []float32{4, 5, 6}, Payload: map[string]any{"rule_id": "asa#2"}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	pointsRaw, ok := captured["points"].([]any)
	if !ok {
		t.Fatalf("points type: got=%T", captured["points"])
	}
	if len(pointsRaw) != 2 {
		t.Fatalf("points length: want=2 got=%d", len(pointsRaw))
	}

	first, ok := pointsRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("point[0] type: got=%T", pointsRaw[0])
	}
	if first["id"] != s.pointID("bg:compliance-rules", "asa#1") {
		t.Fatalf("point id mismatch: got=%v", first["id"])
	}
	payload, ok := first["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload type: got=%T", first["payload"])
	}
	if payload[payloadNamespaceKey] != "bg:compliance-rules" {
		t.Fatalf("payload namespace: want=%q got=%v", "bg:compliance-rules", payload[payloadNamespaceKey])
	}
	if payload[payloadVectorIDKey] != "asa#1" {
		t.Fatalf("payload vector id: want=%q got=%v", "asa#1", payload[payloadVectorIDKey])
	}

	if _, exists := payloadIn[payloadNamespaceKey]; exists {
		t.Fatalf("input payload mutated: namespace key should not exist")
	}
	if _, exists := payloadIn[payloadVectorIDKey]; exists {
		t.Fatalf("input payload mutated: vector id key should not exist")
	}
}

func TestVectorStoreUpsertRejectsDimensionMismatch(t *testing.T) {
	s := newTestVectorStore(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("no request expected for invalid vectors")
		return nil, nil
	})

	err := s.Upsert(context.Background(), "compliance-rules", []vectorstore.Vector{
		{ID: "asa#1", Values: []float32{1, 2}},
	})
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if opErr.Code != OperationErrorValidation {
		t.Fatalf("error code: want=%q got=%q", OperationErrorValidation, opErr.Code)
	}
}

func TestVectorStoreQueryFilterNamespaceAndScoreNormalization(t *testing.T) {
	var captured map[string]any
	s := newTestVectorStore(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost {
			t.Fatalf("method: want=%s got=%s", http.MethodPost, r.Method)
		}
		if r.URL.Path != "/collections/brandguard/points/search" {
			t.Fatalf("path: want=%q got=%q", "/collections/brandguard/points/search", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{
			{
				"id":    "ignored-id-b",
				"score": 0.90,
				"payload": map[string]any{
					payloadVectorIDKey:  "rule-b",
					payloadNamespaceKey: "bg:compliance-rules",
					"rule_id":           "rule-b",
				},
			},
			{
				"id":    "ignored-id-a",
				"score": 0.10,
				"payload": map[string]any{
					payloadVectorIDKey:  "rule-a",
					payloadNamespaceKey: "bg:compliance-rules",
					"rule_id":           "rule-a",
				},
			},
		}), nil
	})
	s.distance = "euclid"

	matches, err := s.Query(context.Background(), "compliance-rules", []float32{1, 2, 3}, 2, map[string]any{
		"applicable_regions": []string{"EUROPE", "GLOBAL"},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches length: want=2 got=%d", len(matches))
	}
	// euclid distances invert: the smaller raw score normalizes higher.
	if matches[0].ID != "rule-a" || matches[1].ID != "rule-b" {
		t.Fatalf("match ordering mismatch: got=%v", []string{matches[0].ID, matches[1].ID})
	}
	if !(matches[0].Score > matches[1].Score) {
		t.Fatalf("expected normalized descending scores, got=%v", []float64{matches[0].Score, matches[1].Score})
	}
	for _, m := range matches {
		if _, exists := m.Payload[payloadNamespaceKey]; exists {
			t.Fatalf("internal namespace key leaked into match payload")
		}
		if _, exists := m.Payload[payloadVectorIDKey]; exists {
			t.Fatalf("internal vector id key leaked into match payload")
		}
		if m.Payload["rule_id"] != m.ID {
			t.Fatalf("payload rule_id mismatch: %v vs %s", m.Payload["rule_id"], m.ID)
		}
	}

	if captured["with_payload"] != true {
		t.Fatalf("with_payload: got=%v", captured["with_payload"])
	}
	filter, ok := captured["filter"].(map[string]any)
	if !ok {
		t.Fatalf("filter type: got=%T", captured["filter"])
	}
	must, ok := filter["must"].([]any)
	if !ok {
		t.Fatalf("must type: got=%T", filter["must"])
	}
	nsCond := findConditionByKey(t, must, payloadNamespaceKey)
	if nsCond == nil {
		t.Fatalf("missing namespace condition in filter")
	}
	nsMatch, ok := nsCond["match"].(map[string]any)
	if !ok || nsMatch["value"] != "bg:compliance-rules" {
		t.Fatalf("namespace match: got=%v", nsCond["match"])
	}

	regionCond := findConditionByKey(t, must, "applicable_regions")
	if regionCond == nil {
		t.Fatalf("missing applicable_regions condition")
	}
	regionMatch, ok := regionCond["match"].(map[string]any)
	if !ok {
		t.Fatalf("applicable_regions match type: got=%T", regionCond["match"])
	}
	anyVals, ok := regionMatch["any"].([]any)
	if !ok {
		t.Fatalf("applicable_regions any type: got=%T", regionMatch["any"])
	}
	if len(anyVals) != 2 || anyVals[0] != "EUROPE" || anyVals[1] != "GLOBAL" {
		t.Fatalf("applicable_regions any values: got=%v", anyVals)
	}
}

func TestVectorStoreQueryScalarFilterIsExactMatch(t *testing.T) {
	var captured map[string]any
	s := newTestVectorStore(t, func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{}), nil
	})

	if _, err := s.Query(context.Background(), "compliance-rules", []float32{1, 2, 3}, 3, map[string]any{
		"source_document": "asa_code.md",
	}); err != nil {
		t.Fatalf("Query: %v", err)
	}

	filter := captured["filter"].(map[string]any)
	must := filter["must"].([]any)
	cond := findConditionByKey(t, must, "source_document")
	if cond == nil {
		t.Fatalf("missing source_document condition")
	}
	condMatch, ok := cond["match"].(map[string]any)
	if !ok || condMatch["value"] != "asa_code.md" {
		t.Fatalf("source_document match: got=%v", cond["match"])
	}
}

func TestVectorStoreDeleteIDsDedupesAndNamespacedPointIDs(t *testing.T) {
	var captured map[string]any
	s := newTestVectorStore(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost {
			t.Fatalf("method: want=%s got=%s", http.MethodPost, r.Method)
		}
		if r.URL.Path != "/collections/brandguard/points/delete" {
			t.Fatalf("path: want=%q got=%q", "/collections/brandguard/points/delete", r.URL.Path)
		}
		if r.URL.RawQuery != "wait=true" {
			t.Fatalf("query: want=%q got=%q", "wait=true", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	err := s.DeleteIDs(context.Background(), "compliance-rules", []string{"rule-1", "rule-1", " ", "rule-2"})
	if err != nil {
		t.Fatalf("DeleteIDs: %v", err)
	}

	points, ok := captured["points"].([]any)
	if !ok {
		t.Fatalf("points type: got=%T", captured["points"])
	}
	if len(points) != 2 {
		t.Fatalf("points length: want=2 got=%d", len(points))
	}

	got := map[string]struct{}{}
	for _, p := range points {
		id, ok := p.(string)
		if !ok {
			t.Fatalf("point id type: got=%T", p)
		}
		got[id] = struct{}{}
	}
	wantA := s.pointID("bg:compliance-rules", "rule-1")
	wantB := s.pointID("bg:compliance-rules", "rule-2")
	if _, ok := got[wantA]; !ok {
		t.Fatalf("missing point id: %s", wantA)
	}
	if _, ok := got[wantB]; !ok {
		t.Fatalf("missing point id: %s", wantB)
	}
}

func TestVectorStoreEnvelopeErrorStatus(t *testing.T) {
	s := newTestVectorStore(t, func(r *http.Request) (*http.Response, error) {
		payload := map[string]any{
			"result": nil,
			"status": map[string]any{"error": "collection not found"},
			"time":   0.001,
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal response: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewReader(raw)),
		}, nil
	})

	_, err := s.Query(context.Background(), "compliance-rules", []float32{1, 2, 3}, 3, nil)
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if opErr.Code != OperationErrorQueryFailed {
		t.Fatalf("error code: want=%q got=%q", OperationErrorQueryFailed, opErr.Code)
	}
}

func TestClassifyHTTPCallErrorTimeout(t *testing.T) {
	err := classifyHTTPCallError("query", "timeout", context.DeadlineExceeded)
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if opErr.Code != OperationErrorTimeout {
		t.Fatalf("error code: want=%q got=%q", OperationErrorTimeout, opErr.Code)
	}
}

func TestClassifyHTTPCallErrorTransport(t *testing.T) {
	err := classifyHTTPCallError("query", "transport", fmt.Errorf("boom"))
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if opErr.Code != OperationErrorTransportFailed {
		t.Fatalf("error code: want=%q got=%q", OperationErrorTransportFailed, opErr.Code)
	}
}

func findConditionByKey(t *testing.T, must []any, key string) map[string]any {
	t.Helper()
	for _, c := range must {
		cond, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if cond["key"] == key {
			return cond
		}
	}
	return nil
}

func newTestVectorStore(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *vectorStore {
	t.Helper()
	client := &http.Client{
		Transport: roundTripFunc(roundTrip),
	}
	return &vectorStore{
		log:      newTestLogger(t),
		cfg:      Config{URL: "http://qdrant.local", Collection: "brandguard", NamespacePrefix: "bg", VectorDim: 3},
		baseURL:  "http://qdrant.local",
		nsPrefix: "bg",
		http:     client,
		distance: "cosine",
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})
	return log
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	payload := map[string]any{
		"result": result,
		"status": "ok",
		"time":   0.001,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
