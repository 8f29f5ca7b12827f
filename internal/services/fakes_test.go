package services

import (
	"context"
	"testing"

	"github.com/brandguard/backend/internal/platform/logger"
	"github.com/brandguard/backend/internal/platform/openai"
	"github.com/brandguard/backend/internal/platform/vectorstore"
)

// fakeAIClient satisfies openai.Client with canned per-call behavior.
type fakeAIClient struct {
	embedFn        func(ctx context.Context, inputs []string) ([][]float32, error)
	generateJSONFn func(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
	generateTextFn func(ctx context.Context, system, user string) (string, error)

	usage *openai.Usage

	embedCalls        [][]string
	generateJSONCalls []string
	generateTextCalls []string
}

func (f *fakeAIClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.embedCalls = append(f.embedCalls, inputs)
	if f.embedFn != nil {
		return f.embedFn(ctx, inputs)
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeAIClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, *openai.Usage, error) {
	f.generateJSONCalls = append(f.generateJSONCalls, user)
	if f.generateJSONFn != nil {
		out, err := f.generateJSONFn(ctx, system, user, schemaName, schema)
		return out, f.usage, err
	}
	return map[string]any{}, f.usage, nil
}

func (f *fakeAIClient) GenerateText(ctx context.Context, system, user string) (string, *openai.Usage, error) {
	f.generateTextCalls = append(f.generateTextCalls, user)
	if f.generateTextFn != nil {
		text, err := f.generateTextFn(ctx, system, user)
		return text, f.usage, err
	}
	return "ok", f.usage, nil
}

// fakeVectorStore records calls and serves canned matches.
type fakeVectorStore struct {
	queryFn  func(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]vectorstore.Match, error)
	upsertFn func(ctx context.Context, namespace string, vectors []vectorstore.Vector) error

	lastNamespace string
	lastTopK      int
	lastFilter    map[string]any
	upserted      [][]vectorstore.Vector
}

func (f *fakeVectorStore) Upsert(ctx context.Context, namespace string, vectors []vectorstore.Vector) error {
	f.lastNamespace = namespace
	f.upserted = append(f.upserted, vectors)
	if f.upsertFn != nil {
		return f.upsertFn(ctx, namespace, vectors)
	}
	return nil
}

func (f *fakeVectorStore) Query(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]vectorstore.Match, error) {
	f.lastNamespace = namespace
	f.lastTopK = topK
	f.lastFilter = filter
	if f.queryFn != nil {
		return f.queryFn(ctx, namespace, q, topK, filter)
	}
	return nil, nil
}

func (f *fakeVectorStore) DeleteIDs(_ context.Context, _ string, _ []string) error {
	return nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	return log
}
