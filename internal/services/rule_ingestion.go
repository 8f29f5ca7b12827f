package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/brandguard/backend/internal/domain/audit"
	"github.com/brandguard/backend/internal/platform/ctxutil"
	"github.com/brandguard/backend/internal/platform/logger"
	"github.com/brandguard/backend/internal/platform/openai"
	"github.com/brandguard/backend/internal/platform/vectorstore"
)

const (
	chunkMaxChars  = 1200
	embedBatchSize = 64
)

// RuleDocument is one compliance reference document to index: its text gets
// chunked, embedded, and upserted with region payloads.
type RuleDocument struct {
	SourceDocument string
	Text           string
	Regions        []audit.Region
}

type RuleIngestionService interface {
	IngestDocument(ctx context.Context, doc RuleDocument) (int, error)
}

type ruleIngestionService struct {
	log   *logger.Logger
	ai    openai.Client
	store vectorstore.Store
}

func NewRuleIngestionService(baseLog *logger.Logger, ai openai.Client, store vectorstore.Store) RuleIngestionService {
	return &ruleIngestionService{
		log:   baseLog.With("service", "RuleIngestionService"),
		ai:    ai,
		store: store,
	}
}

func (s *ruleIngestionService) IngestDocument(ctx context.Context, doc RuleDocument) (int, error) {
	ctx = ctxutil.Default(ctx)

	source := strings.TrimSpace(doc.SourceDocument)
	if source == "" {
		return 0, fmt.Errorf("source document name required")
	}
	chunks := chunkRuleText(doc.Text)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %q has no indexable text", source)
	}

	regions := doc.Regions
	if len(regions) == 0 {
		regions = []audit.Region{audit.RegionGlobal}
	}
	regionStrs := make([]string, 0, len(regions))
	for _, r := range regions {
		regionStrs = append(regionStrs, string(r))
	}

	total := 0
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		embeddings, err := s.ai.Embed(ctx, batch)
		if err != nil {
			return total, fmt.Errorf("embed batch %d: %w", start/embedBatchSize, err)
		}

		vectors := make([]vectorstore.Vector, 0, len(batch))
		for i, text := range batch {
			ruleID := fmt.Sprintf("%s#%d", slugify(source), start+i)
			vectors = append(vectors, vectorstore.Vector{
				ID:     ruleID,
				Values: embeddings[i],
				Payload: map[string]any{
					payloadRuleID:         ruleID,
					payloadSourceDocument: source,
					payloadTextExcerpt:    text,
					payloadRegions:        regionStrs,
				},
			})
		}

		if err := s.store.Upsert(ctx, rulesNamespace, vectors); err != nil {
			return total, fmt.Errorf("upsert batch %d: %w", start/embedBatchSize, err)
		}
		total += len(vectors)
	}

	s.log.Info("Rule document indexed", "source", source, "chunks", total, "regions", strings.Join(regionStrs, ","))
	return total, nil
}

// chunkRuleText splits on blank lines and re-packs paragraphs into chunks of
// at most chunkMaxChars, so one chunk stays one coherent excerpt.
func chunkRuleText(text string) []string {
	paras := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	chunks := []string{}
	var cur strings.Builder

	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			chunks = append(chunks, t)
		}
		cur.Reset()
	}

	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		for len(p) > chunkMaxChars {
			flush()
			head := cutAtRuneBoundary(p, chunkMaxChars)
			chunks = append(chunks, strings.TrimSpace(head))
			p = strings.TrimSpace(p[len(head):])
		}
		if p == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(p)+1 > chunkMaxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(p)
	}
	flush()
	return chunks
}

// cutAtRuneBoundary truncates s to at most max bytes without splitting a
// multi-byte rune.
func cutAtRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return s[:max]
	}
	return s[:cut]
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '_', r == '-', r == '.', r == '/':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
