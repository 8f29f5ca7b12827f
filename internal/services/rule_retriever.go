package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/brandguard/backend/internal/domain/audit"
	"github.com/brandguard/backend/internal/platform/ctxutil"
	"github.com/brandguard/backend/internal/platform/envutil"
	"github.com/brandguard/backend/internal/platform/logger"
	"github.com/brandguard/backend/internal/platform/openai"
	"github.com/brandguard/backend/internal/platform/vectorstore"
)

const (
	// Payload keys used for rule vectors, shared with the ingestion CLI.
	payloadRuleID         = "rule_id"
	payloadSourceDocument = "source_document"
	payloadTextExcerpt    = "text_excerpt"
	payloadRegions        = "applicable_regions"

	rulesNamespace = "compliance-rules"

	maxQueryChars = 4000
)

// RuleRetriever embeds a query synthesized from the evidence and pulls the
// top matching rule excerpts for the audited region (exact region plus
// GLOBAL wildcards).
type RuleRetriever interface {
	Retrieve(ctx context.Context, ev *audit.EvidenceBundle, region audit.Region) ([]audit.RuleExcerpt, error)
}

type ruleRetriever struct {
	log   *logger.Logger
	ai    openai.Client
	store vectorstore.Store
	topK  int
}

func NewRuleRetriever(baseLog *logger.Logger, ai openai.Client, store vectorstore.Store) RuleRetriever {
	topK := envutil.Int("AUDIT_RETRIEVAL_TOPK", 6)
	if topK < 1 {
		topK = 1
	}
	if topK > 20 {
		topK = 20
	}
	return &ruleRetriever{
		log:   baseLog.With("service", "RuleRetriever"),
		ai:    ai,
		store: store,
		topK:  topK,
	}
}

func (s *ruleRetriever) Retrieve(ctx context.Context, ev *audit.EvidenceBundle, region audit.Region) ([]audit.RuleExcerpt, error) {
	ctx = ctxutil.Default(ctx)
	if ev == nil {
		return nil, &audit.RetrievalError{Err: fmt.Errorf("nil evidence bundle")}
	}

	query := buildRetrievalQuery(ev, region)
	vecs, err := s.ai.Embed(ctx, []string{query})
	if err != nil {
		return nil, &audit.RetrievalError{Err: fmt.Errorf("embed query: %w", err)}
	}
	if len(vecs) != 1 {
		return nil, &audit.RetrievalError{Err: fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))}
	}

	filter := map[string]any{
		payloadRegions: []string{string(region), string(audit.RegionGlobal)},
	}
	matches, err := s.store.Query(ctx, rulesNamespace, vecs[0], s.topK, filter)
	if err != nil {
		return nil, &audit.RetrievalError{Err: fmt.Errorf("vector query: %w", err)}
	}

	excerpts := make([]audit.RuleExcerpt, 0, len(matches))
	for _, m := range matches {
		ex := excerptFromMatch(m)
		if !ex.AppliesTo(region) {
			continue
		}
		excerpts = append(excerpts, ex)
	}

	// Score descending; on ties region-exact rules outrank GLOBAL-only ones,
	// then rule id keeps the order deterministic.
	sort.SliceStable(excerpts, func(i, j int) bool {
		if excerpts[i].RelevanceScore != excerpts[j].RelevanceScore {
			return excerpts[i].RelevanceScore > excerpts[j].RelevanceScore
		}
		ei := excerpts[i].MatchesExactly(region)
		ej := excerpts[j].MatchesExactly(region)
		if ei != ej {
			return ei
		}
		return excerpts[i].RuleID < excerpts[j].RuleID
	})

	if len(excerpts) == 0 {
		s.log.Warn("No applicable rules retrieved", "region", string(region))
	} else {
		s.log.Debug("Rules retrieved", "count", len(excerpts), "region", string(region))
	}
	return excerpts, nil
}

func excerptFromMatch(m vectorstore.Match) audit.RuleExcerpt {
	ex := audit.RuleExcerpt{
		RuleID:         m.ID,
		RelevanceScore: m.Score,
	}
	if v, ok := m.Payload[payloadRuleID].(string); ok && v != "" {
		ex.RuleID = v
	}
	if v, ok := m.Payload[payloadSourceDocument].(string); ok {
		ex.SourceDocument = v
	}
	if v, ok := m.Payload[payloadTextExcerpt].(string); ok {
		ex.TextExcerpt = v
	}
	ex.ApplicableRegions = regionsFromPayload(m.Payload[payloadRegions])
	if len(ex.ApplicableRegions) == 0 {
		ex.ApplicableRegions = []audit.Region{audit.RegionGlobal}
	}
	return ex
}

func regionsFromPayload(raw any) []audit.Region {
	out := []audit.Region{}
	appendOne := func(s string) {
		if r, ok := audit.ParseRegion(s); ok {
			out = append(out, r)
		}
	}
	switch v := raw.(type) {
	case []string:
		for _, s := range v {
			appendOne(s)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				appendOne(s)
			}
		}
	case string:
		appendOne(v)
	}
	return out
}

// buildRetrievalQuery compresses the evidence into one retrieval string:
// spoken content first, then on-screen text, detected brands, and a region
// qualifier so regional wording in the rule corpus can match.
func buildRetrievalQuery(ev *audit.EvidenceBundle, region audit.Region) string {
	var b strings.Builder

	if t := ev.TranscriptText(); t != "" {
		b.WriteString(t)
	}
	if lines := ev.OCRLines(); len(lines) > 0 {
		b.WriteString("\nOn-screen text: ")
		b.WriteString(strings.Join(lines, "; "))
	}
	if labels := ev.MarkLabels(); len(labels) > 0 {
		b.WriteString("\nBrands shown: ")
		b.WriteString(strings.Join(labels, ", "))
	}
	b.WriteString("\nAdvertising compliance rules for region ")
	b.WriteString(string(region))

	return cutAtRuneBoundary(b.String(), maxQueryChars)
}
