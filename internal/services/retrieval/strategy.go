package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
)

// Strategy decides which queries are sent to the store for one question
type Strategy string

const (
	StrategyAdaptive     Strategy = "adaptive"
	StrategyMultiQuery   Strategy = "multi_query"
	StrategyContextAware Strategy = "context_aware"
	StrategyDefault      Strategy = "default"
)

func Strategies() []Strategy {
	return []Strategy{StrategyAdaptive, StrategyMultiQuery, StrategyContextAware, StrategyDefault}
}

// ParseStrategy accepts the strategy names case-insensitively; empty is adaptive
func ParseStrategy(s string) (Strategy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StrategyAdaptive, nil
	}
	for _, st := range Strategies() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q (expected adaptive, multi_query, context_aware or default)", s)
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "do": {}, "does": {}, "i": {}, "my": {},
	"how": {}, "what": {}, "which": {}, "why": {}, "can": {}, "to": {}, "on": {}, "of": {},
	"in": {}, "for": {}, "with": {}, "and": {}, "or": {}, "it": {}, "me": {}, "you": {},
}

// Queries returns the retrieval queries for question. priorTurn is the
// previous user message, if any.
func (s Strategy) Queries(question, priorTurn string) []string {
	switch s {
	case StrategyMultiQuery:
		queries := []string{question}
		if kw := keywords(question); kw != "" && kw != strings.ToLower(question) {
			queries = append(queries, kw)
		}
		return queries
	case StrategyContextAware:
		if priorTurn = strings.TrimSpace(priorTurn); priorTurn != "" {
			return []string{priorTurn + "\n" + question}
		}
		return []string{question}
	default:
		return []string{question}
	}
}

func keywords(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '-' || r == '_' || r == '.' || r == '/' || ('a' <= r && r <= 'z') || ('0' <= r && r <= '9'))
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if _, stop := stopWords[f]; stop || f == "" {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// SearchAll runs every query and merges the results. A chunk found by more
// than one query keeps its best score; ties keep first-seen order.
func SearchAll(ctx context.Context, store Store, collection string, queries []string, k int) (models.RetrievalResult, error) {
	if len(queries) == 1 {
		return Search(ctx, store, collection, queries[0], k)
	}

	index := make(map[string]int)
	var merged models.RetrievalResult
	for _, q := range queries {
		result, err := Search(ctx, store, collection, q, k)
		if err != nil {
			return nil, err
		}
		for _, sc := range result {
			if i, ok := index[sc.Chunk.ID]; ok {
				if sc.Score > merged[i].Score {
					merged[i].Score = sc.Score
				}
				continue
			}
			index[sc.Chunk.ID] = len(merged)
			merged = append(merged, sc)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	if merged == nil {
		merged = models.RetrievalResult{}
	}
	return merged, nil
}
