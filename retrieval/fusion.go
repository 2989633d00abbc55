// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"sort"

	"github.com/docentlab/docent/datatypes"
)

// languageBoost multiplies scores of documents matching the detected
// query language.
const languageBoost = 1.10

// FuseRRF combines the dense and lexical rankings with Reciprocal Rank
// Fusion: score(d) = Σ 1/(k + rank). Documents are deduplicated by id;
// the fused score becomes retrieval_score. The result is sorted by
// fused score descending (stable on ties by first appearance) and
// truncated to limit.
func FuseRRF(dense, lexical []datatypes.Document, k, limit int) []datatypes.Document {
	type entry struct {
		doc   datatypes.Document
		score float64
		order int
	}
	fused := map[string]*entry{}
	next := 0

	accumulate := func(ranked []datatypes.Document) {
		for rank, doc := range ranked {
			contribution := 1.0 / float64(k+rank+1)
			if e, ok := fused[doc.ID]; ok {
				e.score += contribution
				continue
			}
			fused[doc.ID] = &entry{doc: doc, score: contribution, order: next}
			next++
		}
	}
	accumulate(dense)
	accumulate(lexical)

	entries := make([]*entry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].order < entries[j].order
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]datatypes.Document, 0, len(entries))
	for _, e := range entries {
		e.doc.RetrievalScore = e.score
		out = append(out, e.doc)
	}
	return out
}

// ApplyLanguageBoost multiplies the retrieval score of documents whose
// metadata language equals the detected query language, then re-sorts
// stably. Documents without a language are left untouched.
func ApplyLanguageBoost(docs []datatypes.Document, queryLanguage string) []datatypes.Document {
	if queryLanguage == "" || queryLanguage == "unknown" {
		return docs
	}
	boosted := make([]datatypes.Document, len(docs))
	copy(boosted, docs)
	for i := range boosted {
		if boosted[i].Language() == queryLanguage {
			boosted[i].RetrievalScore *= languageBoost
		}
	}
	sort.SliceStable(boosted, func(i, j int) bool {
		return boosted[i].RetrievalScore > boosted[j].RetrievalScore
	})
	return boosted
}
