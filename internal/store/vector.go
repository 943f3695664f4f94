package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"finsight/internal/embedding"
	"finsight/internal/logging"
	"finsight/internal/types"
)

// AddProcessed inserts all chunks of a processed document in one
// transaction. Existing chunks with the same id are replaced, so
// re-adding a document is idempotent.
func (s *Store) AddProcessed(ctx context.Context, doc *types.ProcessedDocument) error {
	timer := logging.StartTimer(logging.CategoryStore, "AddProcessed")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	meta := doc.Metadata
	if meta == nil {
		meta = map[string]string{}
	}

	// Embed up front so a failed embedding leaves no partial document.
	var vectors [][]float32
	if s.engine != nil {
		var err error
		vectors, err = s.engine.EmbedBatch(ctx, doc.Chunks)
		if err != nil {
			return fmt.Errorf("failed to embed document %s: %w", doc.DocID, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO document_chunks
			(chunk_id, doc_id, company, symbol, doc_type, year, month, seq, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, chunk := range doc.Chunks {
		chunkID := fmt.Sprintf("%s_chunk_%d", doc.DocID, i)
		var embJSON interface{}
		if vectors != nil {
			data, err := json.Marshal(vectors[i])
			if err != nil {
				return fmt.Errorf("serialize embedding: %w", err)
			}
			embJSON = string(data)
		}
		if _, err := stmt.Exec(
			chunkID, doc.DocID,
			meta["company"], meta["symbol"], meta["doc_type"],
			meta["year"], meta["month"],
			i, chunk, embJSON,
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", chunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}

	logging.Store("Indexed document %s (%d chunks)", doc.DocID, len(doc.Chunks))
	return nil
}

// SimilaritySearch embeds the query and returns the top-k chunks by
// cosine similarity. Without an embedding engine it falls back to a
// keyword scan.
func (s *Store) SimilaritySearch(ctx context.Context, query string, k int) ([]types.ScoredChunk, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SimilaritySearch")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 {
		k = 8
	}

	if s.engine == nil {
		return s.keywordSearch(query, k)
	}

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT chunk_id, doc_id, company, symbol, doc_type, year, month, content, embedding
		FROM document_chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []types.ScoredChunk
	for rows.Next() {
		var c types.ScoredChunk
		var docID, company, symbol, docType, year, month, embJSON string
		if err := rows.Scan(&c.ChunkID, &docID, &company, &symbol, &docType, &year, &month, &c.Content, &embJSON); err != nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		c.Similarity = embedding.CosineSimilarity(queryVec, vec)
		c.Metadata = map[string]string{
			"doc_id":   docID,
			"company":  company,
			"symbol":   symbol,
			"doc_type": docType,
			"year":     year,
			"month":    month,
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	logging.StoreDebug("SimilaritySearch(%q, %d) -> %d hits", query, k, len(candidates))
	return candidates, nil
}

// keywordSearch is a degraded path when no embedding engine is wired:
// score by count of query terms present in the chunk.
func (s *Store) keywordSearch(query string, k int) ([]types.ScoredChunk, error) {
	terms := strings.Fields(strings.ToLower(query))

	rows, err := s.db.Query(`
		SELECT chunk_id, doc_id, company, symbol, doc_type, year, month, content
		FROM document_chunks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []types.ScoredChunk
	for rows.Next() {
		var c types.ScoredChunk
		var docID, company, symbol, docType, year, month string
		if err := rows.Scan(&c.ChunkID, &docID, &company, &symbol, &docType, &year, &month, &c.Content); err != nil {
			continue
		}
		lower := strings.ToLower(c.Content)
		hits := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		c.Similarity = float64(hits) / float64(len(terms)+1)
		c.Metadata = map[string]string{
			"doc_id":   docID,
			"company":  company,
			"symbol":   symbol,
			"doc_type": docType,
			"year":     year,
			"month":    month,
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}
