package vectorstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Block is the metadata row mirrored from the remote graph.
type Block struct {
	UID         string
	Content     string
	PageUID     string
	PageTitle   string
	ParentUID   string
	ParentChain []string
	EditTime    int64
}

// PendingBlock is a block awaiting an embedding.
type PendingBlock struct {
	UID         string
	Content     string
	PageTitle   string
	ParentChain []string
}

// SearchResult is one similarity search hit.
type SearchResult struct {
	UID         string
	Content     string
	PageTitle   string
	ParentChain []string
	Similarity  float64
}

// UpsertBlocks inserts or replaces block metadata keyed by UID. Every upsert
// resets embedded_at to null: a re-observed block is treated as stale even
// when its content is unchanged.
func (s *Store) UpsertBlocks(blocks []Block) (int, error) {
	if len(blocks) == 0 {
		return 0, nil
	}
	conn, err := s.db()
	if err != nil {
		return 0, err
	}

	tx, err := conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("vectorstore: begin upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO blocks
			(uid, content, page_uid, page_title, parent_uid, parent_chain, edit_time, embedded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
	`)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range blocks {
		var chain any
		if len(b.ParentChain) > 0 {
			data, err := json.Marshal(b.ParentChain)
			if err != nil {
				return 0, fmt.Errorf("vectorstore: encode parent chain: %w", err)
			}
			chain = string(data)
		}
		if _, err := stmt.Exec(b.UID, b.Content, b.PageUID, b.PageTitle, b.ParentUID, chain, b.EditTime); err != nil {
			return 0, fmt.Errorf("vectorstore: upsert block %s: %w", b.UID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("vectorstore: commit upsert: %w", err)
	}
	return len(blocks), nil
}

// UpsertEmbeddings replaces the vectors for the given UIDs (delete then
// insert, never a partial update) and stamps embedded_at on their metadata
// rows. The two slices must be the same length.
func (s *Store) UpsertEmbeddings(uids []string, vectors [][]float32) (int, error) {
	if len(uids) != len(vectors) {
		return 0, fmt.Errorf("vectorstore: %d uids but %d vectors", len(uids), len(vectors))
	}
	if len(uids) == 0 {
		return 0, nil
	}
	conn, err := s.db()
	if err != nil {
		return 0, err
	}

	tx, err := conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("vectorstore: begin embed upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(uids)), ",")
	args := make([]any, len(uids))
	for i, uid := range uids {
		args[i] = uid
	}

	if _, err := tx.Exec(`DELETE FROM embeddings WHERE uid IN (`+placeholders+`)`, args...); err != nil {
		return 0, fmt.Errorf("vectorstore: delete stale embeddings: %w", err)
	}

	insert, err := tx.Prepare(`INSERT INTO embeddings (uid, vector) VALUES (?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: prepare embed insert: %w", err)
	}
	defer insert.Close()

	for i, uid := range uids {
		if len(vectors[i]) != Dimensions {
			return 0, fmt.Errorf("vectorstore: vector for %s has %d dimensions, want %d",
				uid, len(vectors[i]), Dimensions)
		}
		if _, err := insert.Exec(uid, encodeVector(vectors[i])); err != nil {
			return 0, fmt.Errorf("vectorstore: insert embedding %s: %w", uid, err)
		}
	}

	now := s.now().UnixMilli()
	stampArgs := append([]any{now}, args...)
	if _, err := tx.Exec(`UPDATE blocks SET embedded_at = ? WHERE uid IN (`+placeholders+`)`, stampArgs...); err != nil {
		return 0, fmt.Errorf("vectorstore: stamp embedded_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("vectorstore: commit embed upsert: %w", err)
	}
	return len(uids), nil
}

// Search returns the blocks nearest to the query vector, at most limit of
// them, with L2 distance converted to a similarity in [0,1] assuming both
// sides are unit-normalized. Results below minSimilarity are discarded;
// remaining results are ordered by descending similarity.
func (s *Store) Search(query []float32, limit int, minSimilarity float64) ([]SearchResult, error) {
	if len(query) != Dimensions {
		return nil, fmt.Errorf("vectorstore: query vector has %d dimensions, want %d", len(query), Dimensions)
	}
	if limit <= 0 {
		limit = 10
	}
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(`
		SELECT e.uid, e.vector, b.content, b.page_title, b.parent_chain
		FROM embeddings e
		JOIN blocks b ON b.uid = e.uid
	`)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		result   SearchResult
		distance float64
	}
	var candidates []candidate

	for rows.Next() {
		var (
			uid, content string
			blob         []byte
			pageTitle    sql.NullString
			chainJSON    sql.NullString
		)
		if err := rows.Scan(&uid, &blob, &content, &pageTitle, &chainJSON); err != nil {
			return nil, fmt.Errorf("vectorstore: scan search row: %w", err)
		}
		vector, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: vector for %s: %w", uid, err)
		}

		candidates = append(candidates, candidate{
			result: SearchResult{
				UID:         uid,
				Content:     content,
				PageTitle:   pageTitle.String,
				ParentChain: decodeChain(chainJSON),
			},
			distance: squaredDistance(query, vector),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore: search rows: %w", err)
	}

	// Nearest limit candidates first, then the similarity floor.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		similarity := 1.0 - c.distance/2.0
		if similarity < 0 {
			similarity = 0
		}
		if similarity < minSimilarity {
			continue
		}
		r := c.result
		r.Similarity = similarity
		results = append(results, r)
	}
	return results, nil
}

// GetBlocksNeedingEmbedding returns up to limit blocks whose embedded_at is
// null. Order is unspecified beyond being stable within one call.
func (s *Store) GetBlocksNeedingEmbedding(limit int) ([]PendingBlock, error) {
	if limit <= 0 {
		limit = 1000
	}
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(`
		SELECT uid, content, page_title, parent_chain
		FROM blocks
		WHERE embedded_at IS NULL
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: blocks needing embedding: %w", err)
	}
	defer rows.Close()

	var out []PendingBlock
	for rows.Next() {
		var (
			b         PendingBlock
			pageTitle sql.NullString
			chainJSON sql.NullString
		)
		if err := rows.Scan(&b.UID, &b.Content, &pageTitle, &chainJSON); err != nil {
			return nil, fmt.Errorf("vectorstore: scan pending block: %w", err)
		}
		b.PageTitle = pageTitle.String
		b.ParentChain = decodeChain(chainJSON)
		out = append(out, b)
	}
	return out, rows.Err()
}

func decodeChain(chainJSON sql.NullString) []string {
	if !chainJSON.Valid || chainJSON.String == "" {
		return nil
	}
	var chain []string
	if err := json.Unmarshal([]byte(chainJSON.String), &chain); err != nil {
		return nil
	}
	return chain
}
