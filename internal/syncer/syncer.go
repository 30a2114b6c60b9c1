// Package syncer reconciles the local vector store against the remote graph
// and drives the embedding pipeline over blocks that still need vectors.
package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/raido/internal/embedding"
	"github.com/starford/raido/internal/roamapi"
	"github.com/starford/raido/internal/vectorstore"
)

// DefaultBatchSize bounds how many pending blocks are embedded per round.
const DefaultBatchSize = 64

// GraphSource is the slice of the remote client the engine needs. Consumers
// depend on this interface so tests can substitute a fake graph.
type GraphSource interface {
	GetAllBlocksForSync(ctx context.Context) ([]roamapi.SyncBlock, error)
	GetBlocksModifiedSince(ctx context.Context, timestamp int64) ([]roamapi.SyncBlock, error)
}

// Engine synchronizes one graph's vector store.
type Engine struct {
	source    GraphSource
	store     *vectorstore.Store
	embedder  embedding.Embedder
	batchSize int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithBatchSize sets the embedding batch size.
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// New creates a sync engine.
func New(source GraphSource, store *vectorstore.Store, embedder embedding.Embedder, opts ...EngineOption) *Engine {
	e := &Engine{
		source:    source,
		store:     store,
		embedder:  embedder,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats summarizes one sync run.
type Stats struct {
	Full           bool
	BlocksFetched  int
	BlocksEmbedded int
}

// Sync brings the store up to date. A full sync drops all local data and
// refetches everything; an incremental sync fetches only blocks edited after
// the stored last-sync timestamp. The status is marked in_progress for the
// duration and completed only on success, so a failed run remains visibly
// resumable. The last-sync timestamp only ever advances.
func (e *Engine) Sync(ctx context.Context, full bool) (Stats, error) {
	stats := Stats{Full: full}

	if full {
		if err := e.store.DropAllData(); err != nil {
			return stats, fmt.Errorf("syncer: drop for full resync: %w", err)
		}
	}

	if err := e.store.SetSyncStatus(vectorstore.StatusInProgress); err != nil {
		return stats, fmt.Errorf("syncer: mark in progress: %w", err)
	}

	var (
		blocks []roamapi.SyncBlock
		err    error
	)
	if full {
		blocks, err = e.source.GetAllBlocksForSync(ctx)
	} else {
		var since int64
		since, err = e.store.GetLastSyncTimestamp()
		if err != nil {
			return stats, fmt.Errorf("syncer: read last sync timestamp: %w", err)
		}
		blocks, err = e.source.GetBlocksModifiedSince(ctx, since)
	}
	if err != nil {
		return stats, fmt.Errorf("syncer: fetch blocks: %w", err)
	}
	stats.BlocksFetched = len(blocks)

	rows := make([]vectorstore.Block, len(blocks))
	var maxEdit int64
	for i, b := range blocks {
		rows[i] = vectorstore.Block{
			UID:       b.UID,
			Content:   b.Content,
			PageUID:   b.PageUID,
			PageTitle: b.PageTitle,
			EditTime:  b.EditTime,
		}
		if b.EditTime > maxEdit {
			maxEdit = b.EditTime
		}
	}
	if _, err := e.store.UpsertBlocks(rows); err != nil {
		return stats, fmt.Errorf("syncer: upsert blocks: %w", err)
	}

	embedded, err := e.embedPending(ctx)
	if err != nil {
		return stats, err
	}
	stats.BlocksEmbedded = embedded

	last, err := e.store.GetLastSyncTimestamp()
	if err != nil {
		return stats, fmt.Errorf("syncer: read last sync timestamp: %w", err)
	}
	if maxEdit > last {
		if err := e.store.SetLastSyncTimestamp(maxEdit); err != nil {
			return stats, fmt.Errorf("syncer: advance last sync timestamp: %w", err)
		}
	}

	if err := e.store.SetSyncStatus(vectorstore.StatusCompleted); err != nil {
		return stats, fmt.Errorf("syncer: mark completed: %w", err)
	}

	slog.Info("sync finished",
		slog.Bool("full", full),
		slog.Int("fetched", stats.BlocksFetched),
		slog.Int("embedded", stats.BlocksEmbedded))
	return stats, nil
}

// embedPending embeds batches of unembedded blocks until none remain.
func (e *Engine) embedPending(ctx context.Context) (int, error) {
	total := 0
	for {
		pending, err := e.store.GetBlocksNeedingEmbedding(e.batchSize)
		if err != nil {
			return total, fmt.Errorf("syncer: pending blocks: %w", err)
		}
		if len(pending) == 0 {
			return total, nil
		}

		uids := make([]string, len(pending))
		texts := make([]string, len(pending))
		for i, b := range pending {
			uids[i] = b.UID
			texts[i] = embedding.FormatForEmbedding(b.Content, b.PageTitle, b.ParentChain)
		}

		vectors, err := e.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return total, fmt.Errorf("syncer: embed batch: %w", err)
		}
		n, err := e.store.UpsertEmbeddings(uids, vectors)
		if err != nil {
			return total, fmt.Errorf("syncer: upsert embeddings: %w", err)
		}
		total += n
	}
}
