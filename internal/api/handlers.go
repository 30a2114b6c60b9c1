package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/raido/internal/embedding"
	"github.com/starford/raido/internal/syncer"
	"github.com/starford/raido/internal/vectorstore"
)

// Service bundles the dependencies of the status API.
type Service struct {
	graph    string
	store    *vectorstore.Store
	engine   *syncer.Engine
	embedder embedding.Embedder
}

// NewService creates a new Service.
func NewService(graph string, store *vectorstore.Store, engine *syncer.Engine, embedder embedding.Embedder) *Service {
	return &Service{graph: graph, store: store, engine: engine, embedder: embedder}
}

// Handler holds API route handlers.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type statusResponse struct {
	Graph             string `json:"graph"`
	SyncStatus        string `json:"sync_status"`
	LastSyncTimestamp int64  `json:"last_sync_timestamp"`
	BlockCount        int    `json:"block_count"`
	EmbeddingCount    int    `json:"embedding_count"`
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.store.GetSyncStatus()
	if err != nil {
		slog.Error("status failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	last, err := h.svc.store.GetLastSyncTimestamp()
	if err != nil {
		slog.Error("status failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	blocks, err := h.svc.store.GetBlockCount()
	if err != nil {
		slog.Error("status failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	vectors, err := h.svc.store.GetEmbeddingCount()
	if err != nil {
		slog.Error("status failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Graph:             h.svc.graph,
		SyncStatus:        string(status),
		LastSyncTimestamp: last,
		BlockCount:        blocks,
		EmbeddingCount:    vectors,
	})
}

type searchRequest struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit"`
	MinSimilarity float64 `json:"min_similarity"`
}

type searchHit struct {
	UID         string   `json:"uid"`
	Content     string   `json:"content"`
	PageTitle   string   `json:"page_title,omitempty"`
	ParentChain []string `json:"parent_chain,omitempty"`
	Similarity  float64  `json:"similarity"`
}

// Search handles POST /api/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query is required"))
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	vectors, err := h.svc.embedder.EmbedTexts(r.Context(), []string{req.Query})
	if err != nil {
		slog.Error("search embed failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if len(vectors) != 1 {
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	results, err := h.svc.store.Search(vectors[0], req.Limit, req.MinSimilarity)
	if err != nil {
		slog.Error("search failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	hits := make([]searchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, searchHit{
			UID:         res.UID,
			Content:     res.Content,
			PageTitle:   res.PageTitle,
			ParentChain: res.ParentChain,
			Similarity:  res.Similarity,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": hits,
		"total":   len(hits),
	})
}

type syncRequest struct {
	Full bool `json:"full"`
}

type syncResponse struct {
	Full           bool `json:"full"`
	BlocksFetched  int  `json:"blocks_fetched"`
	BlocksEmbedded int  `json:"blocks_embedded"`
}

// Sync handles POST /api/sync.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req syncRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
	}

	stats, err := h.svc.engine.Sync(r.Context(), req.Full)
	if err != nil {
		slog.Error("sync failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		Full:           stats.Full,
		BlocksFetched:  stats.BlocksFetched,
		BlocksEmbedded: stats.BlocksEmbedded,
	})
}
