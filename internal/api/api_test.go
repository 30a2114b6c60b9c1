package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/starford/raido/internal/embedding"
	"github.com/starford/raido/internal/roamapi"
	"github.com/starford/raido/internal/syncer"
	"github.com/starford/raido/internal/testutil"
	"github.com/starford/raido/internal/vectorstore"
)

type fakeSource struct {
	blocks []roamapi.SyncBlock
}

func (f *fakeSource) GetAllBlocksForSync(ctx context.Context) ([]roamapi.SyncBlock, error) {
	return f.blocks, nil
}

func (f *fakeSource) GetBlocksModifiedSince(ctx context.Context, ts int64) ([]roamapi.SyncBlock, error) {
	return f.blocks, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = testutil.UnitVector(0)
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int { return embedding.Dimensions }

func testRouter(t *testing.T, source syncer.GraphSource, authEnabled bool, token string) (http.Handler, *vectorstore.Store) {
	t.Helper()
	store := testutil.TestStore(t, "testgraph")
	engine := syncer.New(source, store, fakeEmbedder{})
	svc := NewService("testgraph", store, engine, fakeEmbedder{})
	return NewRouter(svc, authEnabled, token), store
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.ContentLength = int64(len(body))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	h, store := testRouter(t, &fakeSource{}, false, "")
	if err := store.SetSyncStatus(vectorstore.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	if err := store.SetLastSyncTimestamp(42); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodGet, "/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Graph != "testgraph" || resp.SyncStatus != string(vectorstore.StatusCompleted) || resp.LastSyncTimestamp != 42 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAuthMiddleware(t *testing.T) {
	h, _ := testRouter(t, &fakeSource{}, true, "secret")

	rec := doJSON(t, h, http.MethodGet, "/status", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/status", "", map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/status", "", map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rec.Code)
	}
}

func TestSyncEndpoint(t *testing.T) {
	source := &fakeSource{blocks: []roamapi.SyncBlock{
		{UID: "b1", Content: "hello", EditTime: 7, PageTitle: "P"},
	}}
	h, store := testRouter(t, source, false, "")

	rec := doJSON(t, h, http.MethodPost, "/sync", `{"full":true}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp syncResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Full || resp.BlocksFetched != 1 || resp.BlocksEmbedded != 1 {
		t.Errorf("resp = %+v", resp)
	}

	vectors, _ := store.GetEmbeddingCount()
	if vectors != 1 {
		t.Errorf("vectors = %d, want 1", vectors)
	}
}

func TestSearchEndpoint(t *testing.T) {
	h, store := testRouter(t, &fakeSource{}, false, "")

	if _, err := store.UpsertBlocks([]vectorstore.Block{
		{UID: "b1", Content: "about gardening", PageTitle: "Garden"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertEmbeddings([]string{"b1"}, [][]float32{testutil.UnitVector(0)}); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodPost, "/search", `{"query":"gardening"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp struct {
		Results []searchHit `json:"results"`
		Total   int         `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || resp.Results[0].Content != "about gardening" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSearchEndpoint_RequiresQuery(t *testing.T) {
	h, _ := testRouter(t, &fakeSource{}, false, "")

	rec := doJSON(t, h, http.MethodPost, "/search", `{}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/search", `not json`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
