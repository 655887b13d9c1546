package adapters

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/coderead/pkg/errkind"
	"github.com/cuemby/coderead/pkg/types"
)

// VectorIndexAdapter is the typed client to the vector-store service.
// Operations: create-index, add-documents, query, delete-index.
type VectorIndexAdapter struct {
	http *httpClient
}

// NewVectorIndexAdapter builds a Vector Index Adapter.
func NewVectorIndexAdapter(baseURL, apiKey string, timeout time.Duration) *VectorIndexAdapter {
	return &VectorIndexAdapter{http: newHTTPClient(baseURL, apiKey, timeout)}
}

type createIndexRequest struct {
	Documents   []types.VectorChunk `json:"documents"`
	VectorField string              `json:"vector_field"`
}

type createIndexResponse struct {
	IndexName string `json:"index_name"`
}

// CreateIndex builds a new per-task collection and returns its opaque name.
func (a *VectorIndexAdapter) CreateIndex(ctx context.Context, documents []types.VectorChunk, vectorField string) (string, error) {
	var resp createIndexResponse
	err := a.http.doJSON(ctx, "VectorIndexAdapter.CreateIndex", http.MethodPost, "/v1/indexes", createIndexRequest{
		Documents:   documents,
		VectorField: vectorField,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.IndexName, nil
}

type addDocumentsRequest struct {
	Documents []types.VectorChunk `json:"documents"`
}

// AddDocuments appends a batch of documents to an existing index.
func (a *VectorIndexAdapter) AddDocuments(ctx context.Context, indexName string, documents []types.VectorChunk) error {
	return a.http.doJSON(ctx, "VectorIndexAdapter.AddDocuments", http.MethodPost, "/v1/indexes/"+indexName+"/documents", addDocumentsRequest{
		Documents: documents,
	}, nil)
}

type queryRequest struct {
	Text string `json:"text"`
	K    int    `json:"k"`
}

type queryResponse struct {
	Chunks []types.VectorChunk `json:"chunks"`
}

// Query returns the top-k chunks similar to text, used by the Analyze
// stage to fetch surrounding context for each file.
func (a *VectorIndexAdapter) Query(ctx context.Context, indexName, text string, k int) ([]types.VectorChunk, error) {
	var resp queryResponse
	err := a.http.doJSON(ctx, "VectorIndexAdapter.Query", http.MethodPost, "/v1/indexes/"+indexName+"/query", queryRequest{Text: text, K: k}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Chunks, nil
}

// DeleteIndex removes an index. Deleting an already-missing index is a
// success.
func (a *VectorIndexAdapter) DeleteIndex(ctx context.Context, indexName string) error {
	err := a.http.doJSON(ctx, "VectorIndexAdapter.DeleteIndex", http.MethodDelete, "/v1/indexes/"+indexName, nil, nil)
	if errkind.Is(err, errkind.NotFound) {
		return nil
	}
	return err
}

// Exists reports whether indexName is present, used by Stage 1's
// idempotent skip-if-already-indexed check.
func (a *VectorIndexAdapter) Exists(ctx context.Context, indexName string) (bool, error) {
	err := a.http.doJSON(ctx, "VectorIndexAdapter.Exists", http.MethodGet, "/v1/indexes/"+indexName, nil, nil)
	if err == nil {
		return true, nil
	}
	if errkind.Is(err, errkind.NotFound) {
		return false, nil
	}
	return false, err
}
