package adapters

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/coderead/pkg/errkind"
)

// DocGenStatus is the remote document-generation job's polled state.
type DocGenStatus struct {
	Progress     float64 `json:"progress"`
	CurrentStage string  `json:"current_stage"`
	Markdown     string  `json:"markdown,omitempty"`
	Error        string  `json:"error,omitempty"`
	Done         bool    `json:"done"`
}

// DocGenAdapter is the typed client to the documentation-rendering service.
type DocGenAdapter struct {
	http *httpClient
}

// NewDocGenAdapter builds a Document-Generation Adapter.
func NewDocGenAdapter(baseURL, apiKey string, timeout time.Duration) *DocGenAdapter {
	return &DocGenAdapter{http: newHTTPClient(baseURL, apiKey, timeout)}
}

type submitRequest struct {
	LocalPath string            `json:"local_path"`
	Options   map[string]string `json:"options,omitempty"`
}

type submitResponse struct {
	RemoteTaskID string `json:"remote_task_id"`
}

// Submit starts a documentation job for the given local repository path.
func (a *DocGenAdapter) Submit(ctx context.Context, localPath string, options map[string]string) (string, error) {
	var resp submitResponse
	err := a.http.doJSON(ctx, "DocGenAdapter.Submit", http.MethodPost, "/v1/jobs", submitRequest{
		LocalPath: localPath,
		Options:   options,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.RemoteTaskID, nil
}

// Status polls a previously submitted job. Polling cadence and the total
// time bound belong to the Pipeline Driver.
func (a *DocGenAdapter) Status(ctx context.Context, remoteTaskID string) (*DocGenStatus, error) {
	var status DocGenStatus
	err := a.http.doJSON(ctx, "DocGenAdapter.Status", http.MethodGet, "/v1/jobs/"+remoteTaskID, nil, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// Delete removes a submitted job's remote artifact. Deleting an
// already-missing job is a success.
func (a *DocGenAdapter) Delete(ctx context.Context, remoteTaskID string) error {
	err := a.http.doJSON(ctx, "DocGenAdapter.Delete", http.MethodDelete, "/v1/jobs/"+remoteTaskID, nil, nil)
	if errkind.Is(err, errkind.NotFound) {
		return nil
	}
	return err
}
