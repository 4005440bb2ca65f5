package apiclient

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"cardscan/internal/api"
	"cardscan/internal/scan"
)

// Upload sends image files as a new scan.
func (c *Client) Upload(ctx context.Context, paths []string) (api.UploadResponse, error) {
	if len(paths) == 0 {
		return api.UploadResponse{}, fmt.Errorf("no files to upload")
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return api.UploadResponse{}, err
		}
		if info.IsDir() {
			return api.UploadResponse{}, fmt.Errorf("%s is a directory", path)
		}
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeFiles(form, paths))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload/scan", nil), pr)
	if err != nil {
		_ = pr.Close()
		return api.UploadResponse{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var out api.UploadResponse
	err = c.send(req, &out)
	_ = pr.Close()
	return out, err
}

func writeFiles(form *multipart.Writer, paths []string) error {
	for _, path := range paths {
		if err := writeFile(form, path); err != nil {
			return err
		}
	}
	return form.Close()
}

func writeFile(form *multipart.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, filepath.Base(path)))
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}

// Process starts recognition. Repeating it for a processing scan is safe.
func (c *Client) Process(ctx context.Context, scanID string) (api.ScanStatus, error) {
	var out api.ScanStatus
	err := c.do(ctx, http.MethodPost, scanPath(scanID, "process"), nil, nil, &out)
	return out, err
}

// Status reports scan progress.
func (c *Client) Status(ctx context.Context, scanID string) (api.ScanStatus, error) {
	var out api.ScanStatus
	err := c.do(ctx, http.MethodGet, scanPath(scanID, "status"), nil, nil, &out)
	return out, err
}

// Results lists a scan's identified cards.
func (c *Client) Results(ctx context.Context, scanID string) (api.ResultsResponse, error) {
	var out api.ResultsResponse
	err := c.do(ctx, http.MethodGet, scanPath(scanID, "results"), nil, nil, &out)
	return out, err
}

// Accept marks results accepted. all selects every pending result.
func (c *Client) Accept(ctx context.Context, scanID string, resultIDs []string, all bool) (api.SelectionResponse, error) {
	var out api.SelectionResponse
	body := api.SelectionRequest{ResultIDs: resultIDs, AcceptAll: all}
	err := c.do(ctx, http.MethodPost, scanPath(scanID, "accept"), nil, body, &out)
	return out, err
}

// Reject marks results rejected. all selects every pending result.
func (c *Client) Reject(ctx context.Context, scanID string, resultIDs []string, all bool) (api.SelectionResponse, error) {
	var out api.SelectionResponse
	body := api.SelectionRequest{ResultIDs: resultIDs, All: all}
	err := c.do(ctx, http.MethodPost, scanPath(scanID, "reject"), nil, body, &out)
	return out, err
}

// Commit adds the accepted results to the collection.
func (c *Client) Commit(ctx context.Context, scanID string) (api.CommitResponse, error) {
	var out api.CommitResponse
	err := c.do(ctx, http.MethodPost, scanPath(scanID, "commit"), nil, nil, &out)
	return out, err
}

// Cancel abandons a scan and deletes its images and results.
func (c *Client) Cancel(ctx context.Context, scanID string) error {
	return c.do(ctx, http.MethodDelete, scanPath(scanID, ""), nil, nil, nil)
}

// AIResponse returns the raw model output recorded per image.
func (c *Client) AIResponse(ctx context.Context, scanID string) (api.AIResponse, error) {
	var out api.AIResponse
	err := c.do(ctx, http.MethodGet, scanPath(scanID, "ai-response"), nil, nil, &out)
	return out, err
}

// DownloadImage copies one stored scan image into w.
func (c *Client) DownloadImage(ctx context.Context, scanID, imageID string, w io.Writer) error {
	return c.do(ctx, http.MethodGet, scanPath(scanID, "images/"+url.PathEscape(imageID)), nil, nil, w)
}

// ListScans returns scan history, optionally filtered by status.
func (c *Client) ListScans(ctx context.Context, statuses ...scan.Status) (api.ScanListResponse, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("status", string(status))
	}
	var out api.ScanListResponse
	err := c.do(ctx, http.MethodGet, "/scans", query, nil, &out)
	return out, err
}

// ClearFailed removes every FAILED scan.
func (c *Client) ClearFailed(ctx context.Context) (api.ClearResponse, error) {
	var out api.ClearResponse
	err := c.do(ctx, http.MethodPost, "/scans/clear-failed", nil, nil, &out)
	return out, err
}

func scanPath(scanID, action string) string {
	path := "/scan/" + url.PathEscape(scanID)
	if action != "" {
		path += "/" + action
	}
	return path
}
