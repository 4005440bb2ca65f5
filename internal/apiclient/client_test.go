package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardscan/internal/api"
	"cardscan/internal/apiclient"
	"cardscan/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func newClient(t *testing.T, handler http.HandlerFunc, opts ...apiclient.Option) *apiclient.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := apiclient.New(srv.URL, opts...)
	require.NoError(t, err)
	return client
}

func TestErrorsUnwrapToServiceMarkers(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      string
		marker    error
		retryable bool
	}{
		{name: "nothing accepted", status: http.StatusBadRequest, code: "nothing_accepted", marker: services.ErrNothingAccepted},
		{name: "not found", status: http.StatusNotFound, code: "not_found", marker: services.ErrNotFound},
		{name: "commit failure", status: http.StatusServiceUnavailable, code: "commit_failed", marker: services.ErrCommit, retryable: true},
		{name: "bare 503", status: http.StatusServiceUnavailable, marker: services.ErrTransient, retryable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, api.ErrorResponse{Error: tt.code, Message: "boom", Code: tt.status, CorrelationID: "req-1"})
			})
			_, err := client.Commit(context.Background(), "scan-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.marker)
			assert.Equal(t, tt.retryable, services.Retryable(err))

			var apiErr *apiclient.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Contains(t, err.Error(), "req-1")
		})
	}
}

func TestUploadStreamsMultipartFiles(t *testing.T) {
	dir := t.TempDir()
	front := filepath.Join(dir, "front.png")
	back := filepath.Join(dir, "back.jpg")
	require.NoError(t, os.WriteFile(front, []byte("png bytes"), 0o644))
	require.NoError(t, os.WriteFile(back, []byte("jpg bytes"), 0o644))

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload/scan", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		files := r.MultipartForm.File["files"]
		if !assert.Len(t, files, 2) {
			return
		}
		assert.Equal(t, "front.png", files[0].Filename)
		assert.Equal(t, "image/png", files[0].Header.Get("Content-Type"))
		f, err := files[1].Open()
		if !assert.NoError(t, err) {
			return
		}
		body, _ := io.ReadAll(f)
		_ = f.Close()
		assert.Equal(t, "jpg bytes", string(body))
		writeJSON(w, http.StatusOK, api.UploadResponse{ScanID: "scan-9", Status: "CREATED", TotalImages: 2})
	}, apiclient.WithToken("tok"))

	resp, err := client.Upload(context.Background(), []string{front, back})
	require.NoError(t, err)
	assert.Equal(t, "scan-9", resp.ScanID)

	_, err = client.Upload(context.Background(), []string{dir})
	assert.Error(t, err)
}

func TestWatchPollsUntilSettled(t *testing.T) {
	var polls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		n := polls.Add(1)
		status := api.ScanStatus{ScanID: "s", Status: "PROCESSING", TotalImages: 3, ProcessedImages: int(n)}
		if n >= 3 {
			status.Status = "READY_FOR_REVIEW"
		}
		writeJSON(w, http.StatusOK, status)
	})

	var seen []int
	final, err := client.Watch(context.Background(), "s", apiclient.WatchOptions{
		Interval: time.Millisecond,
		OnUpdate: func(s api.ScanStatus) { seen = append(seen, s.ProcessedImages) },
	})
	require.NoError(t, err)
	assert.Equal(t, "READY_FOR_REVIEW", final.Status)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestWatchRetriesTransientErrors(t *testing.T) {
	var polls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, api.ErrorResponse{Error: "storage_unavailable", Retryable: true})
			return
		}
		writeJSON(w, http.StatusOK, api.ScanStatus{Status: "FAILED"})
	})
	final, err := client.Watch(context.Background(), "s", apiclient.WatchOptions{Interval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "FAILED", final.Status)

	failing := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, api.ErrorResponse{Error: "storage_unavailable"})
	})
	_, err = failing.Watch(context.Background(), "s", apiclient.WatchOptions{Interval: time.Millisecond, MaxFailures: 2})
	assert.ErrorIs(t, err, services.ErrStorage)
}

func TestWatchStopsOnFixRequestErrors(t *testing.T) {
	var polls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		polls.Add(1)
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "not_found"})
	})
	_, err := client.Watch(context.Background(), "gone", apiclient.WatchOptions{Interval: time.Millisecond})
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.EqualValues(t, 1, polls.Load())
}

func TestWatchHonorsCancellation(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, api.ScanStatus{Status: "PROCESSING"})
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	last, err := client.Watch(ctx, "s", apiclient.WatchOptions{Interval: 5 * time.Millisecond})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "PROCESSING", last.Status)
}

func TestProcessWithRetry(t *testing.T) {
	var calls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, api.ErrorResponse{Error: "temporarily_unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, api.ScanStatus{Status: "PROCESSING"})
	})
	status, err := client.ProcessWithRetry(context.Background(), "s", 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "PROCESSING", status.Status)
	assert.EqualValues(t, 3, calls.Load())
}

func TestUnreachableDaemon(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()

	client, err := apiclient.New(addr)
	require.NoError(t, err)
	_, err = client.Status(context.Background(), "s")
	require.Error(t, err)
	assert.True(t, apiclient.IsUnavailable(err))

	_, err = apiclient.New("  ")
	assert.True(t, apiclient.IsUnavailable(err))
}

func TestListStacksBuildsQuery(t *testing.T) {
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponderWithQuery(http.MethodGet, "http://cardscan.test/cards",
		"view_mode=stacked&set=M10&q=bolt&sort=price",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, api.StackListResponse{ViewMode: "stacked", Total: 1}))

	client, err := apiclient.New("http://cardscan.test", apiclient.WithHTTPClient(httpClient))
	require.NoError(t, err)
	resp, err := client.ListStacks(context.Background(), apiclient.CardQuery{Sort: "price", Set: "M10", Query: "bolt"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}
