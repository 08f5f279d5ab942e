package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/example/video-platform/internal/platform/auth"
	"github.com/example/video-platform/services/history/internal/analytics"
	"github.com/example/video-platform/services/history/internal/catalog"
	"github.com/example/video-platform/services/history/internal/metadata"
	"github.com/example/video-platform/services/history/internal/store"
)

// stubProvider is a metadata.Provider with canned answers.
type stubProvider struct {
	video metadata.Video
	err   error
	calls int
}

func (s *stubProvider) Fetch(_ context.Context, videoID string) (metadata.Video, error) {
	s.calls++
	if s.err != nil {
		return metadata.Video{}, s.err
	}
	v := s.video
	v.VideoID = videoID
	return v, nil
}

func (s *stubProvider) ThumbnailURL(videoID string) string {
	return "https://img.youtube.com/vi/" + videoID + "/hqdefault.jpg"
}

func newTestHandler(t *testing.T) (*HistoryHandler, *store.InMemoryHistoryStore, *catalog.InMemoryCatalog) {
	t.Helper()
	st := store.NewInMemoryHistoryStore(store.DefaultMaxEntries)
	cat := catalog.NewInMemoryCatalog()
	meta := &stubProvider{err: metadata.ErrNotConfigured}
	engine := analytics.NewEngine(st, cat, nil, nil)
	h := NewHistoryHandler(st, cat, meta, engine, nil, nil, nil)
	return h, st, cat
}

// setupReq builds a request with chi URL params and optional user id in context.
func setupReq(method, url string, body string, params map[string]string, userID string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if userID != "" {
		ctx = auth.WithUserID(ctx, userID)
	}
	return req.WithContext(ctx)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestSaveHistory_External(t *testing.T) {
	h, st, _ := newTestHandler(t)

	req := setupReq(http.MethodPost, "/history",
		`{"videoId":"dQw4w9WgXcQ","platform":"external","progress":42,"duration":212,"title":"Song","channelName":"Artist"}`,
		nil, "user-a")
	rr := httptest.NewRecorder()
	h.Save(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if !env.Success || env.Message != "History saved successfully" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	var payload struct {
		Progress        int `json:"progress"`
		WatchCount      int `json:"watchCount"`
		WatchPercentage int `json:"watchPercentage"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if payload.Progress != 42 || payload.WatchCount != 1 {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.WatchPercentage != 20 {
		t.Fatalf("watchPercentage = %d, want 20", payload.WatchPercentage)
	}

	if _, err := st.Get(context.Background(), "user-a", "dQw4w9WgXcQ", store.PlatformExternal); err != nil {
		t.Fatalf("entry not persisted: %v", err)
	}
}

func TestSaveHistory_Unauthorized(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := setupReq(http.MethodPost, "/history",
		`{"videoId":"v1","platform":"local","progress":42,"duration":212}`, nil, "")
	rr := httptest.NewRecorder()
	h.Save(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestSaveHistory_Validation(t *testing.T) {
	h, _, _ := newTestHandler(t)

	cases := []string{
		`{"platform":"local","progress":42,"duration":212}`,        // missing videoId
		`{"videoId":"v1","progress":42,"duration":212}`,            // missing platform
		`{"videoId":"v1","platform":"vimeo","progress":42}`,        // unknown platform
		`{"videoId":"v1","platform":"local","progress":-1}`,        // negative progress
		`{"videoId":"v1","platform":"local","progress":5,"durati`,  // truncated json
	}
	for _, body := range cases {
		req := setupReq(http.MethodPost, "/history", body, nil, "user-a")
		rr := httptest.NewRecorder()
		h.Save(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestSaveHistory_BelowThreshold(t *testing.T) {
	h, st, _ := newTestHandler(t)

	req := setupReq(http.MethodPost, "/history",
		`{"videoId":"v1","platform":"external","progress":4,"duration":212,"title":"T"}`, nil, "user-a")
	rr := httptest.NewRecorder()
	h.Save(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if !env.Success {
		t.Fatal("threshold no-op must still be a success")
	}
	if env.Message != "Video watched for less than 5 seconds, not saved to history" {
		t.Fatalf("message = %q", env.Message)
	}
	if _, err := st.Get(context.Background(), "user-a", "v1", store.PlatformExternal); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no entry, got err %v", err)
	}
}

func TestSaveHistory_LocalUsesCatalog(t *testing.T) {
	h, st, cat := newTestHandler(t)
	cat.Put(catalog.Video{
		ID: "vid-1", Title: "Catalog Title", Thumbnail: "/thumbs/vid-1.jpg",
		Category: "Music", ChannelName: "Creator", UploadedBy: "creator-id",
	})

	req := setupReq(http.MethodPost, "/history",
		`{"videoId":"vid-1","platform":"local","progress":30,"duration":120,"title":"Client Title"}`,
		nil, "user-a")
	rr := httptest.NewRecorder()
	h.Save(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	got, err := st.Get(context.Background(), "user-a", "vid-1", store.PlatformLocal)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Caller-supplied fields are ignored for local videos.
	if got.Title != "Catalog Title" || got.ChannelName != "Creator" || got.UploadedBy != "creator-id" {
		t.Fatalf("entry = %+v", got)
	}
}

func TestSaveHistory_LocalUnknownVideo(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := setupReq(http.MethodPost, "/history",
		`{"videoId":"ghost","platform":"local","progress":30,"duration":120}`, nil, "user-a")
	rr := httptest.NewRecorder()
	h.Save(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if env := decodeEnvelope(t, rr); env.Message != "Video not found" {
		t.Fatalf("message = %q", env.Message)
	}
}

func TestSaveHistory_ExternalPlaceholderFallback(t *testing.T) {
	h, st, _ := newTestHandler(t)

	// No title from the caller and an unconfigured provider.
	req := setupReq(http.MethodPost, "/history",
		`{"videoId":"dQw4w9WgXcQ","platform":"external","progress":30,"duration":120}`, nil, "user-a")
	rr := httptest.NewRecorder()
	h.Save(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	got, err := st.Get(context.Background(), "user-a", "dQw4w9WgXcQ", store.PlatformExternal)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != placeholderTitle || got.ChannelName != placeholderChannel {
		t.Fatalf("entry = %+v, want placeholder metadata", got)
	}
	if got.Thumbnail == "" {
		t.Fatal("expected a constructed thumbnail URL")
	}
}

func TestSaveHistory_ExternalProviderMetadata(t *testing.T) {
	st := store.NewInMemoryHistoryStore(store.DefaultMaxEntries)
	meta := &stubProvider{video: metadata.Video{
		Title: "Fetched", Thumbnail: "https://cdn/x.jpg", ChannelName: "Chan", Duration: 253,
	}}
	h := NewHistoryHandler(st, catalog.NewInMemoryCatalog(), meta, nil, nil, nil, nil)

	req := setupReq(http.MethodPost, "/history",
		`{"videoId":"dQw4w9WgXcQ","platform":"external","progress":30}`, nil, "user-a")
	rr := httptest.NewRecorder()
	h.Save(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	got, err := st.Get(context.Background(), "user-a", "dQw4w9WgXcQ", store.PlatformExternal)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Fetched" || got.Duration != 253 {
		t.Fatalf("entry = %+v, want provider metadata with duration backfilled", got)
	}
}

func TestSaveHistory_ExternalPartialFieldsFilledByProvider(t *testing.T) {
	st := store.NewInMemoryHistoryStore(store.DefaultMaxEntries)
	meta := &stubProvider{video: metadata.Video{
		Title: "Fetched", Thumbnail: "https://cdn/x.jpg", ChannelName: "Chan", Duration: 253,
	}}
	h := NewHistoryHandler(st, catalog.NewInMemoryCatalog(), meta, nil, nil, nil, nil)

	// A caller-supplied title alone must not skip the lookup.
	req := setupReq(http.MethodPost, "/history",
		`{"videoId":"dQw4w9WgXcQ","platform":"external","progress":30,"duration":212,"title":"Song"}`,
		nil, "user-a")
	rr := httptest.NewRecorder()
	h.Save(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if meta.calls != 1 {
		t.Fatalf("provider consulted %d times, want 1", meta.calls)
	}
	got, err := st.Get(context.Background(), "user-a", "dQw4w9WgXcQ", store.PlatformExternal)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Caller fields win; fetched values only fill the gaps.
	if got.Title != "Song" {
		t.Fatalf("title = %q, want caller-supplied %q", got.Title, "Song")
	}
	if got.Thumbnail != "https://cdn/x.jpg" || got.ChannelName != "Chan" {
		t.Fatalf("entry = %+v, want provider thumbnail and channel", got)
	}
}

func TestSaveHistory_ExternalPartialFieldsProviderDown(t *testing.T) {
	st := store.NewInMemoryHistoryStore(store.DefaultMaxEntries)
	meta := &stubProvider{err: errors.New("quota exceeded")}
	h := NewHistoryHandler(st, catalog.NewInMemoryCatalog(), meta, nil, nil, nil, nil)

	req := setupReq(http.MethodPost, "/history",
		`{"videoId":"dQw4w9WgXcQ","platform":"external","progress":30,"duration":212,"title":"Song"}`,
		nil, "user-a")
	rr := httptest.NewRecorder()
	h.Save(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	got, err := st.Get(context.Background(), "user-a", "dQw4w9WgXcQ", store.PlatformExternal)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Song" || got.ChannelName != placeholderChannel {
		t.Fatalf("entry = %+v", got)
	}
	if got.Thumbnail != meta.ThumbnailURL("dQw4w9WgXcQ") {
		t.Fatalf("thumbnail = %q, want constructed fallback URL", got.Thumbnail)
	}
}

func TestSaveHistory_ExternalCompleteFieldsSkipProvider(t *testing.T) {
	st := store.NewInMemoryHistoryStore(store.DefaultMaxEntries)
	meta := &stubProvider{video: metadata.Video{Title: "Fetched"}}
	h := NewHistoryHandler(st, catalog.NewInMemoryCatalog(), meta, nil, nil, nil, nil)

	req := setupReq(http.MethodPost, "/history",
		`{"videoId":"dQw4w9WgXcQ","platform":"external","progress":30,"duration":212,"title":"Song","thumbnail":"https://cdn/t.jpg","channelName":"Artist"}`,
		nil, "user-a")
	rr := httptest.NewRecorder()
	h.Save(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if meta.calls != 0 {
		t.Fatalf("provider consulted %d times for a fully-specified save, want 0", meta.calls)
	}
}

func TestGetHistory_Pagination(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		_, _, err := st.Upsert(ctx, store.UpsertParams{
			User: "user-a", VideoID: fmt.Sprintf("v%02d", i), Platform: store.PlatformExternal,
			Title: "T", Progress: 10, Duration: 100,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	req := setupReq(http.MethodGet, "/history?page=2&limit=10", "", nil, "user-a")
	rr := httptest.NewRecorder()
	h.List(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp listResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || len(resp.Data) != 10 {
		t.Fatalf("got %d items on page 2, want 10", len(resp.Data))
	}
	p := resp.Pagination
	if p.CurrentPage != 2 || p.TotalPages != 3 || p.TotalItems != 25 || p.ItemsPerPage != 10 || !p.HasMore {
		t.Fatalf("pagination = %+v", p)
	}
}

func TestGetHistory_IgnoresUnknownPlatformFilter(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	for _, platform := range []store.Platform{store.PlatformLocal, store.PlatformExternal} {
		_, _, err := st.Upsert(ctx, store.UpsertParams{
			User: "user-a", VideoID: "v1", Platform: platform, Title: "T", Progress: 10, Duration: 100,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	req := setupReq(http.MethodGet, "/history?platform=vimeo", "", nil, "user-a")
	rr := httptest.NewRecorder()
	h.List(rr, req)

	var resp listResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("unknown filter should be ignored, got %d items", len(resp.Data))
	}
}

func TestGetHistoryItem(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	if _, _, err := st.Upsert(ctx, store.UpsertParams{
		User: "user-a", VideoID: "v1", Platform: store.PlatformLocal, Title: "T", Progress: 60, Duration: 120,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := setupReq(http.MethodGet, "/history/video/v1?platform=local", "",
		map[string]string{"videoId": "v1"}, "user-a")
	rr := httptest.NewRecorder()
	h.Get(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	var payload struct {
		Progress        int `json:"progress"`
		WatchPercentage int `json:"watchPercentage"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if payload.Progress != 60 || payload.WatchPercentage != 50 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestGetHistoryItem_RequiresValidPlatform(t *testing.T) {
	h, _, _ := newTestHandler(t)

	for _, url := range []string{"/history/video/v1", "/history/video/v1?platform=vimeo"} {
		req := setupReq(http.MethodGet, url, "", map[string]string{"videoId": "v1"}, "user-a")
		rr := httptest.NewRecorder()
		h.Get(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", url, rr.Code)
		}
	}
}

func TestGetHistoryItem_NotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := setupReq(http.MethodGet, "/history/video/v1?platform=local", "",
		map[string]string{"videoId": "v1"}, "user-a")
	rr := httptest.NewRecorder()
	h.Get(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if env := decodeEnvelope(t, rr); env.Message != "No history found for this video" {
		t.Fatalf("message = %q", env.Message)
	}
}

func TestDeleteHistoryItem(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	if _, _, err := st.Upsert(ctx, store.UpsertParams{
		User: "user-a", VideoID: "v1", Platform: store.PlatformExternal, Title: "T", Progress: 10, Duration: 100,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := setupReq(http.MethodDelete, "/history/v1?platform=external", "",
		map[string]string{"videoId": "v1"}, "user-a")
	rr := httptest.NewRecorder()
	h.Delete(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, err := st.Get(ctx, "user-a", "v1", store.PlatformExternal); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("entry should be gone, got err %v", err)
	}

	// A second delete is a 404, not idempotent success.
	rr = httptest.NewRecorder()
	h.Delete(rr, setupReq(http.MethodDelete, "/history/v1?platform=external", "",
		map[string]string{"videoId": "v1"}, "user-a"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on re-delete, got %d", rr.Code)
	}
}

func TestClearHistory(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := st.Upsert(ctx, store.UpsertParams{
			User: "user-a", VideoID: fmt.Sprintf("v%d", i), Platform: store.PlatformExternal,
			Title: "T", Progress: 10, Duration: 100,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	req := setupReq(http.MethodDelete, "/history", "", nil, "user-a")
	rr := httptest.NewRecorder()
	h.Clear(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp clearResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.DeletedCount != 3 {
		t.Fatalf("clear response = %+v", resp)
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	if _, _, err := st.Upsert(ctx, store.UpsertParams{
		User: "user-a", VideoID: "v1", Platform: store.PlatformExternal, Title: "T", Progress: 50, Duration: 100,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := setupReq(http.MethodGet, "/history/analytics", "", nil, "user-a")
	rr := httptest.NewRecorder()
	h.Analytics(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	var report analytics.Report
	if err := json.Unmarshal(env.Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Totals.TotalWatchTime != 50 || report.Totals.TotalEntries != 1 {
		t.Fatalf("report totals = %+v", report.Totals)
	}
}

func TestExternalMetadata(t *testing.T) {
	st := store.NewInMemoryHistoryStore(store.DefaultMaxEntries)
	meta := &stubProvider{video: metadata.Video{
		Title: "Song", Thumbnail: "https://cdn/t.jpg", ChannelName: "Artist", Duration: 212,
	}}
	h := NewHistoryHandler(st, catalog.NewInMemoryCatalog(), meta, nil, nil, nil, nil)

	req := setupReq(http.MethodGet, "/history/external/metadata/dQw4w9WgXcQ", "",
		map[string]string{"videoId": "dQw4w9WgXcQ"}, "")
	rr := httptest.NewRecorder()
	h.ExternalMetadata(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	var payload metadataPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if payload.Title != "Song" || payload.Duration != 212 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestExternalMetadata_InvalidID(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := setupReq(http.MethodGet, "/history/external/metadata/nope", "",
		map[string]string{"videoId": "nope"}, "")
	rr := httptest.NewRecorder()
	h.ExternalMetadata(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestExternalMetadata_ProviderFailure(t *testing.T) {
	st := store.NewInMemoryHistoryStore(store.DefaultMaxEntries)
	h := NewHistoryHandler(st, catalog.NewInMemoryCatalog(),
		&stubProvider{err: errors.New("quota exceeded")}, nil, nil, nil, nil)

	req := setupReq(http.MethodGet, "/history/external/metadata/dQw4w9WgXcQ", "",
		map[string]string{"videoId": "dQw4w9WgXcQ"}, "")
	rr := httptest.NewRecorder()
	h.ExternalMetadata(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
