// Package handlers exposes the watch-history REST surface.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/video-platform/internal/platform/api"
	"github.com/example/video-platform/internal/platform/auth"
	"github.com/example/video-platform/internal/platform/events"
	"github.com/example/video-platform/services/history/internal/analytics"
	"github.com/example/video-platform/services/history/internal/cache"
	"github.com/example/video-platform/services/history/internal/catalog"
	"github.com/example/video-platform/services/history/internal/metadata"
	"github.com/example/video-platform/services/history/internal/store"
)

const maxBodyBytes = 1 << 20

// Fallbacks used when external metadata cannot be resolved. Playback must
// never fail because a lookup did.
const (
	placeholderTitle   = "YouTube Video"
	placeholderChannel = "Unknown"
)

type saveRequest struct {
	VideoID     string `json:"videoId"`
	Platform    string `json:"platform"`
	Progress    int    `json:"progress"`
	Duration    int    `json:"duration"`
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail"`
	ChannelName string `json:"channelName"`
}

// entryPayload is an Entry plus the derived percentage the clients render.
type entryPayload struct {
	store.Entry
	WatchPercentage int `json:"watchPercentage"`
}

func toPayload(e store.Entry) entryPayload {
	return entryPayload{Entry: e, WatchPercentage: e.WatchPercentage()}
}

type pagination struct {
	CurrentPage  int  `json:"currentPage"`
	TotalPages   int  `json:"totalPages"`
	TotalItems   int  `json:"totalItems"`
	ItemsPerPage int  `json:"itemsPerPage"`
	HasMore      bool `json:"hasMore"`
}

type listResponse struct {
	Success    bool           `json:"success"`
	Data       []entryPayload `json:"data"`
	Pagination pagination     `json:"pagination"`
}

type clearResponse struct {
	Success      bool  `json:"success"`
	DeletedCount int64 `json:"deletedCount"`
}

type metadataPayload struct {
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail"`
	ChannelName string `json:"channelName"`
	Duration    int    `json:"duration"`
}

// HistoryHandler bundles the dependencies of the history endpoints.
type HistoryHandler struct {
	store    store.HistoryStore
	catalog  catalog.Catalog
	meta     metadata.Provider
	engine   *analytics.Engine
	reports  cache.Reports
	pub      *events.Publisher
	log      *zap.Logger
}

func NewHistoryHandler(
	st store.HistoryStore,
	cat catalog.Catalog,
	meta metadata.Provider,
	engine *analytics.Engine,
	reports cache.Reports,
	pub *events.Publisher,
	log *zap.Logger,
) *HistoryHandler {
	if reports == nil {
		reports = cache.NoopReports{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HistoryHandler{
		store:   st,
		catalog: cat,
		meta:    meta,
		engine:  engine,
		reports: reports,
		pub:     pub,
		log:     log,
	}
}

// Mount attaches the authenticated history routes to r. The public
// metadata lookup is mounted separately by the caller.
func (h *HistoryHandler) Mount(r chi.Router) {
	r.Post("/history", h.Save)
	r.Get("/history", h.List)
	r.Get("/history/analytics", h.Analytics)
	r.Get("/history/video/{videoId}", h.Get)
	r.Delete("/history/{videoId}", h.Delete)
	r.Delete("/history", h.Clear)
}

// Save handles POST /history.
func (h *HistoryHandler) Save(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok || userID == "" {
		api.Unauthorized(w, "authentication required")
		return
	}

	var req saveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		api.BadRequest(w, "invalid JSON body")
		return
	}

	req.VideoID = strings.TrimSpace(req.VideoID)
	if req.VideoID == "" {
		api.BadRequest(w, "videoId is required")
		return
	}
	platform, err := store.ParsePlatform(req.Platform)
	if err != nil {
		api.BadRequest(w, "platform must be 'local' or 'external'")
		return
	}
	if req.Progress < 0 || req.Duration < 0 {
		api.BadRequest(w, "progress and duration must be non-negative")
		return
	}

	if req.Progress < store.MinWatchTime {
		api.OK(w, "Video watched for less than 5 seconds, not saved to history", nil)
		return
	}

	params := store.UpsertParams{
		User:        userID,
		VideoID:     req.VideoID,
		Platform:    platform,
		Progress:    req.Progress,
		Duration:    req.Duration,
		Title:       req.Title,
		Thumbnail:   req.Thumbnail,
		ChannelName: req.ChannelName,
	}
	if err := h.resolveMetadata(r.Context(), &params); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			api.NotFound(w, "Video not found")
			return
		}
		h.log.Error("resolve video metadata", zap.String("videoId", req.VideoID), zap.Error(err))
		api.Internal(w, "could not save history")
		return
	}

	entry, saved, err := h.store.Upsert(r.Context(), params)
	if err != nil {
		h.log.Error("history upsert failed", zap.String("user", userID), zap.Error(err))
		api.Internal(w, "could not save history")
		return
	}
	if !saved {
		api.OK(w, "Video watched for less than 5 seconds, not saved to history", nil)
		return
	}

	h.reports.Invalidate(r.Context(), userID)
	h.pub.Publish(events.SubjectHistorySaved, "history_saved", userID, map[string]any{
		"video_id": entry.VideoID,
		"platform": string(entry.Platform),
		"progress": entry.Progress,
	})

	api.OK(w, "History saved successfully", toPayload(entry))
}

// resolveMetadata fills the display fields of params. Local videos must
// exist in the catalog; external ones fall back from caller-supplied
// fields to the metadata provider to generic placeholders.
func (h *HistoryHandler) resolveMetadata(ctx context.Context, params *store.UpsertParams) error {
	if params.Platform == store.PlatformLocal {
		v, err := h.catalog.GetVideo(ctx, params.VideoID)
		if err != nil {
			return err
		}
		params.Title = v.Title
		params.Thumbnail = v.Thumbnail
		params.ChannelName = v.ChannelName
		params.UploadedBy = v.UploadedBy
		return nil
	}

	// The provider is consulted whenever any display field is missing;
	// caller-supplied values always win over fetched ones.
	complete := params.Title != "" && params.Thumbnail != "" && params.ChannelName != ""
	if !complete && h.meta != nil {
		if v, err := h.meta.Fetch(ctx, params.VideoID); err == nil {
			if params.Title == "" {
				params.Title = v.Title
			}
			if params.Thumbnail == "" {
				params.Thumbnail = v.Thumbnail
			}
			if params.ChannelName == "" {
				params.ChannelName = v.ChannelName
			}
			if params.Duration == 0 {
				params.Duration = v.Duration
			}
		} else if !errors.Is(err, metadata.ErrNotConfigured) {
			h.log.Warn("metadata lookup failed, using placeholders",
				zap.String("videoId", params.VideoID), zap.Error(err))
		}
	}

	if params.Title == "" {
		params.Title = placeholderTitle
	}
	if params.ChannelName == "" {
		params.ChannelName = placeholderChannel
	}
	if params.Thumbnail == "" && h.meta != nil {
		params.Thumbnail = h.meta.ThumbnailURL(params.VideoID)
	}
	return nil
}

// List handles GET /history.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok || userID == "" {
		api.Unauthorized(w, "authentication required")
		return
	}

	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	limit := queryInt(q.Get("limit"), 20)

	params := store.ListParams{User: userID, Page: page, PageSize: limit}
	// An unknown platform filter is ignored rather than rejected; the
	// result is simply unfiltered.
	if p := q.Get("platform"); p != "" {
		if platform, err := store.ParsePlatform(p); err == nil {
			params.Platform = platform
		}
	}

	entries, total, err := h.store.List(r.Context(), params)
	if err != nil {
		h.log.Error("history list failed", zap.String("user", userID), zap.Error(err))
		api.Internal(w, "could not load history")
		return
	}

	// Mirror the store's clamping so the reported page size matches what
	// was actually served.
	pageSize := params.PageSize
	if pageSize > store.MaxPageSize {
		pageSize = store.MaxPageSize
	}
	totalPages := (total + pageSize - 1) / pageSize

	data := make([]entryPayload, 0, len(entries))
	for _, e := range entries {
		data = append(data, toPayload(e))
	}

	api.WriteJSON(w, http.StatusOK, listResponse{
		Success: true,
		Data:    data,
		Pagination: pagination{
			CurrentPage:  params.Page,
			TotalPages:   totalPages,
			TotalItems:   total,
			ItemsPerPage: pageSize,
			HasMore:      params.Page < totalPages,
		},
	})
}

// Get handles GET /history/video/{videoId}. It is the resume-playback
// lookup.
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok || userID == "" {
		api.Unauthorized(w, "authentication required")
		return
	}

	videoID := strings.TrimSpace(chi.URLParam(r, "videoId"))
	platform, err := store.ParsePlatform(r.URL.Query().Get("platform"))
	if videoID == "" || err != nil {
		api.BadRequest(w, "videoId and a valid platform query parameter are required")
		return
	}

	entry, err := h.store.Get(r.Context(), userID, videoID, platform)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.NotFound(w, "No history found for this video")
			return
		}
		h.log.Error("history get failed", zap.String("user", userID), zap.Error(err))
		api.Internal(w, "could not load history")
		return
	}
	api.OK(w, "", toPayload(entry))
}

// Delete handles DELETE /history/{videoId}.
func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok || userID == "" {
		api.Unauthorized(w, "authentication required")
		return
	}

	videoID := strings.TrimSpace(chi.URLParam(r, "videoId"))
	platform, err := store.ParsePlatform(r.URL.Query().Get("platform"))
	if videoID == "" || err != nil {
		api.BadRequest(w, "videoId and a valid platform query parameter are required")
		return
	}

	entry, err := h.store.Delete(r.Context(), userID, videoID, platform)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.NotFound(w, "No history found for this video")
			return
		}
		h.log.Error("history delete failed", zap.String("user", userID), zap.Error(err))
		api.Internal(w, "could not delete history")
		return
	}

	h.reports.Invalidate(r.Context(), userID)
	h.pub.Publish(events.SubjectHistoryDeleted, "history_deleted", userID, map[string]any{
		"video_id": entry.VideoID,
		"platform": string(entry.Platform),
	})

	api.OK(w, "Removed from watch history", toPayload(entry))
}

// Clear handles DELETE /history.
func (h *HistoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok || userID == "" {
		api.Unauthorized(w, "authentication required")
		return
	}

	deleted, err := h.store.Clear(r.Context(), userID)
	if err != nil {
		h.log.Error("history clear failed", zap.String("user", userID), zap.Error(err))
		api.Internal(w, "could not clear history")
		return
	}

	h.reports.Invalidate(r.Context(), userID)
	h.pub.Publish(events.SubjectHistoryCleared, "history_cleared", userID, map[string]any{
		"deleted_count": deleted,
	})

	api.WriteJSON(w, http.StatusOK, clearResponse{Success: true, DeletedCount: deleted})
}

// Analytics handles GET /history/analytics. Reports are served from the
// advisory cache when present, recomputed otherwise.
func (h *HistoryHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok || userID == "" {
		api.Unauthorized(w, "authentication required")
		return
	}

	var cached analytics.Report
	if h.reports.Get(r.Context(), userID, &cached) {
		api.OK(w, "", cached)
		return
	}

	report, err := h.engine.Report(r.Context(), userID)
	if err != nil {
		h.log.Error("analytics report failed", zap.String("user", userID), zap.Error(err))
		api.Internal(w, "could not compute analytics")
		return
	}

	h.reports.Set(r.Context(), userID, report)
	api.OK(w, "", report)
}

// ExternalMetadata handles GET /history/external/metadata/{videoId}.
// Unlike the save path, a failed lookup here is surfaced to the caller.
func (h *HistoryHandler) ExternalMetadata(w http.ResponseWriter, r *http.Request) {
	videoID := strings.TrimSpace(chi.URLParam(r, "videoId"))
	if !metadata.IsValidVideoID(videoID) {
		api.BadRequest(w, "invalid video id")
		return
	}

	v, err := h.meta.Fetch(r.Context(), videoID)
	if err != nil {
		h.log.Warn("external metadata lookup failed", zap.String("videoId", videoID), zap.Error(err))
		api.Internal(w, "could not fetch video metadata")
		return
	}
	api.OK(w, "", metadataPayload{
		Title:       v.Title,
		Thumbnail:   v.Thumbnail,
		ChannelName: v.ChannelName,
		Duration:    v.Duration,
	})
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
