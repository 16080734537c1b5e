package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/newsblock/app/cache"
	"github.com/lysyi3m/newsblock/app/database"
	"github.com/lysyi3m/newsblock/app/feed"
	"github.com/lysyi3m/newsblock/app/tasks"
)

func NewHandler(db *database.DB, renderer FeedServer, configCache *feed.ConfigCache,
	scheduler BackgroundScheduler, blobs tasks.BlobRemover, apiAccessKey string) *Handler {
	return &Handler{
		db:           db,
		renderer:     renderer,
		configCache:  configCache,
		scheduler:    scheduler,
		blobs:        blobs,
		apiAccessKey: apiAccessKey,
	}
}

// GetFeed serves an owner's Atom feed for the visibility key in the query.
// Clients holding the API key may pass hidden=1 to include hidden items.
func (h *Handler) GetFeed(c *gin.Context) {
	ownerID, err := strconv.ParseInt(c.Param("owner"), 10, 64)
	if err != nil || ownerID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid owner id"})
		return
	}

	viewer, err := h.viewerFromRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var ifModifiedSince time.Time
	if header := c.GetHeader("If-Modified-Since"); header != "" {
		if t, err := http.ParseTime(header); err == nil {
			ifModifiedSince = t
		}
	}

	rendered, err := h.renderer.Serve(c.Request.Context(), ownerID, viewer, ifModifiedSince)
	if err != nil {
		if errors.Is(err, feed.ErrOwnerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
			return
		}
		slog.Error("Failed to serve feed", "owner_id", ownerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate feed"})
		return
	}

	c.Header("X-Cache", rendered.Outcome.String())
	c.Header("Last-Modified", rendered.WrittenAt.UTC().Format(http.TimeFormat))
	if rendered.ExpiresAt > 0 {
		c.Header("Expires", time.Unix(rendered.ExpiresAt, 0).UTC().Format(http.TimeFormat))
	}

	if rendered.Outcome == cache.NotModified {
		c.Status(http.StatusNotModified)
		return
	}

	c.Header("X-Feed-Items", strconv.Itoa(rendered.Items))
	c.Data(http.StatusOK, "application/atom+xml; charset=utf-8", rendered.Payload)
}

func (h *Handler) viewerFromRequest(c *gin.Context) (feed.Viewer, error) {
	var viewer feed.Viewer

	groupings := c.Query("groupings")
	identity := c.Query("identity")

	switch {
	case groupings != "" && identity != "":
		return viewer, errors.New("groupings and identity are mutually exclusive")
	case groupings != "":
		var ids []int64
		for _, part := range strings.Split(groupings, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return viewer, errors.New("invalid grouping id")
			}
			ids = append(ids, id)
		}
		viewer.Key = cache.GroupingKey(ids...)
	case identity != "":
		viewer.Key = cache.IdentityKey(identity)
	}

	if c.Query("hidden") == "1" {
		if h.apiAccessKey == "" || providedKey(c) != h.apiAccessKey {
			return viewer, errors.New("hidden items require a valid API key")
		}
		viewer.CanViewHidden = true
	}

	return viewer, nil
}

func (h *Handler) GetHealth(c *gin.Context) {
	ctx := c.Request.Context()
	sourceRepo := database.NewSourceRepository(h.db)

	sourceCount, err := sourceRepo.GetSourceCount(ctx)
	if err != nil {
		slog.Error("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database unavailable"})
		return
	}

	failingCount, err := sourceRepo.GetFailingSourceCount(ctx)
	if err != nil {
		slog.Error("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"blocks":          h.configCache.GetConfigCount(),
		"sources":         sourceCount,
		"failing_sources": failingCount,
	})
}

func (h *Handler) APIListSources(c *gin.Context) {
	sources, err := database.NewSourceRepository(h.db).GetAllSources(c.Request.Context())
	if err != nil {
		slog.Error("Failed to list sources", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sources"})
		return
	}

	result := make([]gin.H, 0, len(sources))
	for _, source := range sources {
		result = append(result, sourceJSON(&source))
	}

	c.JSON(http.StatusOK, gin.H{"sources": result, "count": len(result)})
}

func (h *Handler) APIGetSource(c *gin.Context) {
	sourceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	source, err := database.NewSourceRepository(h.db).GetSource(ctx, sourceID)
	if err != nil {
		if errors.Is(err, database.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
			return
		}
		slog.Error("Failed to get source", "source_id", sourceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get source"})
		return
	}

	itemCount, err := database.NewItemRepository(h.db).GetSourceItemCount(ctx, sourceID)
	if err != nil {
		slog.Error("Failed to count source items", "source_id", sourceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get source"})
		return
	}

	result := sourceJSON(source)
	result["item_count"] = itemCount
	c.JSON(http.StatusOK, result)
}

func (h *Handler) APIRefreshSource(c *gin.Context) {
	sourceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if _, err := database.NewSourceRepository(h.db).GetSource(c.Request.Context(), sourceID); err != nil {
		if errors.Is(err, database.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get source"})
		return
	}

	if err := h.scheduler.RefreshSource(sourceID); err != nil {
		slog.Warn("Failed to queue source refresh", "source_id", sourceID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Task queue is full"})
		return
	}

	slog.Info("Source refresh queued via API", "source_id", sourceID)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "source_id": sourceID})
}

func (h *Handler) APIInvalidateOwner(c *gin.Context) {
	ownerID, ok := parseIDParam(c, "owner")
	if !ok {
		return
	}

	if err := h.renderer.Invalidate(ownerID); err != nil {
		slog.Error("Failed to invalidate owner cache", "owner_id", ownerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to invalidate cache"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "invalidated", "owner_id": ownerID})
}

func (h *Handler) APIReloadBlock(c *gin.Context) {
	blockName := c.Param("name")

	blockConfig, err := h.configCache.LoadConfig(blockName)
	if err != nil {
		slog.Warn("Failed to reload block configuration", "block", blockName, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to load block configuration", "message": err.Error()})
		return
	}

	if err := h.scheduler.SyncBlock(blockConfig); err != nil {
		slog.Warn("Failed to queue block sync", "block", blockName, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Task queue is full"})
		return
	}

	slog.Info("Block configuration reloaded via API", "block", blockName, "owner_id", blockConfig.OwnerID)
	c.JSON(http.StatusAccepted, gin.H{
		"status":   "queued",
		"block":    blockName,
		"owner_id": blockConfig.OwnerID,
		"sources":  len(blockConfig.Sources),
	})
}

// APIDeleteItem removes a locally authored item. Sourced items are owned by
// reconciliation and cannot be deleted here.
func (h *Handler) APIDeleteItem(c *gin.Context) {
	itemID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var ownerID int64

	err := h.db.WithTx(ctx, func(q database.Querier) error {
		itemRepo := database.NewItemRepository(q)

		item, err := itemRepo.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item.SourceID != nil {
			return errSourcedItem
		}
		ownerID = item.OwnerID

		if err := itemRepo.DeleteItems(ctx, []int64{itemID}); err != nil {
			return err
		}
		return database.NewSearchQueue(q).QueueStale(ctx, []int64{itemID}, time.Now().Unix())
	})
	switch {
	case errors.Is(err, database.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	case errors.Is(err, errSourcedItem):
		c.JSON(http.StatusConflict, gin.H{"error": "Item belongs to a source"})
		return
	case err != nil:
		slog.Error("Failed to delete item", "item_id", itemID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete item"})
		return
	}

	if err := h.blobs.DeleteItem(ownerID, itemID); err != nil {
		slog.Warn("Failed to delete item blobs", "item_id", itemID, "error", err)
	}
	if err := h.renderer.Invalidate(ownerID); err != nil {
		slog.Warn("Failed to invalidate owner cache", "owner_id", ownerID, "error", err)
	}

	slog.Info("Local item deleted via API", "item_id", itemID, "owner_id", ownerID)
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "item_id": itemID})
}

const (
	defaultStaleLimit = 100
	maxStaleLimit     = 1000
)

// APIListStaleItems returns ids of deleted items still to be dropped from the
// search index, oldest first.
func (h *Handler) APIListStaleItems(c *gin.Context) {
	limit := defaultStaleLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxStaleLimit)
	}

	ids, err := database.NewSearchQueue(h.db).Pending(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Failed to read search cleanup queue", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read queue"})
		return
	}
	if ids == nil {
		ids = []int64{}
	}

	c.JSON(http.StatusOK, gin.H{"item_ids": ids, "count": len(ids)})
}

type ackRequest struct {
	ItemIDs []int64 `json:"item_ids" binding:"required"`
}

// APIAckStaleItems removes ids the search index has processed from the queue.
func (h *Handler) APIAckStaleItems(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "message": err.Error()})
		return
	}

	if err := database.NewSearchQueue(h.db).Ack(c.Request.Context(), req.ItemIDs); err != nil {
		slog.Error("Failed to ack search cleanup queue", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ack queue"})
		return
	}

	slog.Debug("Search cleanup acknowledged", "count", len(req.ItemIDs))
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged", "count": len(req.ItemIDs)})
}

var errSourcedItem = errors.New("item belongs to a source")

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

func sourceJSON(source *database.Source) gin.H {
	result := gin.H{
		"id":             source.ID,
		"owner_id":       source.OwnerID,
		"url":            source.URL,
		"error_count":    source.ErrorCount,
		"content_digest": source.ContentDigest,
		"created_at":     source.CreatedAt.Format(time.RFC3339),
	}
	if source.LastFetchedAt > 0 {
		result["last_fetched_at"] = time.Unix(source.LastFetchedAt, 0).UTC().Format(time.RFC3339)
	}
	if source.LastError != "" {
		result["last_error"] = source.LastError
	}
	return result
}
