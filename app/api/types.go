package api

import (
	"context"
	"time"

	"github.com/lysyi3m/newsblock/app/database"
	"github.com/lysyi3m/newsblock/app/feed"
	"github.com/lysyi3m/newsblock/app/tasks"
)

type FeedServer interface {
	Serve(ctx context.Context, ownerID int64, viewer feed.Viewer, ifModifiedSince time.Time) (*feed.Rendered, error)
	Invalidate(ownerID int64) error
}

var _ FeedServer = (*feed.Renderer)(nil)

type BackgroundScheduler interface {
	RefreshSource(sourceID int64) error
	SyncBlock(blockConfig *feed.Config) error
}

var _ BackgroundScheduler = (*tasks.Scheduler)(nil)

type Handler struct {
	db           *database.DB
	renderer     FeedServer
	configCache  *feed.ConfigCache
	scheduler    BackgroundScheduler
	blobs        tasks.BlobRemover
	apiAccessKey string
}
