// Package api contains all endpoints available
package api

import (
	"coursehub/media-api/db"
	"coursehub/media-api/internal/delivery"
	"coursehub/media-api/internal/pipeline"
	"coursehub/media-api/internal/registry"
	"coursehub/media-api/internal/session"
	"coursehub/media-api/internal/storage"
	"coursehub/media-api/pkg/middleware"
	"fmt"
	"time"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	ginzap "github.com/gin-contrib/zap"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

const (
	gray  = "\x1b[90m"
	reset = "\x1b[0m"
)

var store = persist.NewMemoryStore(time.Minute)

type API struct {
	DB       *gorm.DB
	Router   *gin.Engine
	Gateway  storage.Gateway
	Sessions *session.Manager
	Registry *registry.Registry
	Pipeline *pipeline.Pipeline
	Resolver *delivery.Resolver
}

func NewRouter() (*API, error) {
	a := &API{}

	database, err := db.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database, %w", err)
	}
	a.DB = database

	makeLogger()

	gateway, err := storage.NewS3Gateway()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage gateway, %w", err)
	}
	a.Gateway = gateway

	a.Registry = registry.New(database, gateway)
	a.Sessions = session.NewManager(database, gateway, a.Registry)
	a.Resolver = delivery.NewResolver(gateway)
	a.Pipeline = pipeline.New(database, gateway, pipeline.FFprobeExtractor{}, pipeline.FFmpegThumbnailer{}, pipeline.OptionsFromConfig())

	a.setupRouter()

	a.Sessions.StartReaper(time.Minute)
	a.Registry.StartPurgeReaper(10*time.Minute, viper.GetDuration("upload.retention"))
	a.Pipeline.Start()

	return a, nil
}

func (a *API) setupRouter() {
	router := gin.New()
	a.Router = router

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:5173"},
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		gin.Recovery(),
		middleware.NewRequestIDMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				if v := c.GetString("userID"); v != "" {
					fields = append(fields, zap.String("userID", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.RedirectFixedPath = true

	jwt := middleware.NewJWTMiddleware()

	main := router.Group("/api")
	{
		// HEAD /api/heartbeat 		-> Used to check if the server is alive
		main.HEAD("/heartbeat", a.Heartbeat)
	}

	uploads := main.Group("/uploads", jwt, middleware.BodySizeLimiter(1<<20))
	{
		// POST /api/uploads				-> Opens an upload session and mints a presigned destination
		uploads.POST("", middleware.RateLimiterMiddleware(middleware.RateLimiterConfig{RequestsPerSecond: 2, Burst: 5}), a.UploadInitiate)

		// GET /api/uploads/:sessionKey			-> Returns the session status for polling
		uploads.GET("/:sessionKey", a.UploadFetch)

		// POST /api/uploads/:sessionKey/progress	-> Records client-reported progress, UI only
		uploads.POST("/:sessionKey/progress", a.UploadProgress)

		// POST /api/uploads/:sessionKey/complete	-> Verifies and finalizes the upload, idempotent
		uploads.POST("/:sessionKey/complete", a.UploadComplete)
	}

	media := main.Group("/media", jwt, middleware.BodySizeLimiter(1<<20))
	{
		// GET /api/media			-> Returns a user's media files in bulk
		media.GET("", cacheFor(10), a.MediaFetchBulk)

		// GET /api/media/:id			-> Returns one media file with its delivery URL
		media.GET("/:id", a.MediaFetch)

		// DELETE /api/media/:id		-> Soft deletes a media file
		media.DELETE("/:id", a.MediaDelete)

		// POST /api/media/:id/attach		-> Records a weak parent back-reference
		media.POST("/:id/attach", a.MediaAttach)

		// POST /api/media/:id/detach		-> Removes a parent back-reference
		media.POST("/:id/detach", a.MediaDetach)
	}
}

func makeLogger() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + t.Format("15:04:05.000") + reset)
	}
	cfg.EncoderConfig.EncodeCaller = func(ec zapcore.EntryCaller, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + ec.TrimmedPath() + reset)
	}

	cfg.DisableStacktrace = true

	log, _ := cfg.Build()
	zap.ReplaceGlobals(log)
}

// cacheFor caches responses keyed by owner and URI. Listings are
// owner-scoped, a URI-only key would hand one owner's entries to the
// next caller of the same path.
func cacheFor(sec int) gin.HandlerFunc {
	return cache.Cache(store, time.Second*time.Duration(sec),
		cache.WithCacheStrategyByRequest(func(c *gin.Context) (bool, cache.Strategy) {
			return true, cache.Strategy{
				CacheKey: c.GetString("userID") + ":" + c.Request.RequestURI,
			}
		}))
}
