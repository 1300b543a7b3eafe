package main

import (
	"context"
	"fmt"
	"time"

	"coursehub/media-api/api"
	"coursehub/media-api/config"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	gin.SetMode(gin.ReleaseMode)

	err := config.Setup()
	if err != nil {
		panic(err)
	}

	a, err := api.NewRouter()
	if err != nil {
		panic(err)
	}

	if config.SweepOrphans() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)

		orphans, err := a.Registry.FindOrphanedPending(ctx, time.Minute)
		cancel()
		if err != nil {
			zap.L().Error("Orphan sweep failed", zap.Error(err))
		} else if len(orphans) > 0 {
			zap.L().Info("Re-enqueueing orphaned pending media", zap.Int("count", len(orphans)))
			a.Pipeline.Wake()
		}
	}

	zap.L().Info("Server starting")

	err = a.Router.Run(fmt.Sprintf(":%d", viper.GetInt("host.port")))
	if err != nil {
		panic(err)
	}
}
