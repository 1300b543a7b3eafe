// Package db contains the database connection setup
package db

import (
	"coursehub/media-api/internal/model"
	"coursehub/media-api/pkg/util"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func New() (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	switch viper.GetString("db.driver") {
	case "postgres":
		db, err = gorm.Open(postgres.Open(viper.GetString("db.dsn")))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres, %w", err)
		}
	default:
		dsn := viper.GetString("db.dsn")

		// If running in a docker container don't allow the sqlite file to be created.
		// The host should instead mount it using volumes
		if util.IsRunningInDocker() {
			if _, err := os.Stat(dsn); err != nil {
				if err == os.ErrNotExist {
					return nil, fmt.Errorf("SQLite database file not mounted, please use docker volumes to mount it to /app/%s", dsn)
				}
			}
		}

		db, err = gorm.Open(sqlite.Open(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite database, %w", err)
		}
	}

	err = db.AutoMigrate(model.UploadSession{}, model.MediaFile{})
	if err != nil {
		return nil, fmt.Errorf("failed to automigrate tables, %w", err)
	}

	return db, nil
}
