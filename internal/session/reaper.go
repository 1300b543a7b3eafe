package session

import (
	"context"
	"time"

	"coursehub/media-api/internal/model"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// StartReaper attaches the background loop that expires overdue
// sessions and purges terminal ones after the retention window.
func (m *Manager) StartReaper(every time.Duration) {
	ticker := time.NewTicker(every)

	zap.L().Debug("Session reaper attached", zap.Duration("tick_every", every))

	go func() {
		for range ticker.C {
			m.reapExpired()
			m.purgeTerminal()
		}
	}()
}

// reapExpired moves uploading sessions past their expiry to expired and
// best-effort deletes whatever the client managed to write.
func (m *Manager) reapExpired() {
	now := time.Now().UnixMilli()

	var overdue []model.UploadSession

	err := m.DB.
		Where("status = ? AND expires_at < ?", model.SessionUploading, now).
		Find(&overdue).
		Error
	if err != nil {
		zap.L().Error("Failed to query overdue sessions", zap.Error(err))
		return
	}

	for _, s := range overdue {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		m.expire(ctx, &s)
		cancel()

		zap.L().Debug("Expired upload session", zap.String("session_key", s.SessionKey))
	}
}

// purgeTerminal drops terminal session rows once the retention window
// lapsed. Failed and expired sessions get one last object-deletion
// attempt in case the earlier best-effort one didn't stick.
func (m *Manager) purgeTerminal() {
	cutoff := time.Now().Add(-viper.GetDuration("upload.retention")).UnixMilli()

	var stale []model.UploadSession

	err := m.DB.
		Where("status IN ? AND expires_at < ?", []string{model.SessionFailed, model.SessionExpired, model.SessionCompleted}, cutoff).
		Find(&stale).
		Error
	if err != nil {
		zap.L().Error("Failed to query stale sessions", zap.Error(err))
		return
	}

	for _, s := range stale {
		if s.Status != model.SessionCompleted {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

			if err := m.Gateway.DeleteObject(ctx, s.StorageKey); err != nil {
				zap.L().Error("Failed to delete orphaned storage object", zap.String("key", s.StorageKey), zap.Error(err))
				cancel()
				continue
			}

			cancel()
		}

		if err := m.DB.Delete(&model.UploadSession{}, "id = ?", s.ID).Error; err != nil {
			zap.L().Error("Failed to purge session row", zap.String("session_key", s.SessionKey), zap.Error(err))
		}
	}
}
