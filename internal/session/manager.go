// Package session owns the lifecycle of in-flight uploads: initiation,
// progress acknowledgment, idempotent completion and expiry reaping.
package session

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"coursehub/media-api/internal/model"
	"coursehub/media-api/internal/registry"
	"coursehub/media-api/internal/storage"
	"coursehub/media-api/pkg/util"
	"coursehub/media-api/validators"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrSessionNotFound   = errors.New("upload session not found")
	ErrSessionExpired    = errors.New("upload session expired")
	ErrSessionFailed     = errors.New("upload session already failed")
	ErrIntegrityMismatch = errors.New("stored object does not match the declared upload")

	// Internal marker for losing a concurrent completion race
	errAlreadyCompleted = errors.New("session completed concurrently")
)

type Manager struct {
	DB       *gorm.DB
	Gateway  storage.Gateway
	Registry *registry.Registry

	// Storage provider tag + bucket recorded on finalized media files
	Provider string
	Bucket   string
}

func NewManager(db *gorm.DB, gw storage.Gateway, reg *registry.Registry) *Manager {
	return &Manager{
		DB:       db,
		Gateway:  gw,
		Registry: reg,
		Provider: "s3",
		Bucket:   viper.GetString("storage.bucket"),
	}
}

// Initiate validates the declared upload against policy, mints a
// presigned destination and persists an uploading session with a fixed
// expiry window. Validation failures are rejected outright, they never
// produce a session row.
func (m *Manager) Initiate(ctx context.Context, ownerID, fileName string, declaredSize int64, contentType string) (*model.UploadSession, *storage.UploadAuthorization, int, error) {
	category, code, err := validators.UploadValidator(fileName, declaredSize, contentType)
	if err != nil {
		return nil, nil, code, err
	}

	// Random key so different owners can upload files with the same name
	key := util.RandStr(16) + path.Ext(fileName)

	auth, err := m.Gateway.IssueUploadAuthorization(ctx, key, contentType, viper.GetInt64("upload.max_size_"+category))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to issue upload authorization, %w", err)
	}

	now := time.Now()

	s := &model.UploadSession{
		SessionKey:   util.RandStr(24),
		OwnerID:      ownerID,
		FileName:     fileName,
		DeclaredSize: declaredSize,
		ContentType:  contentType,
		Category:     category,
		StorageKey:   key,
		Status:       model.SessionUploading,
		CreatedAt:    now.UnixMilli(),
		ExpiresAt:    now.Add(viper.GetDuration("upload.session_expiry")).UnixMilli(),
	}

	if err := m.DB.WithContext(ctx).Create(s).Error; err != nil {
		return nil, nil, 0, fmt.Errorf("failed to persist upload session, %w", err)
	}

	zap.L().Debug("Upload session initiated",
		zap.String("session_key", s.SessionKey),
		zap.String("category", category),
		zap.Int64("declared_size", declaredSize))

	return s, auth, 0, nil
}

// AcknowledgeProgress records client-reported transferred bytes. UI
// feedback only, never a correctness input. The counter is a monotonic
// max so duplicate or out-of-order reports are harmless no-ops.
func (m *Manager) AcknowledgeProgress(ctx context.Context, sessionKey string, bytesTransferred int64) (*model.UploadSession, error) {
	s, err := m.get(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	if s.Status != model.SessionUploading || bytesTransferred <= s.BytesAcked {
		return s, nil
	}

	// Guarded against concurrent larger reports landing first
	err = m.DB.WithContext(ctx).
		Model(model.UploadSession{}).
		Where("session_key = ? AND status = ? AND bytes_acked < ?", sessionKey, model.SessionUploading, bytesTransferred).
		Update("bytes_acked", bytesTransferred).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to update progress, %w", err)
	}

	return m.get(ctx, sessionKey)
}

// Get returns the session for status polling.
func (m *Manager) Get(ctx context.Context, sessionKey string) (*model.UploadSession, error) {
	return m.get(ctx, sessionKey)
}

// Complete verifies the upload against what storage actually holds and
// finalizes the session into a MediaFile. Safe to call repeatedly, a
// second call on a completed session replays the original result.
func (m *Manager) Complete(ctx context.Context, sessionKey, reportedChecksum string) (*model.MediaFile, error) {
	s, err := m.get(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	switch s.Status {
	case model.SessionCompleted:
		return m.replay(ctx, s)
	case model.SessionFailed:
		return nil, fmt.Errorf("%w: %s", ErrSessionFailed, s.LastError)
	case model.SessionExpired:
		return nil, ErrSessionExpired
	}

	if time.Now().UnixMilli() > s.ExpiresAt {
		m.expire(ctx, s)
		return nil, ErrSessionExpired
	}

	// The client's self-report means nothing until the backend confirms
	// the object is really there
	stat, err := m.Gateway.StatObject(ctx, s.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.fail(ctx, s, "object was never written to storage")
			return nil, fmt.Errorf("%w: object was never written to storage", ErrIntegrityMismatch)
		}

		return nil, fmt.Errorf("failed to verify upload, %w", err)
	}

	tolerance := viper.GetInt64("upload.size_tolerance")
	if diff := stat.Size - s.DeclaredSize; diff > tolerance || diff < -tolerance {
		reason := fmt.Sprintf("stored size %d does not match declared size %d", stat.Size, s.DeclaredSize)
		m.fail(ctx, s, reason)
		return nil, fmt.Errorf("%w: %s", ErrIntegrityMismatch, reason)
	}

	// The server-computed checksum is authoritative, the client value is
	// only compared against it
	if reportedChecksum != "" && stat.Checksum != "" && reportedChecksum != stat.Checksum {
		reason := "checksum mismatch"
		m.fail(ctx, s, reason)
		return nil, fmt.Errorf("%w: %s", ErrIntegrityMismatch, reason)
	}

	media := registry.BuildFromSession(s, stat, m.Provider, m.Bucket)

	err = m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The conditional transition is what makes concurrent retries
		// safe: only one caller flips uploading -> completed, everyone
		// else replays the stored result
		res := tx.Model(model.UploadSession{}).
			Where("session_key = ? AND status = ?", sessionKey, model.SessionUploading).
			Updates(map[string]any{
				"status":        model.SessionCompleted,
				"media_file_id": media.ID,
			})
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			return errAlreadyCompleted
		}

		return m.Registry.Create(tx, media)
	})
	if err != nil {
		if errors.Is(err, errAlreadyCompleted) {
			return m.resolveLostRace(ctx, sessionKey)
		}

		return nil, fmt.Errorf("failed to finalize upload, %w", err)
	}

	zap.L().Info("Upload completed",
		zap.String("session_key", sessionKey),
		zap.String("media_id", media.ID),
		zap.Int64("size", media.Size))

	return media, nil
}

func (m *Manager) get(ctx context.Context, sessionKey string) (*model.UploadSession, error) {
	var s model.UploadSession

	err := m.DB.WithContext(ctx).
		Where("session_key = ?", sessionKey).
		First(&s).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}

		return nil, fmt.Errorf("failed to fetch upload session, %w", err)
	}

	return &s, nil
}

// resolveLostRace maps a lost uploading -> completed transition to its
// outcome. Usually another completer won and the stored result is
// replayed, but the reaper expiring the session concurrently loses the
// race the same way and must surface as expired, not as a replay.
func (m *Manager) resolveLostRace(ctx context.Context, sessionKey string) (*model.MediaFile, error) {
	s, err := m.get(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	switch s.Status {
	case model.SessionExpired:
		return nil, ErrSessionExpired
	case model.SessionFailed:
		return nil, fmt.Errorf("%w: %s", ErrSessionFailed, s.LastError)
	}

	return m.replay(ctx, s)
}

func (m *Manager) replay(ctx context.Context, s *model.UploadSession) (*model.MediaFile, error) {
	if s.MediaFileID == nil {
		// Should not happen, the transition and the media row are
		// written in one transaction
		return nil, fmt.Errorf("completed session %s has no media file", s.SessionKey)
	}

	return m.Registry.Get(ctx, *s.MediaFileID)
}

// fail transitions uploading -> failed. A failed session never produces
// a MediaFile, the conditional update keeps a concurrent successful
// completion from being clobbered.
func (m *Manager) fail(ctx context.Context, s *model.UploadSession, reason string) {
	err := m.DB.WithContext(ctx).
		Model(model.UploadSession{}).
		Where("session_key = ? AND status = ?", s.SessionKey, model.SessionUploading).
		Updates(map[string]any{
			"status":     model.SessionFailed,
			"last_error": reason,
		}).
		Error
	if err != nil {
		zap.L().Error("Failed to mark session as failed", zap.String("session_key", s.SessionKey), zap.Error(err))
		return
	}

	zap.L().Warn("Upload session failed", zap.String("session_key", s.SessionKey), zap.String("reason", reason))
}

func (m *Manager) expire(ctx context.Context, s *model.UploadSession) {
	res := m.DB.WithContext(ctx).
		Model(model.UploadSession{}).
		Where("session_key = ? AND status = ?", s.SessionKey, model.SessionUploading).
		Update("status", model.SessionExpired)
	if res.Error != nil {
		zap.L().Error("Failed to expire session", zap.String("session_key", s.SessionKey), zap.Error(res.Error))
		return
	}

	if res.RowsAffected == 0 {
		return
	}

	// Best effort, the reaper retries on its next cycle if this fails
	if err := m.Gateway.DeleteObject(ctx, s.StorageKey); err != nil {
		zap.L().Error("Failed to delete orphaned storage object", zap.String("key", s.StorageKey), zap.Error(err))
	}
}
