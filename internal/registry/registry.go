// Package registry is the durable store of finalized media records.
// Once an upload completes the MediaFile row here is the single source
// of truth, no other subsystem writes to the table directly.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"coursehub/media-api/internal/model"
	"coursehub/media-api/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrMediaNotFound = errors.New("media file not found")

type Registry struct {
	DB      *gorm.DB
	Gateway storage.Gateway
}

func New(db *gorm.DB, gw storage.Gateway) *Registry {
	return &Registry{
		DB:      db,
		Gateway: gw,
	}
}

// BuildFromSession constructs the pending MediaFile a completed upload
// session finalizes into. The storage key is carried over from the
// session and never changes afterwards.
func BuildFromSession(s *model.UploadSession, stat *storage.ObjectStat, provider, bucket string) *model.MediaFile {
	now := time.Now().UnixMilli()

	return &model.MediaFile{
		ID:           uuid.NewString(),
		OwnerID:      s.OwnerID,
		OriginalName: s.FileName,
		Provider:     provider,
		Bucket:       bucket,
		StorageKey:   s.StorageKey,
		Size:         stat.Size,
		Checksum:     stat.Checksum,
		Category:     s.Category,
		Status:       model.MediaPending,
		Meta:         model.JSONMap{},
		ParentRefs:   model.StringSlice{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Create persists m inside the caller's transaction. Creating the
// pending row is also what enqueues it, the pipeline claims work
// straight off this table
func (r *Registry) Create(tx *gorm.DB, m *model.MediaFile) error {
	if err := tx.Create(m).Error; err != nil {
		return fmt.Errorf("failed to create media file, %w", err)
	}

	return nil
}

func (r *Registry) Get(ctx context.Context, id string) (*model.MediaFile, error) {
	var m model.MediaFile

	err := r.DB.WithContext(ctx).
		Where("id = ? AND deleted = ?", id, false).
		First(&m).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMediaNotFound
		}

		return nil, fmt.Errorf("failed to fetch media file, %w", err)
	}

	return &m, nil
}

type ListFilters struct {
	Category       string
	Status         string
	Search         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

func (r *Registry) ListByOwner(ctx context.Context, ownerID string, f ListFilters) ([]model.MediaFile, error) {
	q := r.DB.WithContext(ctx).
		Model(model.MediaFile{}).
		Where("owner_id = ?", ownerID)

	if !f.IncludeDeleted {
		q = q.Where("deleted = ?", false)
	}

	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}

	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	if f.Search != "" {
		q = q.Where("original_name LIKE ?", "%"+f.Search+"%")
	}

	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}

	var out []model.MediaFile

	err := q.Order("created_at DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&out).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to list media files, %w", err)
	}

	return out, nil
}

// SoftDelete flips the deleted flag. The row and the storage object stay
// around until the purge reaper gets to them after the retention window
func (r *Registry) SoftDelete(ctx context.Context, ownerID, id string) error {
	now := time.Now().UnixMilli()

	res := r.DB.WithContext(ctx).
		Model(model.MediaFile{}).
		Where("id = ? AND owner_id = ? AND deleted = ?", id, ownerID, false).
		Updates(map[string]any{
			"deleted":    true,
			"deleted_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to soft delete media file, %w", res.Error)
	}

	if res.RowsAffected == 0 {
		return ErrMediaNotFound
	}

	return nil
}

// AttachToParent records a weak back-reference from an external parent
// entity. Lookup only, attaching never transfers ownership and detaching
// never deletes the media file.
func (r *Registry) AttachToParent(ctx context.Context, id, parentRef string) error {
	return r.mutateRefs(ctx, id, func(refs model.StringSlice) model.StringSlice {
		if slices.Contains(refs, parentRef) {
			return refs
		}

		return append(refs, parentRef)
	})
}

func (r *Registry) DetachFromParent(ctx context.Context, id, parentRef string) error {
	return r.mutateRefs(ctx, id, func(refs model.StringSlice) model.StringSlice {
		return slices.DeleteFunc(refs, func(v string) bool { return v == parentRef })
	})
}

func (r *Registry) mutateRefs(ctx context.Context, id string, fn func(model.StringSlice) model.StringSlice) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.MediaFile

		err := tx.Where("id = ? AND deleted = ?", id, false).First(&m).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMediaNotFound
			}

			return fmt.Errorf("failed to fetch media file, %w", err)
		}

		return tx.Model(&m).
			Updates(map[string]any{
				"parent_refs": fn(m.ParentRefs),
				"updated_at":  time.Now().UnixMilli(),
			}).
			Error
	})
}

// IncrementViews bumps the access counter without racing other readers
func (r *Registry) IncrementViews(ctx context.Context, id string) {
	err := r.DB.WithContext(ctx).
		Model(model.MediaFile{}).
		Where("id = ?", id).
		Update("views", gorm.Expr("views + ?", 1)).
		Error
	if err != nil {
		zap.L().Error("Failed to increment view counter", zap.String("id", id), zap.Error(err))
	}
}

// FindOrphanedPending returns pending media files older than grace that
// no worker picked up yet. Used by the crash-recovery sweep to make sure
// a row persisted right before a process died still gets processed.
func (r *Registry) FindOrphanedPending(ctx context.Context, grace time.Duration) ([]model.MediaFile, error) {
	cutoff := time.Now().Add(-grace).UnixMilli()

	var out []model.MediaFile

	err := r.DB.WithContext(ctx).
		Where("status = ? AND created_at < ? AND next_attempt_at <= ?", model.MediaPending, cutoff, time.Now().UnixMilli()).
		Order("created_at").
		Find(&out).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to query orphaned pending media, %w", err)
	}

	return out, nil
}

// StartPurgeReaper attaches a background loop that hard-deletes
// soft-deleted rows once their retention window lapsed, including the
// storage objects backing them
func (r *Registry) StartPurgeReaper(every, retention time.Duration) {
	ticker := time.NewTicker(every)

	zap.L().Debug("Media purge reaper attached", zap.Duration("tick_every", every))

	go func() {
		for range ticker.C {
			r.purgeExpired(retention)
		}
	}()
}

func (r *Registry) purgeExpired(retention time.Duration) {
	cutoff := time.Now().Add(-retention).UnixMilli()

	var toPurge []model.MediaFile

	err := r.DB.
		Where("deleted = ? AND deleted_at < ?", true, cutoff).
		Find(&toPurge).
		Error
	if err != nil {
		zap.L().Error("Failed to query media files to purge", zap.Error(err))
		return
	}

	for _, m := range toPurge {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

		if err := r.Gateway.DeleteObject(ctx, m.StorageKey); err != nil {
			zap.L().Error("Failed to delete storage object, will retry next cycle", zap.String("key", m.StorageKey), zap.Error(err))
			cancel()
			continue
		}

		if m.ThumbKey != "" {
			if err := r.Gateway.DeleteObject(ctx, m.ThumbKey); err != nil {
				zap.L().Error("Failed to delete thumbnail object", zap.String("key", m.ThumbKey), zap.Error(err))
			}
		}

		cancel()

		if err := r.DB.Delete(&model.MediaFile{}, "id = ?", m.ID).Error; err != nil {
			zap.L().Error("Failed to purge media file row", zap.String("id", m.ID), zap.Error(err))
			continue
		}

		zap.L().Debug("Purged media file", zap.String("id", m.ID))
	}
}
