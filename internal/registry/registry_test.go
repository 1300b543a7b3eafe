package registry

import (
	"context"
	"testing"
	"time"

	"coursehub/media-api/internal/model"
	"coursehub/media-api/internal/storage"
	"coursehub/media-api/pkg/util"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+util.RandStr(12)+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(model.MediaFile{}))
	return db
}

func seedFile(t *testing.T, db *gorm.DB, owner string, mut func(*model.MediaFile)) *model.MediaFile {
	t.Helper()

	now := time.Now().UnixMilli()
	m := &model.MediaFile{
		ID:           uuid.NewString(),
		OwnerID:      owner,
		OriginalName: "lecture.mp4",
		Provider:     "s3",
		Bucket:       "media",
		StorageKey:   util.RandStr(16) + ".mp4",
		Size:         1024,
		Checksum:     "abc",
		Category:     model.CategoryVideo,
		Status:       model.MediaCompleted,
		Meta:         model.JSONMap{},
		ParentRefs:   model.StringSlice{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if mut != nil {
		mut(m)
	}

	require.NoError(t, db.Create(m).Error)
	return m
}

func TestBuildFromSessionStartsPending(t *testing.T) {
	s := &model.UploadSession{
		OwnerID:    "owner-1",
		FileName:   "talk.mp4",
		StorageKey: "abcd1234.mp4",
		Category:   model.CategoryVideo,
	}

	m := BuildFromSession(s, &storage.ObjectStat{Exists: true, Size: 42, Checksum: "sum"}, "s3", "media")

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, model.MediaPending, m.Status)
	assert.Equal(t, s.StorageKey, m.StorageKey)
	assert.Equal(t, int64(42), m.Size)
	assert.Equal(t, "sum", m.Checksum)
	assert.Equal(t, s.OwnerID, m.OwnerID)
}

func TestGetExcludesSoftDeleted(t *testing.T) {
	db := newTestDB(t)
	r := New(db, storage.NewMemGateway())
	ctx := context.Background()

	m := seedFile(t, db, "owner-1", nil)

	got, err := r.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	require.NoError(t, r.SoftDelete(ctx, "owner-1", m.ID))

	_, err = r.Get(ctx, m.ID)
	assert.ErrorIs(t, err, ErrMediaNotFound)
}

func TestSoftDeleteIsOwnerScopedAndIdempotentlyRejected(t *testing.T) {
	db := newTestDB(t)
	r := New(db, storage.NewMemGateway())
	ctx := context.Background()

	m := seedFile(t, db, "owner-1", nil)

	// Someone else's file looks like it doesn't exist
	assert.ErrorIs(t, r.SoftDelete(ctx, "owner-2", m.ID), ErrMediaNotFound)

	require.NoError(t, r.SoftDelete(ctx, "owner-1", m.ID))

	// Second delete finds no live row
	assert.ErrorIs(t, r.SoftDelete(ctx, "owner-1", m.ID), ErrMediaNotFound)
}

func TestListByOwnerFilters(t *testing.T) {
	db := newTestDB(t)
	r := New(db, storage.NewMemGateway())
	ctx := context.Background()

	seedFile(t, db, "owner-1", func(m *model.MediaFile) {
		m.OriginalName = "intro.mp4"
		m.CreatedAt = 1000
	})
	seedFile(t, db, "owner-1", func(m *model.MediaFile) {
		m.OriginalName = "slides.pdf"
		m.Category = model.CategoryDocument
		m.CreatedAt = 2000
	})
	deleted := seedFile(t, db, "owner-1", func(m *model.MediaFile) {
		m.OriginalName = "old.mp4"
	})
	seedFile(t, db, "owner-2", nil)

	require.NoError(t, r.SoftDelete(ctx, "owner-1", deleted.ID))

	out, err := r.ListByOwner(ctx, "owner-1", ListFilters{})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = r.ListByOwner(ctx, "owner-1", ListFilters{Category: model.CategoryDocument})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "slides.pdf", out[0].OriginalName)

	out, err = r.ListByOwner(ctx, "owner-1", ListFilters{Search: "intro"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "intro.mp4", out[0].OriginalName)

	out, err = r.ListByOwner(ctx, "owner-1", ListFilters{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestListByOwnerOrdersNewestFirst(t *testing.T) {
	db := newTestDB(t)
	r := New(db, storage.NewMemGateway())

	seedFile(t, db, "owner-1", func(m *model.MediaFile) {
		m.OriginalName = "first.mp4"
		m.CreatedAt = 1000
	})
	seedFile(t, db, "owner-1", func(m *model.MediaFile) {
		m.OriginalName = "second.mp4"
		m.CreatedAt = 2000
	})

	out, err := r.ListByOwner(context.Background(), "owner-1", ListFilters{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "second.mp4", out[0].OriginalName)
}

func TestAttachDetachParentRefs(t *testing.T) {
	db := newTestDB(t)
	r := New(db, storage.NewMemGateway())
	ctx := context.Background()

	m := seedFile(t, db, "owner-1", nil)

	require.NoError(t, r.AttachToParent(ctx, m.ID, "course:101"))
	require.NoError(t, r.AttachToParent(ctx, m.ID, "course:202"))

	// Attaching the same ref twice is a no-op
	require.NoError(t, r.AttachToParent(ctx, m.ID, "course:101"))

	got, err := r.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StringSlice{"course:101", "course:202"}, got.ParentRefs)

	require.NoError(t, r.DetachFromParent(ctx, m.ID, "course:101"))

	got, err = r.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StringSlice{"course:202"}, got.ParentRefs)

	// Detaching a ref that isn't there succeeds and the file survives
	require.NoError(t, r.DetachFromParent(ctx, m.ID, "course:999"))

	got, err = r.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.Deleted)
}

func TestAttachToDeletedFileFails(t *testing.T) {
	db := newTestDB(t)
	r := New(db, storage.NewMemGateway())
	ctx := context.Background()

	m := seedFile(t, db, "owner-1", nil)
	require.NoError(t, r.SoftDelete(ctx, "owner-1", m.ID))

	assert.ErrorIs(t, r.AttachToParent(ctx, m.ID, "course:101"), ErrMediaNotFound)
}

func TestIncrementViews(t *testing.T) {
	db := newTestDB(t)
	r := New(db, storage.NewMemGateway())
	ctx := context.Background()

	m := seedFile(t, db, "owner-1", nil)

	r.IncrementViews(ctx, m.ID)
	r.IncrementViews(ctx, m.ID)

	got, err := r.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Views)
}

func TestFindOrphanedPending(t *testing.T) {
	db := newTestDB(t)
	r := New(db, storage.NewMemGateway())
	ctx := context.Background()

	old := seedFile(t, db, "owner-1", func(m *model.MediaFile) {
		m.Status = model.MediaPending
		m.CreatedAt = time.Now().Add(-time.Hour).UnixMilli()
	})
	seedFile(t, db, "owner-1", func(m *model.MediaFile) {
		m.Status = model.MediaPending
	})
	seedFile(t, db, "owner-1", func(m *model.MediaFile) {
		m.Status = model.MediaProcessing
		m.CreatedAt = time.Now().Add(-time.Hour).UnixMilli()
	})

	out, err := r.FindOrphanedPending(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, old.ID, out[0].ID)
}

func TestPurgeExpiredRemovesRowAndObjects(t *testing.T) {
	db := newTestDB(t)
	gw := storage.NewMemGateway()
	r := New(db, gw)
	ctx := context.Background()

	m := seedFile(t, db, "owner-1", func(m *model.MediaFile) {
		m.ThumbKey = "thumb_" + m.StorageKey + ".webp"
	})
	gw.Write(m.StorageKey, []byte("payload"))
	gw.Write(m.ThumbKey, []byte("thumb"))

	keep := seedFile(t, db, "owner-1", nil)
	gw.Write(keep.StorageKey, []byte("payload"))
	require.NoError(t, r.SoftDelete(ctx, "owner-1", keep.ID))

	require.NoError(t, r.SoftDelete(ctx, "owner-1", m.ID))
	require.NoError(t, db.Model(model.MediaFile{}).
		Where("id = ?", m.ID).
		Update("deleted_at", time.Now().Add(-48*time.Hour).UnixMilli()).
		Error)

	r.purgeExpired(24 * time.Hour)

	var count int64
	require.NoError(t, db.Model(model.MediaFile{}).Where("id = ?", m.ID).Count(&count).Error)
	assert.Zero(t, count)
	assert.False(t, gw.Has(m.StorageKey))
	assert.False(t, gw.Has(m.ThumbKey))

	// Recently deleted file is still inside its retention window
	require.NoError(t, db.Model(model.MediaFile{}).Where("id = ?", keep.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.True(t, gw.Has(keep.StorageKey))
}
