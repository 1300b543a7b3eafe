package session

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"testing"
	"time"

	"coursehub/media-api/internal/model"
	"coursehub/media-api/internal/registry"
	"coursehub/media-api/internal/storage"
	"coursehub/media-api/pkg/util"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:" + util.RandStr(12) + "?mode=memory&cache=shared"))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)

	// A single connection serializes writes, which keeps the in-memory
	// database from returning busy errors under concurrent tests
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(model.UploadSession{}, model.MediaFile{}))

	return db
}

func newTestManager(t *testing.T) (*Manager, *storage.MemGateway) {
	t.Helper()

	viper.Set("upload.max_size_video", int64(1<<30))
	viper.Set("upload.max_size_audio", int64(1<<28))
	viper.Set("upload.max_size_image", int64(1<<24))
	viper.Set("upload.max_size_document", int64(1<<24))
	viper.Set("upload.session_expiry", time.Hour)
	viper.Set("upload.size_tolerance", int64(0))
	viper.Set("storage.bucket", "test-bucket")

	db := newTestDB(t)
	gw := storage.NewMemGateway()

	return NewManager(db, gw, registry.New(db, gw)), gw
}

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func TestInitiateRejectsBadDeclarations(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		fileName    string
		size        int64
		contentType string
		wantCode    int
	}{
		{"no file name", "", 100, "video/mp4", 400},
		{"zero size", "a.mp4", 0, "video/mp4", 400},
		{"unknown type", "a.bin", 100, "application/x-nonsense", 400},
		{"too large", "a.mp4", 2 << 30, "video/mp4", 413},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, code, err := m.Initiate(ctx, "u1", tt.fileName, tt.size, tt.contentType)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, code)

			// Rejected initiations never persist a session
			var count int64
			m.DB.Model(model.UploadSession{}).Count(&count)
			assert.Zero(t, count)
		})
	}
}

func TestInitiatePersistsUploadingSession(t *testing.T) {
	m, _ := newTestManager(t)

	s, auth, code, err := m.Initiate(context.Background(), "u1", "lecture.mp4", 10_000_000, "video/mp4")
	require.NoError(t, err)
	assert.Zero(t, code)

	assert.NotEmpty(t, s.SessionKey)
	assert.Equal(t, model.SessionUploading, s.Status)
	assert.Equal(t, model.CategoryVideo, s.Category)
	assert.Greater(t, s.ExpiresAt, time.Now().UnixMilli())
	assert.NotEmpty(t, auth.URL)
}

func TestCompleteIdempotent(t *testing.T) {
	m, gw := newTestManager(t)
	ctx := context.Background()

	body := make([]byte, 1024)
	s, _, _, err := m.Initiate(ctx, "u1", "a.mp4", int64(len(body)), "video/mp4")
	require.NoError(t, err)

	gw.Write(s.StorageKey, body)

	first, err := m.Complete(ctx, s.SessionKey, md5hex(body))
	require.NoError(t, err)
	assert.Equal(t, model.MediaPending, first.Status)

	second, err := m.Complete(ctx, s.SessionKey, md5hex(body))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	m.DB.Model(model.MediaFile{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestCompleteConcurrentCreatesOneMediaFile(t *testing.T) {
	m, gw := newTestManager(t)
	ctx := context.Background()

	body := make([]byte, 512)
	s, _, _, err := m.Initiate(ctx, "u1", "a.mp4", int64(len(body)), "video/mp4")
	require.NoError(t, err)

	gw.Write(s.StorageKey, body)

	const racers = 8
	ids := make(chan string, racers)

	for range racers {
		go func() {
			media, err := m.Complete(ctx, s.SessionKey, md5hex(body))
			if err != nil {
				ids <- ""
				return
			}
			ids <- media.ID
		}()
	}

	want := ""
	for range racers {
		id := <-ids
		require.NotEmpty(t, id)
		if want == "" {
			want = id
		}
		assert.Equal(t, want, id)
	}

	var count int64
	m.DB.Model(model.MediaFile{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestCompleteRaceLostToReaper(t *testing.T) {
	m, gw := newTestManager(t)
	ctx := context.Background()

	body := make([]byte, 128)
	s, _, _, err := m.Initiate(ctx, "u1", "a.mp4", int64(len(body)), "video/mp4")
	require.NoError(t, err)

	gw.Write(s.StorageKey, body)

	// The reaper flips the session to expired between the completer's
	// initial read and its conditional transition
	require.NoError(t, m.DB.Model(model.UploadSession{}).
		Where("session_key = ?", s.SessionKey).
		Update("status", model.SessionExpired).
		Error)

	_, err = m.resolveLostRace(ctx, s.SessionKey)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestCompleteRaceLostToFailure(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, _, _, err := m.Initiate(ctx, "u1", "a.mp4", 100, "video/mp4")
	require.NoError(t, err)

	require.NoError(t, m.DB.Model(model.UploadSession{}).
		Where("session_key = ?", s.SessionKey).
		Updates(map[string]any{
			"status":     model.SessionFailed,
			"last_error": "checksum mismatch",
		}).
		Error)

	_, err = m.resolveLostRace(ctx, s.SessionKey)
	assert.ErrorIs(t, err, ErrSessionFailed)
}

func TestCompleteSizeMismatch(t *testing.T) {
	m, gw := newTestManager(t)
	ctx := context.Background()

	s, _, _, err := m.Initiate(ctx, "u1", "a.mp4", 10_000_000, "video/mp4")
	require.NoError(t, err)

	// Stored object is short of the declared size
	gw.Write(s.StorageKey, make([]byte, 9_999_000))

	_, err = m.Complete(ctx, s.SessionKey, "abc")
	require.ErrorIs(t, err, ErrIntegrityMismatch)

	got, err := m.Get(ctx, s.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, model.SessionFailed, got.Status)
	assert.NotEmpty(t, got.LastError)

	var count int64
	m.DB.Model(model.MediaFile{}).Count(&count)
	assert.Zero(t, count)
}

func TestCompleteChecksumMismatch(t *testing.T) {
	m, gw := newTestManager(t)
	ctx := context.Background()

	body := make([]byte, 256)
	s, _, _, err := m.Initiate(ctx, "u1", "a.mp4", int64(len(body)), "video/mp4")
	require.NoError(t, err)

	gw.Write(s.StorageKey, body)

	_, err = m.Complete(ctx, s.SessionKey, "definitely-not-the-md5")
	require.ErrorIs(t, err, ErrIntegrityMismatch)

	got, _ := m.Get(ctx, s.SessionKey)
	assert.Equal(t, model.SessionFailed, got.Status)
}

func TestCompleteObjectNeverWritten(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, _, _, err := m.Initiate(ctx, "u1", "a.mp4", 100, "video/mp4")
	require.NoError(t, err)

	_, err = m.Complete(ctx, s.SessionKey, "abc")
	require.ErrorIs(t, err, ErrIntegrityMismatch)

	var count int64
	m.DB.Model(model.MediaFile{}).Count(&count)
	assert.Zero(t, count)
}

func TestCompleteExpiredSession(t *testing.T) {
	m, gw := newTestManager(t)
	ctx := context.Background()

	body := make([]byte, 64)
	s, _, _, err := m.Initiate(ctx, "u1", "a.mp4", int64(len(body)), "video/mp4")
	require.NoError(t, err)

	gw.Write(s.StorageKey, body)

	require.NoError(t, m.DB.Model(model.UploadSession{}).
		Where("session_key = ?", s.SessionKey).
		Update("expires_at", time.Now().Add(-time.Minute).UnixMilli()).
		Error)

	_, err = m.Complete(ctx, s.SessionKey, md5hex(body))
	require.ErrorIs(t, err, ErrSessionExpired)

	got, _ := m.Get(ctx, s.SessionKey)
	assert.Equal(t, model.SessionExpired, got.Status)

	// The orphaned object is cleaned up on expiry
	assert.False(t, gw.Has(s.StorageKey))
}

func TestAcknowledgeProgressMonotonic(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, _, _, err := m.Initiate(ctx, "u1", "a.mp4", 1000, "video/mp4")
	require.NoError(t, err)

	got, err := m.AcknowledgeProgress(ctx, s.SessionKey, 500)
	require.NoError(t, err)
	assert.EqualValues(t, 500, got.BytesAcked)
	assert.EqualValues(t, 50, got.Percent())

	// A smaller or duplicate report is ignored
	got, err = m.AcknowledgeProgress(ctx, s.SessionKey, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 500, got.BytesAcked)

	got, err = m.AcknowledgeProgress(ctx, s.SessionKey, 1000)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, got.BytesAcked)
	assert.EqualValues(t, 100, got.Percent())
}

func TestProgressUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.AcknowledgeProgress(context.Background(), "nope", 10)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReaperExpiresOverdueSessions(t *testing.T) {
	m, gw := newTestManager(t)
	ctx := context.Background()

	body := make([]byte, 32)
	s, _, _, err := m.Initiate(ctx, "u1", "a.mp4", int64(len(body)), "video/mp4")
	require.NoError(t, err)

	gw.Write(s.StorageKey, body)

	require.NoError(t, m.DB.Model(model.UploadSession{}).
		Where("session_key = ?", s.SessionKey).
		Update("expires_at", time.Now().Add(-time.Minute).UnixMilli()).
		Error)

	m.reapExpired()

	got, err := m.Get(ctx, s.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, model.SessionExpired, got.Status)
	assert.False(t, gw.Has(s.StorageKey))
}

func TestReaperPurgesTerminalSessions(t *testing.T) {
	m, _ := newTestManager(t)

	viper.Set("upload.retention", time.Hour)

	old := time.Now().Add(-3 * time.Hour).UnixMilli()

	require.NoError(t, m.DB.Create(&model.UploadSession{
		SessionKey: "stale",
		OwnerID:    "u1",
		StorageKey: "k1",
		Status:     model.SessionFailed,
		CreatedAt:  old,
		ExpiresAt:  old,
	}).Error)

	m.purgeTerminal()

	_, err := m.Get(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
