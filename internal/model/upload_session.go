// Package model defines database models
package model

// Upload session statuses. A session only ever moves forward:
// pending -> uploading -> completed | failed | expired.
const (
	SessionPending   = "pending"
	SessionUploading = "uploading"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
	SessionExpired   = "expired"
)

type UploadSession struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"-"`

	// Client-visible correlation token for one upload attempt
	SessionKey string `gorm:"uniqueIndex;not null" json:"session_key"`
	OwnerID    string `gorm:"index;not null" json:"-"`

	FileName     string `json:"file_name"`
	DeclaredSize int64  `json:"declared_size"`
	ContentType  string `json:"content_type"`
	Category     string `json:"category"`

	// Where the client was told to put the bytes. Immutable once set
	StorageKey string `json:"-"`

	// Client-reported, UI feedback only. Never used for correctness
	BytesAcked int64 `json:"bytes_acked"`

	Status    string `gorm:"index;not null" json:"status"`
	LastError string `json:"last_error,omitempty"`

	// Set once on successful completion so repeated complete calls
	// can replay the same result
	MediaFileID *string `json:"media_file_id,omitempty"`

	// Unix millisecond timestamps
	CreatedAt int64 `gorm:"not null" json:"created_at"`
	ExpiresAt int64 `gorm:"index;not null" json:"expires_at"`
}

// Percent returns the client-reported progress clamped to [0, 100].
func (s *UploadSession) Percent() float64 {
	if s.DeclaredSize <= 0 {
		return 0
	}

	p := float64(s.BytesAcked) / float64(s.DeclaredSize) * 100
	if p > 100 {
		p = 100
	}

	return p
}

// Terminal reports whether the session can no longer change state.
func (s *UploadSession) Terminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionFailed || s.Status == SessionExpired
}
