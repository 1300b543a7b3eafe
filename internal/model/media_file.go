package model

// Media categories accepted by the pipeline
const (
	CategoryVideo    = "video"
	CategoryAudio    = "audio"
	CategoryImage    = "image"
	CategoryDocument = "document"
)

// Processing statuses. Forward-only with bounded cycling between
// pending and processing while retries remain.
const (
	MediaPending    = "pending"
	MediaProcessing = "processing"
	MediaCompleted  = "completed"
	MediaFailed     = "failed"
)

type MediaFile struct {
	// Stable reference used by every external collaborator
	ID      string `gorm:"primaryKey" json:"id"`
	OwnerID string `gorm:"index;not null" json:"-"`

	OriginalName string `json:"name"`
	Provider     string `json:"-"`
	Bucket       string `json:"-"`

	// Immutable once set, see Registry.Create
	StorageKey string `gorm:"uniqueIndex;not null" json:"-"`

	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
	Category string `gorm:"index" json:"category"`

	Status   string `gorm:"index;not null" json:"status"`
	Attempts int    `json:"-"`

	// Earliest moment a worker may claim this file again, unix millis.
	// Zero means immediately eligible
	NextAttemptAt int64 `gorm:"index" json:"-"`

	// Lease fields guard against two workers processing the same file.
	// Only the holder of the token may finish or fail the job
	LeaseToken     string `json:"-"`
	LeaseExpiresAt int64  `json:"-"`

	LastError string `json:"error,omitempty"`

	// Extracted by the pipeline, empty until status is completed
	Duration  float64 `json:"duration,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Codec     string  `json:"codec,omitempty"`
	Bitrate   int64   `json:"bitrate,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"`
	ThumbKey  string  `json:"-"`

	// Category-specific extraction results that don't warrant columns
	Meta JSONMap `json:"meta,omitempty"`

	// Weak back-references recorded by external parent entities. Lookup
	// only, never drives this record's lifecycle
	ParentRefs StringSlice `json:"parent_refs,omitempty"`

	Views int64 `json:"views"`

	Deleted bool `gorm:"index;default:false" json:"-"`

	// All are unix millisecond timestamps
	CreatedAt             int64  `gorm:"not null" json:"created_at"`
	UpdatedAt             int64  `json:"updated_at"`
	DeletedAt             *int64 `json:"-"`
	ProcessingStartedAt   *int64 `json:"-"`
	ProcessingCompletedAt *int64 `json:"processed_at,omitempty"`
}
