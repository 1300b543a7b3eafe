// Package pipeline contains the background workers that turn pending
// media files into processed ones. All coordination happens through
// conditional updates on the media_files table, so any number of
// processes can run workers against the same database.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"coursehub/media-api/internal/model"
	"coursehub/media-api/internal/storage"
	"coursehub/media-api/pkg/util"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Metadata is what extraction produces for one media file. Category
// decides which fields are populated.
type Metadata struct {
	Duration  float64
	Width     int
	Height    int
	Codec     string
	Bitrate   int64
	FrameRate float64
	Extra     model.JSONMap
}

// Extractor derives technical metadata from an object reachable at url.
// Content-level failures must be returned as *ExtractionError, anything
// else is treated as transient and retried.
type Extractor interface {
	Extract(ctx context.Context, url, category string) (*Metadata, error)
}

// Thumbnailer renders a preview image for a media object. Best effort,
// a failed thumbnail never fails the job.
type Thumbnailer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

type Options struct {
	Workers      int
	MaxAttempts  int
	LeaseTimeout time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	PollInterval time.Duration
}

// OptionsFromConfig reads the pipeline.* config block.
func OptionsFromConfig() Options {
	return Options{
		Workers:      viper.GetInt("pipeline.workers"),
		MaxAttempts:  viper.GetInt("pipeline.max_attempts"),
		LeaseTimeout: viper.GetDuration("pipeline.lease_timeout"),
		BackoffBase:  viper.GetDuration("pipeline.backoff_base"),
		BackoffCap:   viper.GetDuration("pipeline.backoff_cap"),
		PollInterval: viper.GetDuration("pipeline.poll_interval"),
	}
}

type Pipeline struct {
	db          *gorm.DB
	gateway     storage.Gateway
	extractor   Extractor
	thumbnailer Thumbnailer
	opts        Options

	wake chan struct{}
	stop chan struct{}
}

func New(db *gorm.DB, gw storage.Gateway, ex Extractor, th Thumbnailer, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = 10 * time.Minute
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 30 * time.Second
	}
	if opts.BackoffCap < opts.BackoffBase {
		opts.BackoffCap = 15 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}

	return &Pipeline{
		db:          db,
		gateway:     gw,
		extractor:   ex,
		thumbnailer: th,
		opts:        opts,
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
}

// Start launches the worker pool and the lease sweep.
func (p *Pipeline) Start() {
	zap.L().Info("Starting processing workers",
		zap.Int("workers", p.opts.Workers),
		zap.Int("max_attempts", p.opts.MaxAttempts))

	for range p.opts.Workers {
		go p.worker()
	}

	go p.leaseSweep()
}

// Stop signals workers to exit after their current job.
func (p *Pipeline) Stop() {
	close(p.stop)
}

// Wake nudges an idle worker so a freshly enqueued file doesn't wait
// for the next poll tick.
func (p *Pipeline) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) worker() {
	for {
		// Checked before claiming so a backlog can't keep the worker
		// alive past Stop
		select {
		case <-p.stop:
			return
		default:
		}

		m, token, err := p.claimNext()
		if err != nil {
			zap.L().Error("Failed to claim work", zap.Error(err))
		}

		if m != nil {
			p.process(m, token)
			continue
		}

		select {
		case <-p.stop:
			return
		case <-p.wake:
		case <-time.After(p.opts.PollInterval):
		}
	}
}

// claimNext atomically claims the oldest eligible pending file. The
// conditional update is the whole correctness story: whichever worker's
// update lands first owns the file, everyone else sees zero rows.
func (p *Pipeline) claimNext() (*model.MediaFile, string, error) {
	now := time.Now().UnixMilli()

	var m model.MediaFile

	err := p.db.
		Where("status = ? AND next_attempt_at <= ?", model.MediaPending, now).
		Order("created_at").
		First(&m).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", nil
		}

		return nil, "", fmt.Errorf("failed to query pending media, %w", err)
	}

	token := util.RandStr(16)

	res := p.db.
		Model(model.MediaFile{}).
		Where("id = ? AND status = ?", m.ID, model.MediaPending).
		Updates(map[string]any{
			"status":                model.MediaProcessing,
			"lease_token":           token,
			"lease_expires_at":      now + p.opts.LeaseTimeout.Milliseconds(),
			"processing_started_at": now,
			"updated_at":            now,
		})
	if res.Error != nil {
		return nil, "", fmt.Errorf("failed to claim media %s, %w", m.ID, res.Error)
	}

	if res.RowsAffected == 0 {
		// Another worker won the claim, not an error
		return nil, "", nil
	}

	m.Status = model.MediaProcessing
	return &m, token, nil
}

func (p *Pipeline) process(m *model.MediaFile, token string) {
	zap.L().Debug("Processing media file",
		zap.String("id", m.ID),
		zap.String("category", m.Category),
		zap.Int("attempt", m.Attempts+1))

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.LeaseTimeout)
	defer cancel()

	url := p.gateway.ResolveURL(m.StorageKey)

	meta, err := p.extractor.Extract(ctx, url, m.Category)
	if err != nil {
		var exErr *ExtractionError

		if errors.As(err, &exErr) {
			// Corrupt or unsupported content, retrying the same bytes
			// can't help
			p.failTerminal(m, token, m.Attempts+1, exErr.Reason)
			return
		}

		p.retry(m, token, err)
		return
	}

	thumbKey := ""
	if m.Category == model.CategoryVideo && p.thumbnailer != nil {
		thumbKey = p.makeThumbnail(ctx, m, url)
	}

	p.complete(m, token, meta, thumbKey)
}

// makeThumbnail renders and stores a preview under a new derived key.
// The original object is never written to, so there is no write-write
// conflict to worry about.
func (p *Pipeline) makeThumbnail(ctx context.Context, m *model.MediaFile, url string) string {
	img, err := p.thumbnailer.Render(ctx, url)
	if err != nil {
		zap.L().Warn("Failed to render thumbnail, continuing without one", zap.String("id", m.ID), zap.Error(err))
		return ""
	}

	key := "thumb_" + m.StorageKey + ".webp"

	if err := p.gateway.Put(ctx, key, "image/webp", img); err != nil {
		zap.L().Warn("Failed to store thumbnail, continuing without one", zap.String("id", m.ID), zap.Error(err))
		return ""
	}

	return key
}

// complete writes the extracted fields and transitions to completed,
// releasing the lease. The token match makes sure a worker whose lease
// was reclaimed can't overwrite someone else's result.
func (p *Pipeline) complete(m *model.MediaFile, token string, meta *Metadata, thumbKey string) {
	now := time.Now().UnixMilli()

	extra := meta.Extra
	if extra == nil {
		extra = model.JSONMap{}
	}

	res := p.db.
		Model(model.MediaFile{}).
		Where("id = ? AND status = ? AND lease_token = ?", m.ID, model.MediaProcessing, token).
		Updates(map[string]any{
			"status":                  model.MediaCompleted,
			"duration":                meta.Duration,
			"width":                   meta.Width,
			"height":                  meta.Height,
			"codec":                   meta.Codec,
			"bitrate":                 meta.Bitrate,
			"frame_rate":              meta.FrameRate,
			"thumb_key":               thumbKey,
			"meta":                    extra,
			"last_error":              "",
			"lease_token":             "",
			"lease_expires_at":        0,
			"processing_completed_at": now,
			"updated_at":              now,
		})
	if res.Error != nil {
		zap.L().Error("Failed to complete media file", zap.String("id", m.ID), zap.Error(res.Error))
		return
	}

	if res.RowsAffected == 0 {
		zap.L().Warn("Lost lease before completion, result discarded", zap.String("id", m.ID))

		if thumbKey != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := p.gateway.DeleteObject(ctx, thumbKey); err != nil {
				zap.L().Error("Failed to delete discarded thumbnail", zap.String("key", thumbKey), zap.Error(err))
			}
		}

		return
	}

	zap.L().Info("Media file processed",
		zap.String("id", m.ID),
		zap.Float64("duration", meta.Duration))
}

// retry reschedules after a transient failure with exponential backoff,
// or fails permanently once the attempt budget is spent.
func (p *Pipeline) retry(m *model.MediaFile, token string, cause error) {
	attempts := m.Attempts + 1

	if attempts >= p.opts.MaxAttempts {
		p.failTerminal(m, token, attempts, fmt.Sprintf("retries exhausted after %d attempts: %s", attempts, cause))
		return
	}

	now := time.Now().UnixMilli()
	delay := p.backoff(attempts)

	res := p.db.
		Model(model.MediaFile{}).
		Where("id = ? AND status = ? AND lease_token = ?", m.ID, model.MediaProcessing, token).
		Updates(map[string]any{
			"status":           model.MediaPending,
			"attempts":         attempts,
			"next_attempt_at":  now + delay.Milliseconds(),
			"last_error":       cause.Error(),
			"lease_token":      "",
			"lease_expires_at": 0,
			"updated_at":       now,
		})
	if res.Error != nil {
		zap.L().Error("Failed to reschedule media file", zap.String("id", m.ID), zap.Error(res.Error))
		return
	}

	if res.RowsAffected == 0 {
		zap.L().Warn("Lost lease before reschedule", zap.String("id", m.ID))
		return
	}

	zap.L().Warn("Transient processing failure, rescheduled",
		zap.String("id", m.ID),
		zap.Int("attempt", attempts),
		zap.Duration("retry_in", delay),
		zap.Error(cause))
}

func (p *Pipeline) failTerminal(m *model.MediaFile, token string, attempts int, reason string) {
	now := time.Now().UnixMilli()

	res := p.db.
		Model(model.MediaFile{}).
		Where("id = ? AND status = ? AND lease_token = ?", m.ID, model.MediaProcessing, token).
		Updates(map[string]any{
			"status":           model.MediaFailed,
			"attempts":         attempts,
			"last_error":       reason,
			"lease_token":      "",
			"lease_expires_at": 0,
			"updated_at":       now,
		})
	if res.Error != nil {
		zap.L().Error("Failed to mark media file as failed", zap.String("id", m.ID), zap.Error(res.Error))
		return
	}

	if res.RowsAffected == 0 {
		zap.L().Warn("Lost lease before failure could be recorded", zap.String("id", m.ID))
		return
	}

	zap.L().Error("Media processing failed permanently",
		zap.String("id", m.ID),
		zap.String("reason", reason))
}

// backoff doubles from the base per attempt, capped and jittered by
// +-10% so a burst of failures doesn't come back in lockstep.
func (p *Pipeline) backoff(attempt int) time.Duration {
	d := p.opts.BackoffBase << (attempt - 1)
	if d > p.opts.BackoffCap || d <= 0 {
		d = p.opts.BackoffCap
	}

	jitter := time.Duration(rand.Int63n(int64(d)/5+1)) - d/10
	return d + jitter
}

// leaseSweep reclaims jobs whose worker died mid-processing. Resetting
// to pending without touching the attempt counter keeps crashes from
// eating into the retry budget.
func (p *Pipeline) leaseSweep() {
	every := p.opts.LeaseTimeout / 2
	if every < time.Second {
		every = time.Second
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		if n := p.ReclaimExpiredLeases(); n > 0 {
			p.Wake()
		}
	}
}

// ReclaimExpiredLeases resets processing files with an expired lease
// back to pending and returns how many were reclaimed.
func (p *Pipeline) ReclaimExpiredLeases() int64 {
	now := time.Now().UnixMilli()

	res := p.db.
		Model(model.MediaFile{}).
		Where("status = ? AND lease_expires_at > 0 AND lease_expires_at < ?", model.MediaProcessing, now).
		Updates(map[string]any{
			"status":           model.MediaPending,
			"lease_token":      "",
			"lease_expires_at": 0,
			"next_attempt_at":  now,
			"updated_at":       now,
		})
	if res.Error != nil {
		zap.L().Error("Failed to reclaim expired leases", zap.Error(res.Error))
		return 0
	}

	if res.RowsAffected > 0 {
		zap.L().Warn("Reclaimed expired processing leases", zap.Int64("count", res.RowsAffected))
	}

	return res.RowsAffected
}
