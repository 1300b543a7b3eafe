package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"coursehub/media-api/internal/model"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FFprobeExtractor shells out to ffprobe. It reads straight off the
// resolved storage URL so the object never has to be downloaded first.
type FFprobeExtractor struct{}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

func (FFprobeExtractor) Extract(ctx context.Context, url, category string) (*Metadata, error) {
	// Documents have nothing ffprobe can tell us, page counting is a
	// best-effort feature the extraction step skips entirely
	if category == model.CategoryDocument {
		return &Metadata{Extra: model.JSONMap{}}, nil
	}

	zap.L().Debug("Running FFprobe", zap.String("url", url))

	cmd := exec.CommandContext(ctx, viper.GetString("ffprobe.path"),
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-i", url,
	)

	var stdOut, stdErr bytes.Buffer
	cmd.Stdout = &stdOut
	cmd.Stderr = &stdErr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe timed out, %w", ctx.Err())
		}

		if _, ok := err.(*exec.ExitError); ok {
			// ffprobe ran but rejected the content
			return nil, &ExtractionError{Reason: fmt.Sprintf("unreadable media: %s", strings.TrimSpace(stdErr.String()))}
		}

		return nil, fmt.Errorf("ffprobe failed to start, %w", err)
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdOut.Bytes(), &out); err != nil {
		return nil, &ExtractionError{Reason: "malformed ffprobe output"}
	}

	meta := &Metadata{Extra: model.JSONMap{}}

	meta.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	meta.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			meta.Width = s.Width
			meta.Height = s.Height
			meta.Codec = s.CodecName
			meta.FrameRate = parseFrameRate(s.RFrameRate)
		case "audio":
			if meta.Codec == "" {
				meta.Codec = s.CodecName
			}
			meta.Extra["audio_codec"] = s.CodecName
		}
	}

	switch category {
	case model.CategoryVideo, model.CategoryAudio:
		if meta.Duration <= 0 {
			return nil, &ExtractionError{Reason: "media has no readable duration"}
		}
	case model.CategoryImage:
		// Images report a single video stream with dimensions
		if meta.Width <= 0 || meta.Height <= 0 {
			return nil, &ExtractionError{Reason: "image has no readable dimensions"}
		}
		meta.Duration = 0
	}

	zap.L().Debug("FFprobe finished", zap.Float64("duration", meta.Duration))

	return meta, nil
}

// parseFrameRate turns ffprobe's "30000/1001" fraction into a float.
func parseFrameRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	if !ok {
		f, _ := strconv.ParseFloat(r, 64)
		return f
	}

	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}

	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}

	return n / d
}
