package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"

	"coursehub/media-api/pkg/util"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FFmpegThumbnailer grabs the first frame of a video as a webp preview.
type FFmpegThumbnailer struct{}

func (FFmpegThumbnailer) Render(ctx context.Context, url string) ([]byte, error) {
	thumbPath := path.Join(os.TempDir(), util.RandStr(10)+".webp")
	defer os.Remove(thumbPath)

	zap.L().Debug("Creating thumbnail for video", zap.String("path", thumbPath))

	cmd := exec.CommandContext(ctx, viper.GetString("ffmpeg.path"),
		"-loglevel", "error",
		"-ss", "0",
		"-i", url,
		"-frames:v", "1",
		"-q:v", "2",
		"-vf", "scale=640:360",
		thumbPath,
	)

	var stdErr bytes.Buffer
	cmd.Stderr = &stdErr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed, %w (%s)", err, stdErr.String())
	}

	img, err := os.ReadFile(thumbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read thumbnail file, %w", err)
	}

	return img, nil
}
