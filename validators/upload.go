// Package validators holds request validation helpers shared by the
// API layer and the upload services
package validators

import (
	"errors"
	"net/http"
	"strings"

	"coursehub/media-api/internal/model"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/viper"
)

var (
	ErrNoFileName          = errors.New("no file name provided")
	ErrFileNameTooLong     = errors.New("file name is too long")
	ErrFileTooLarge        = errors.New("file too large")
	ErrInvalidSize         = errors.New("declared size must be bigger than 0")
	ErrFileTypeUnsupported = errors.New("unsupported file type")
)

const maxFileNameSize = 245 // Takes into account the thumb_ prefix

// UploadValidator checks the client-declared upload metadata against the
// configured policy before anything is persisted or presigned. Returns
// the media category the content type maps to, or a status code and an
// error describing what's wrong.
//
// Only declared values are checked here. The actual bytes never pass
// through this tier, the authoritative size check happens against the
// storage backend at completion time.
func UploadValidator(fileName string, declaredSize int64, contentType string) (category string, code int, err error) {
	if fileName == "" {
		return "", http.StatusBadRequest, ErrNoFileName
	}

	if len(fileName) > maxFileNameSize {
		return "", http.StatusBadRequest, ErrFileNameTooLong
	}

	if declaredSize <= 0 {
		return "", http.StatusBadRequest, ErrInvalidSize
	}

	// Reject content types no sniffer would ever produce. Spoofable,
	// but it keeps garbage declarations out before a session exists
	if mimetype.Lookup(contentType) == nil {
		return "", http.StatusBadRequest, ErrFileTypeUnsupported
	}

	switch {
	case strings.HasPrefix(contentType, "video/"):
		category = model.CategoryVideo
	case strings.HasPrefix(contentType, "audio/"):
		category = model.CategoryAudio
	case strings.HasPrefix(contentType, "image/"):
		category = model.CategoryImage
	case contentType == "application/pdf" || strings.HasPrefix(contentType, "text/"):
		category = model.CategoryDocument
	default:
		return "", http.StatusBadRequest, ErrFileTypeUnsupported
	}

	if declaredSize > viper.GetInt64("upload.max_size_"+category) {
		return "", http.StatusRequestEntityTooLarge, ErrFileTooLarge
	}

	return category, 0, nil
}
