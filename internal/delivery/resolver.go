// Package delivery computes the URL consumers should fetch media from,
// preferring the CDN front end over direct storage access when one is
// configured.
package delivery

import (
	"strings"

	"coursehub/media-api/internal/model"
	"coursehub/media-api/internal/storage"

	"github.com/spf13/viper"
)

type Resolver struct {
	Gateway storage.Gateway
}

func NewResolver(gw storage.Gateway) *Resolver {
	return &Resolver{Gateway: gw}
}

// ResolveDeliveryURL returns where m can be fetched from. Completed
// files go through the CDN when one is configured, everything else
// falls back to the gateway's direct URL. The processing status is
// always returned alongside by the API layer so callers can gate
// playback themselves.
func (r *Resolver) ResolveDeliveryURL(m *model.MediaFile) string {
	if m.Status == model.MediaCompleted {
		if base := cdnBase(); base != "" {
			return base + "/" + m.StorageKey
		}
	}

	return r.Gateway.ResolveURL(m.StorageKey)
}

// ResolveThumbnailURL returns the preview URL, or empty when no
// thumbnail was derived.
func (r *Resolver) ResolveThumbnailURL(m *model.MediaFile) string {
	if m.ThumbKey == "" {
		return ""
	}

	if base := cdnBase(); base != "" {
		return base + "/" + m.ThumbKey
	}

	return r.Gateway.ResolveURL(m.ThumbKey)
}

func cdnBase() string {
	return strings.TrimSuffix(viper.GetString("cdn.base_url"), "/")
}
