package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazuki-lab/utawakun/internal/assets"
	"github.com/hazuki-lab/utawakun/internal/config"
	"github.com/hazuki-lab/utawakun/internal/queue"
	"github.com/hazuki-lab/utawakun/internal/resolver"
)

// AttachmentResolver materializes in-app media attachments through the host
// messaging layer's media-fetch capability. The declared size is checked
// before any transfer starts.
type AttachmentResolver struct {
	cfg     *config.Config
	store   assets.Store
	fetcher resolver.MediaFetcher
}

func NewAttachmentResolver(cfg *config.Config, store assets.Store, fetcher resolver.MediaFetcher) *AttachmentResolver {
	return &AttachmentResolver{cfg: cfg, store: store, fetcher: fetcher}
}

func (r *AttachmentResolver) Resolve(ctx context.Context, src resolver.Source, meta resolver.Metadata) (queue.Entry, error) {
	ref := src.Attachment
	if ref == nil {
		return queue.Entry{}, resolver.NewFailure(resolver.ReasonUnsupportedKind,
			fmt.Errorf("source has no attachment reference"))
	}
	if ref.Size > r.cfg.MaxAttachmentBytes() {
		return queue.Entry{}, resolver.NewFailure(resolver.ReasonSizeExceeded,
			fmt.Errorf("declared size %d exceeds limit %d", ref.Size, r.cfg.MaxAttachmentBytes()))
	}

	suffix, isVideo, ok := classifyAttachment(ref)
	if !ok {
		return queue.Entry{}, resolver.NewFailure(resolver.ReasonUnsupportedKind,
			fmt.Errorf("undetectable media kind for mime %q", ref.MIMEType))
	}

	path, err := r.store.Allocate(suffix)
	if err != nil {
		return queue.Entry{}, resolver.NewFailure(resolver.ReasonToolUnavailable, err)
	}

	if err := r.fetcher.FetchMedia(ctx, *ref, path); err != nil {
		r.store.Release(path)
		return queue.Entry{}, resolver.NewFailure(resolver.ReasonNetwork, err)
	}

	return queue.Entry{
		AssetPath:       path,
		Title:           attachmentTitle(ref),
		DurationSeconds: ref.DurationSeconds,
		IsVideo:         isVideo,
		SourceKind:      queue.SourceAttachment,
		AddedBy:         meta.RequestedBy,
	}, nil
}

// classifyAttachment picks a file suffix and stream type from the declared
// kind and MIME type.
func classifyAttachment(ref *resolver.AttachmentRef) (suffix string, isVideo bool, ok bool) {
	mime := strings.ToLower(ref.MIMEType)
	switch ref.Kind {
	case resolver.AttachmentAudio:
		if strings.Contains(mime, "ogg") {
			return ".ogg", false, true
		}
		return ".mp3", false, true
	case resolver.AttachmentVideo:
		return ".mp4", true, true
	case resolver.AttachmentDocument:
		switch {
		case strings.Contains(mime, "audio/ogg"):
			return ".ogg", false, true
		case strings.HasPrefix(mime, "audio/"):
			return ".mp3", false, true
		case strings.Contains(mime, "video/mp4"):
			return ".mp4", true, true
		case strings.HasPrefix(mime, "video/"):
			return ".mkv", true, true
		default:
			return "", false, false
		}
	default:
		return "", false, false
	}
}

// attachmentTitle extracts the best available display name: explicit title,
// then filename, then a performer/title composite for audio.
func attachmentTitle(ref *resolver.AttachmentRef) string {
	if ref.Title != "" {
		if ref.Performer != "" && ref.Kind == resolver.AttachmentAudio {
			return ref.Performer + " – " + ref.Title
		}
		return ref.Title
	}
	if ref.FileName != "" {
		return ref.FileName
	}
	if ref.Kind == resolver.AttachmentVideo {
		return "Video"
	}
	return "Audio"
}
