package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/hazuki-lab/utawakun/internal/assets"
	"github.com/hazuki-lab/utawakun/internal/config"
	"github.com/hazuki-lab/utawakun/internal/queue"
	"github.com/hazuki-lab/utawakun/internal/resolver"
)

const (
	downloadChunkBytes = 8192
	fallbackTitle      = "Downloaded Media"
)

// DirectURLResolver downloads media from a plain HTTP(S) URL. A HEAD probe
// rejects oversize or dead URLs before any transfer; the GET body is then
// streamed in bounded chunks with a running byte count, because the declared
// content-length cannot be trusted.
type DirectURLResolver struct {
	cfg    *config.Config
	store  assets.Store
	client *http.Client
}

func NewDirectURLResolver(cfg *config.Config, store assets.Store) *DirectURLResolver {
	return &DirectURLResolver{
		cfg:   cfg,
		store: store,
		client: &http.Client{
			Timeout: cfg.DownloadTimeout(),
		},
	}
}

func (r *DirectURLResolver) Resolve(ctx context.Context, src resolver.Source, meta resolver.Metadata) (queue.Entry, error) {
	contentType, err := r.probe(ctx, src.URL)
	if err != nil {
		return queue.Entry{}, err
	}

	isVideo := strings.Contains(contentType, "video")
	path, allocErr := r.store.Allocate(suffixForContentType(contentType))
	if allocErr != nil {
		return queue.Entry{}, resolver.NewFailure(resolver.ReasonToolUnavailable, allocErr)
	}

	if err := r.download(ctx, src.URL, path); err != nil {
		r.store.Release(path)
		return queue.Entry{}, err
	}

	title := meta.Title
	if title == "" {
		title = titleFromURL(src.URL)
	}

	return queue.Entry{
		AssetPath:  path,
		Title:      title,
		IsVideo:    isVideo,
		SourceKind: queue.SourceDirectURL,
		AddedBy:    meta.RequestedBy,
	}, nil
}

// probe issues a HEAD request to read the declared size and content type. A
// failing HEAD is not fatal by itself; some servers only answer GET.
func (r *DirectURLResolver) probe(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", resolver.NewFailure(resolver.ReasonNetwork, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", resolver.NewFailure(resolver.ReasonNetwork,
			fmt.Errorf("url not accessible: status %d", resp.StatusCode))
	}
	if resp.ContentLength > r.cfg.MaxDirectURLBytes() {
		return "", resolver.NewFailure(resolver.ReasonSizeExceeded,
			fmt.Errorf("declared size %d exceeds limit %d", resp.ContentLength, r.cfg.MaxDirectURLBytes()))
	}
	return strings.ToLower(resp.Header.Get("Content-Type")), nil
}

// download streams the body into path, aborting as soon as the byte count
// passes the cap.
func (r *DirectURLResolver) download(ctx context.Context, rawURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return resolver.NewFailure(resolver.ReasonNetwork, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return resolver.NewFailure(resolver.ReasonNetwork, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resolver.NewFailure(resolver.ReasonNetwork,
			fmt.Errorf("download failed: status %d", resp.StatusCode))
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return resolver.NewFailure(resolver.ReasonToolUnavailable, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var downloaded int64
	limit := r.cfg.MaxDirectURLBytes()
	buf := make([]byte, downloadChunkBytes)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			downloaded += int64(n)
			if downloaded > limit {
				return resolver.NewFailure(resolver.ReasonSizeExceeded,
					fmt.Errorf("transfer exceeded limit of %d bytes", limit))
			}
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return resolver.NewFailure(resolver.ReasonToolUnavailable, writeErr)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return resolver.NewFailure(resolver.ReasonNetwork, readErr)
		}
	}
}

func suffixForContentType(contentType string) string {
	switch {
	case strings.Contains(contentType, "audio"):
		switch {
		case strings.Contains(contentType, "mp3"), strings.Contains(contentType, "mpeg"):
			return ".mp3"
		case strings.Contains(contentType, "ogg"):
			return ".ogg"
		default:
			return ".m4a"
		}
	case strings.Contains(contentType, "video"):
		if strings.Contains(contentType, "mp4") {
			return ".mp4"
		}
		return ".mkv"
	default:
		return ".bin"
	}
}

// titleFromURL falls back to the URL's last path segment with any query string
// stripped, and to a fixed placeholder when that segment is empty.
func titleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallbackTitle
	}
	segments := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
	last := segments[len(segments)-1]
	if last == "" {
		return fallbackTitle
	}
	return last
}
