package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lrstanley/go-ytdlp"

	"github.com/hazuki-lab/utawakun/internal/assets"
	"github.com/hazuki-lab/utawakun/internal/capability"
	"github.com/hazuki-lab/utawakun/internal/config"
	"github.com/hazuki-lab/utawakun/internal/queue"
	"github.com/hazuki-lab/utawakun/internal/resolver"
)

// RemotePlatformResolver materializes media from remote video platforms with
// yt-dlp: a metadata probe first, then a best-audio download normalized to mp3.
// Remote platform entries are always audio.
type RemotePlatformResolver struct {
	cfg   *config.Config
	store assets.Store
	tools capability.Tools
}

func NewRemotePlatformResolver(cfg *config.Config, store assets.Store, tools capability.Tools) *RemotePlatformResolver {
	return &RemotePlatformResolver{cfg: cfg, store: store, tools: tools}
}

func (r *RemotePlatformResolver) newCommand() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoPlaylist()
	if r.cfg.RemoteProxy != "" {
		cmd.Proxy(r.cfg.RemoteProxy)
	}
	return cmd
}

func (r *RemotePlatformResolver) Resolve(ctx context.Context, src resolver.Source, meta resolver.Metadata) (queue.Entry, error) {
	if !r.tools.RemotePlatform || !r.tools.AudioTranscode {
		return queue.Entry{}, resolver.NewFailure(resolver.ReasonToolUnavailable,
			errors.New("yt-dlp or ffmpeg not available"))
	}

	title, duration, err := r.probe(ctx, src.URL)
	if err != nil {
		return queue.Entry{}, err
	}
	if r.cfg.MaxMediaDurationSec > 0 && duration > r.cfg.MaxMediaDurationSec {
		return queue.Entry{}, resolver.NewFailure(resolver.ReasonDurationExceeded,
			fmt.Errorf("media is %ds, ceiling is %ds", duration, r.cfg.MaxMediaDurationSec))
	}

	path, err := r.store.Allocate(".mp3")
	if err != nil {
		return queue.Entry{}, resolver.NewFailure(resolver.ReasonToolUnavailable, err)
	}

	if err := r.download(ctx, src.URL, path); err != nil {
		r.store.Release(path)
		return queue.Entry{}, err
	}

	return queue.Entry{
		AssetPath:       path,
		Title:           title,
		DurationSeconds: duration,
		IsVideo:         false,
		SourceKind:      queue.SourceRemotePlatform,
		AddedBy:         meta.RequestedBy,
	}, nil
}

// probe reads title and duration without downloading.
func (r *RemotePlatformResolver) probe(ctx context.Context, url string) (string, int, error) {
	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.DownloadTimeout())
	defer cancel()

	res, err := r.newCommand().
		Print("%(title)s\t%(duration)s").
		Run(probeCtx, "--skip-download", url)
	if err != nil {
		return "", 0, resolver.NewFailure(resolver.ReasonNetwork, err)
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}
		title := parts[0]
		if title == "" || title == "NA" {
			title = "Unknown"
		}
		duration, _ := strconv.Atoi(strings.TrimSuffix(parts[1], ".0"))
		return title, duration, nil
	}
	return "", 0, resolver.NewFailure(resolver.ReasonNetwork, errors.New("failed to parse media metadata"))
}

// download extracts best-available audio onto the allocated path. yt-dlp picks
// the container before post-processing, so the produced file is located by its
// base name and renamed into place when needed.
func (r *RemotePlatformResolver) download(ctx context.Context, url, path string) error {
	base := strings.TrimSuffix(path, ".mp3")
	res, err := r.newCommand().
		Format("bestaudio/best").
		Output(base + ".%(ext)s").
		Run(ctx,
			"--extract-audio",
			"--audio-format", "mp3",
			"--audio-quality", "192",
			"--max-filesize", fmt.Sprintf("%dm", r.cfg.MaxRemoteAudioSizeMB),
			url)
	if err != nil {
		if sizeRejected(res) {
			return resolver.NewFailure(resolver.ReasonSizeExceeded, err)
		}
		return resolver.NewFailure(resolver.ReasonNetwork, err)
	}

	if err := locateOutput(path, base); err != nil {
		if sizeRejected(res) {
			return resolver.NewFailure(resolver.ReasonSizeExceeded, errors.New("download skipped: media over the size limit"))
		}
		return resolver.NewFailure(resolver.ReasonNetwork, errors.New("download produced no file"))
	}
	if info, statErr := os.Stat(path); statErr == nil && info.Size() > r.cfg.MaxRemoteAudioBytes() {
		return resolver.NewFailure(resolver.ReasonSizeExceeded,
			fmt.Errorf("produced file is %d bytes, cap is %d", info.Size(), r.cfg.MaxRemoteAudioBytes()))
	}
	return nil
}

// locateOutput finds the file yt-dlp actually produced. The allocated path is
// pre-created empty, so an empty file there means nothing was downloaded;
// post-processing may also have picked another container, located by base name
// and renamed into place.
func locateOutput(path, base string) error {
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return nil
	}
	matches, _ := filepath.Glob(base + ".*")
	for _, m := range matches {
		if m == path {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}
		if renameErr := os.Rename(m, path); renameErr == nil {
			return nil
		}
	}
	return errors.New("no output file")
}

func sizeRejected(res *ytdlp.Result) bool {
	return res != nil && (looksLikeSizeRejection(res.Stderr) || looksLikeSizeRejection(res.Stdout))
}

// looksLikeSizeRejection recognizes yt-dlp's phrasing for files skipped over
// the --max-filesize cap. The skip is a warning, not an exit failure, so the
// output text is the only signal.
func looksLikeSizeRejection(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "max-filesize") || strings.Contains(lower, "larger than")
}
