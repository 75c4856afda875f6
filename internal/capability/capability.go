package capability

import (
	"log/slog"
	"os/exec"
)

// Tools is an immutable descriptor of optional external tooling, probed once
// at process start and passed into construction. Components consult it instead
// of re-checking the environment at call time.
type Tools struct {
	RemotePlatform bool
	AudioTranscode bool
}

// Probe checks the process environment for the external binaries the remote
// platform resolver shells out to.
func Probe() Tools {
	t := Tools{
		RemotePlatform: lookPath("yt-dlp"),
		AudioTranscode: lookPath("ffmpeg"),
	}
	slog.Info("probed external tooling",
		"yt_dlp", t.RemotePlatform,
		"ffmpeg", t.AudioTranscode)
	return t
}

func lookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
