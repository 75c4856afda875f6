package streamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hazuki-lab/utawakun/internal/calls"
)

// Failure sentinels. The orchestrator needs to tell a missing asset file apart
// from a backend rejection, and a missing feature apart from a broken call.
var (
	ErrNotInitialized     = errors.New("backend not initialized")
	ErrInitializing       = errors.New("backend initialization already in flight")
	ErrMissingFile        = errors.New("media file not found")
	ErrFeatureUnsupported = errors.New("feature not supported by this call client generation")
	ErrNotPlaying         = errors.New("nothing is playing")
	ErrNotPaused          = errors.New("stream is not paused")
)

// session is the backend-owned call state for one destination. Its absence
// from the sessions map means "not joined".
type session struct {
	joinedAt      time.Time
	currentStream string
	paused        bool
}

// Streamer drives the call-control client through a per-destination
// join/play/pause/resume/stop lifecycle. All client calls are bounded by a
// timeout because they cross a network boundary.
type Streamer struct {
	client      calls.Client
	caps        calls.Capabilities
	callTimeout time.Duration

	mu           sync.Mutex
	initialized  bool
	initializing bool
	sessions     map[int64]*session

	endMu        sync.Mutex
	endHandler   func(destination int64)
	endForwarded bool
}

func New(client calls.Client, callTimeout time.Duration) *Streamer {
	return &Streamer{
		client:      client,
		caps:        calls.ProbeCapabilities(client),
		callTimeout: callTimeout,
		sessions:    make(map[int64]*session),
	}
}

// Capabilities returns the immutable capability descriptor of the wrapped
// client.
func (s *Streamer) Capabilities() calls.Capabilities {
	return s.caps
}

func (s *Streamer) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.callTimeout)
}

// Initialize establishes the call-control connection. It is single-flight: a
// concurrent call while one is in flight is rejected. On failure everything is
// torn down so a retry starts from a clean NotJoined state.
func (s *Streamer) Initialize(ctx context.Context, creds calls.Credentials) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	if s.initializing {
		s.mu.Unlock()
		return ErrInitializing
	}
	s.initializing = true
	s.mu.Unlock()

	cctx, cancel := s.callCtx(ctx)
	err := s.client.Connect(cctx, creds)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.initializing = false
	if err != nil {
		dctx, dcancel := context.WithTimeout(context.Background(), s.callTimeout)
		if derr := s.client.Disconnect(dctx); derr != nil {
			slog.Error("teardown after failed initialize also failed", "error", derr)
		}
		dcancel()
		s.sessions = make(map[int64]*session)
		return fmt.Errorf("backend initialization failed: %w", err)
	}
	s.initialized = true
	slog.Info("streaming backend initialized")
	return nil
}

// Join connects the destination's live voice session. Already joined is a
// no-op success. The capability-rich join shape is attempted first; a minimal
// join is the fallback, taken only when the client reports ErrUnsupported.
func (s *Streamer) Join(ctx context.Context, dest int64) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if _, joined := s.sessions[dest]; joined {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.joinCall(cctx, dest, "medium"); err != nil {
		return fmt.Errorf("join failed for destination %d: %w", dest, err)
	}

	s.mu.Lock()
	s.sessions[dest] = &session{joinedAt: time.Now()}
	s.mu.Unlock()
	slog.Info("joined voice session", "destination", dest)
	return nil
}

// joinCall walks the generational fallback chain for a bare join.
func (s *Streamer) joinCall(ctx context.Context, dest int64, quality string) error {
	if pj, ok := s.client.(calls.ParamsJoiner); ok {
		err := pj.JoinCallWithParams(ctx, dest, quality)
		if err == nil {
			return nil
		}
		if !errors.Is(err, calls.ErrUnsupported) {
			return err
		}
		slog.Debug("rich join shape unsupported, falling back to minimal join", "destination", dest)
	}
	return s.client.JoinCall(ctx, dest)
}

// Play attaches the asset to the destination's live session. With no active
// stream it joins with the stream in one step when the client can, otherwise
// joins minimally and switches; with an active stream it switches in place.
func (s *Streamer) Play(ctx context.Context, dest int64, assetPath string, video bool, quality string) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	sess := s.sessions[dest]
	hasStream := sess != nil && sess.currentStream != ""
	s.mu.Unlock()

	if info, err := os.Stat(assetPath); err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrMissingFile, assetPath)
	}

	stream := calls.StreamDescriptor{Path: assetPath, Video: video, Quality: quality}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()

	if hasStream {
		if err := s.changeStream(cctx, dest, stream); err != nil {
			return err
		}
	} else {
		if err := s.joinWithStream(cctx, dest, stream); err != nil {
			return err
		}
	}

	s.mu.Lock()
	sess = s.sessions[dest]
	if sess == nil {
		sess = &session{joinedAt: time.Now()}
		s.sessions[dest] = sess
	}
	sess.currentStream = assetPath
	sess.paused = false
	s.mu.Unlock()
	slog.Info("stream started", "destination", dest, "asset", assetPath, "video", video)
	return nil
}

func (s *Streamer) joinWithStream(ctx context.Context, dest int64, stream calls.StreamDescriptor) error {
	if sj, ok := s.client.(calls.StreamJoiner); ok {
		err := sj.JoinCallWithStream(ctx, dest, stream)
		if err == nil {
			return nil
		}
		if !errors.Is(err, calls.ErrUnsupported) {
			return fmt.Errorf("join with stream failed: %w", err)
		}
		slog.Debug("join-with-stream unsupported, falling back to join then switch", "destination", dest)
	}
	s.mu.Lock()
	_, joined := s.sessions[dest]
	s.mu.Unlock()
	if !joined {
		if err := s.joinCall(ctx, dest, stream.Quality); err != nil {
			return fmt.Errorf("join failed: %w", err)
		}
		// Record the join before attaching the stream. A change-stream
		// failure then leaves the destination Joined(idle) instead of a live
		// call the session map does not know about, so Leave still works.
		s.mu.Lock()
		s.sessions[dest] = &session{joinedAt: time.Now()}
		s.mu.Unlock()
	}
	return s.changeStream(ctx, dest, stream)
}

func (s *Streamer) changeStream(ctx context.Context, dest int64, stream calls.StreamDescriptor) error {
	sw, ok := s.client.(calls.StreamSwitcher)
	if !ok {
		return fmt.Errorf("%w: change stream", ErrFeatureUnsupported)
	}
	if err := sw.ChangeStream(ctx, dest, stream); err != nil {
		if errors.Is(err, calls.ErrUnsupported) {
			return fmt.Errorf("%w: change stream", ErrFeatureUnsupported)
		}
		return fmt.Errorf("change stream failed: %w", err)
	}
	return nil
}

// Pause is legal only while playing.
func (s *Streamer) Pause(ctx context.Context, dest int64) error {
	s.mu.Lock()
	sess := s.sessions[dest]
	if sess == nil || sess.currentStream == "" || sess.paused {
		s.mu.Unlock()
		return ErrNotPlaying
	}
	s.mu.Unlock()

	pr, ok := s.client.(calls.PauseResumer)
	if !ok {
		return fmt.Errorf("%w: pause", ErrFeatureUnsupported)
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := pr.PauseStream(cctx, dest); err != nil {
		if errors.Is(err, calls.ErrUnsupported) {
			return fmt.Errorf("%w: pause", ErrFeatureUnsupported)
		}
		return fmt.Errorf("pause failed: %w", err)
	}

	s.mu.Lock()
	if sess := s.sessions[dest]; sess != nil {
		sess.paused = true
	}
	s.mu.Unlock()
	slog.Info("stream paused", "destination", dest)
	return nil
}

// Resume is legal only while paused.
func (s *Streamer) Resume(ctx context.Context, dest int64) error {
	s.mu.Lock()
	sess := s.sessions[dest]
	if sess == nil || !sess.paused {
		s.mu.Unlock()
		return ErrNotPaused
	}
	s.mu.Unlock()

	pr, ok := s.client.(calls.PauseResumer)
	if !ok {
		return fmt.Errorf("%w: resume", ErrFeatureUnsupported)
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := pr.ResumeStream(cctx, dest); err != nil {
		if errors.Is(err, calls.ErrUnsupported) {
			return fmt.Errorf("%w: resume", ErrFeatureUnsupported)
		}
		return fmt.Errorf("resume failed: %w", err)
	}

	s.mu.Lock()
	if sess := s.sessions[dest]; sess != nil {
		sess.paused = false
	}
	s.mu.Unlock()
	slog.Info("stream resumed", "destination", dest)
	return nil
}

// Stop ends playback and leaves the destination's voice session.
func (s *Streamer) Stop(ctx context.Context, dest int64) error {
	return s.Leave(ctx, dest)
}

// Leave tolerates "already left" from the underlying layer.
func (s *Streamer) Leave(ctx context.Context, dest int64) error {
	s.mu.Lock()
	if _, joined := s.sessions[dest]; !joined {
		s.mu.Unlock()
		return nil
	}
	delete(s.sessions, dest)
	s.mu.Unlock()

	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.client.LeaveCall(cctx, dest); err != nil {
		if errors.Is(err, calls.ErrNotInCall) {
			return nil
		}
		return fmt.Errorf("leave failed for destination %d: %w", dest, err)
	}
	slog.Info("left voice session", "destination", dest)
	return nil
}

func (s *Streamer) IsJoined(dest int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[dest] != nil
}

// IsPlaying reports joined with an active, unpaused stream.
func (s *Streamer) IsPlaying(dest int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[dest]
	return sess != nil && sess.currentStream != "" && !sess.paused
}

func (s *Streamer) IsPaused(dest int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[dest]
	return sess != nil && sess.paused
}

// CurrentStream returns the asset path attached to the destination's session.
func (s *Streamer) CurrentStream(dest int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[dest]
	if sess == nil || sess.currentStream == "" {
		return "", false
	}
	return sess.currentStream, true
}

// OnStreamEnd registers the end-of-stream handler, delivered when the client
// generation emits end events. Reports false when it does not.
func (s *Streamer) OnStreamEnd(fn func(destination int64)) bool {
	en, ok := s.client.(calls.EndNotifier)
	if !ok {
		return false
	}
	s.endMu.Lock()
	s.endHandler = fn
	if !s.endForwarded {
		s.endForwarded = true
		en.NotifyStreamEnd(s.handleStreamEnd)
	}
	s.endMu.Unlock()
	return true
}

func (s *Streamer) handleStreamEnd(dest int64) {
	s.mu.Lock()
	if sess := s.sessions[dest]; sess != nil {
		sess.currentStream = ""
		sess.paused = false
	}
	s.mu.Unlock()

	s.endMu.Lock()
	fn := s.endHandler
	s.endMu.Unlock()
	if fn != nil {
		fn(dest)
	}
}

// Shutdown leaves every joined destination under a bounded per-destination
// timeout, then disconnects the client. Teardown is always attempted; leave
// failures are collected, never raised.
func (s *Streamer) Shutdown(ctx context.Context) {
	s.mu.Lock()
	dests := make([]int64, 0, len(s.sessions))
	for dest := range s.sessions {
		dests = append(dests, dest)
	}
	s.mu.Unlock()

	for _, dest := range dests {
		if err := s.Leave(ctx, dest); err != nil {
			slog.Error("failed to leave voice session during shutdown", "error", err, "destination", dest)
		}
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.client.Disconnect(cctx); err != nil {
		slog.Error("failed to disconnect call client", "error", err)
	}

	s.mu.Lock()
	s.initialized = false
	s.sessions = make(map[int64]*session)
	s.mu.Unlock()
	slog.Info("streaming backend shut down")
}
