package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazuki-lab/utawakun/internal/assets"
	"github.com/hazuki-lab/utawakun/internal/config"
	"github.com/hazuki-lab/utawakun/internal/notify"
	"github.com/hazuki-lab/utawakun/internal/queue"
	"github.com/hazuki-lab/utawakun/internal/resolver"
	"github.com/hazuki-lab/utawakun/internal/streamer"
)

var (
	// ErrDownloadFailed is the single user-visible outcome every resolution
	// failure maps to. The classified reason stays in the logs.
	ErrDownloadFailed = errors.New("download failed")
	// ErrUnsupportedSource means no resolver handles the source kind.
	ErrUnsupportedSource = errors.New("unsupported source")
	// ErrQueueFinished means the cursor cannot advance further.
	ErrQueueFinished = errors.New("queue finished")
)

// Orchestrator glues resolvers, the queue store and the streaming backend
// together. All queue mutation and playback control for one destination is
// serialized under a per-destination lock; resolver downloads run outside it.
type Orchestrator struct {
	cfg      *config.Config
	store    assets.Store
	resolve  resolver.Set
	queue    *queue.Manager
	backend  *streamer.Streamer
	notifier notify.Sender

	mu        sync.Mutex
	destLocks map[int64]*sync.Mutex
	endTimers map[int64]*time.Timer
	endEvents bool
}

func New(cfg *config.Config, store assets.Store, set resolver.Set, qm *queue.Manager, backend *streamer.Streamer, notifier notify.Sender) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		resolve:   set,
		queue:     qm,
		backend:   backend,
		notifier:  notifier,
		destLocks: make(map[int64]*sync.Mutex),
		endTimers: make(map[int64]*time.Timer),
	}
}

// Start wires end-of-stream advancement. The backend's own event subscription
// is preferred; when the client generation has none, a duration-based timer
// armed per successful play takes over (entries with unknown duration then
// advance only on manual commands).
func (o *Orchestrator) Start() {
	o.endEvents = o.backend.OnStreamEnd(func(dest int64) {
		go o.handleStreamEnd(context.Background(), dest)
	})
	if o.endEvents {
		slog.Info("auto-advance driven by backend end-of-stream events")
	} else {
		slog.Info("auto-advance driven by duration timers; backend emits no end-of-stream events")
	}
}

func (o *Orchestrator) lockFor(dest int64) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.destLocks[dest]
	if !ok {
		l = &sync.Mutex{}
		o.destLocks[dest] = l
	}
	return l
}

// AddMedia resolves a raw source reference, enqueues the result and starts
// playback if the destination is idle and auto-play is on. It returns the
// entry's 1-based queue position.
func (o *Orchestrator) AddMedia(ctx context.Context, dest int64, src resolver.Source, requester int64, forceVideo bool) (int, error) {
	res, ok := o.resolve.For(src.Kind)
	if !ok {
		return 0, ErrUnsupportedSource
	}

	entry, err := res.Resolve(ctx, src, resolver.Metadata{RequestedBy: requester})
	if err != nil {
		reason, _ := resolver.ReasonOf(err)
		slog.Error("source resolution failed", "error", err, "destination", dest, "kind", src.Kind, "reason", reason)
		return 0, errors.Join(ErrDownloadFailed, err)
	}
	if forceVideo {
		entry.IsVideo = true
	}

	l := o.lockFor(dest)
	l.Lock()
	defer l.Unlock()

	pos := o.queue.Append(ctx, dest, entry)
	slog.Info("entry queued", "destination", dest, "title", entry.Title, "position", pos)
	o.send(ctx, notify.Event{Type: notify.EventQueued, Destination: dest, Title: entry.Title, Position: pos})

	if o.cfg.AutoPlay && !o.backend.IsPlaying(dest) {
		o.playNextLocked(ctx, dest)
	}
	return pos, nil
}

// PlayNext plays the current queue entry, skipping forward past missing files
// and backend rejections.
func (o *Orchestrator) PlayNext(ctx context.Context, dest int64) {
	l := o.lockFor(dest)
	l.Lock()
	defer l.Unlock()
	o.playNextLocked(ctx, dest)
}

// playNextLocked attempts playback starting at the cursor. The loop is
// bounded by the queue length so an entirely-missing queue terminates instead
// of recursing forever (repeat mode would otherwise wrap indefinitely).
func (o *Orchestrator) playNextLocked(ctx context.Context, dest int64) {
	bound := o.queue.Len(dest)
	for attempt := 0; attempt < bound; attempt++ {
		entry, ok := o.queue.Current(dest)
		if !ok {
			return
		}
		if !o.store.Exists(entry.AssetPath) {
			slog.Warn("queue entry asset missing on disk, skipping", "destination", dest, "title", entry.Title, "path", entry.AssetPath)
			if _, advanced := o.queue.Advance(ctx, dest); !advanced {
				return
			}
			continue
		}
		err := o.backend.Play(ctx, dest, entry.AssetPath, entry.IsVideo, o.cfg.StreamQuality)
		if err != nil {
			slog.Error("backend rejected entry, skipping", "error", err, "destination", dest, "title", entry.Title)
			o.send(ctx, notify.Event{Type: notify.EventFailed, Destination: dest, Title: entry.Title, Reason: err.Error()})
			if _, advanced := o.queue.Advance(ctx, dest); !advanced {
				return
			}
			continue
		}
		slog.Info("now playing", "destination", dest, "title", entry.Title, "duration_seconds", entry.DurationSeconds)
		o.send(ctx, notify.Event{Type: notify.EventStarted, Destination: dest, Title: entry.Title})
		o.armEndTimer(dest, entry)
		return
	}
	slog.Warn("no playable entry in queue", "destination", dest, "tried", bound)
}

// armEndTimer schedules the duration-based fallback advancement for the entry
// just started. A no-op when the backend delivers real end events or the
// duration is unknown.
func (o *Orchestrator) armEndTimer(dest int64, entry queue.Entry) {
	if o.endEvents || entry.DurationSeconds <= 0 {
		return
	}
	wait := time.Duration(entry.DurationSeconds)*time.Second + o.cfg.StreamEndGrace()
	o.mu.Lock()
	if t := o.endTimers[dest]; t != nil {
		t.Stop()
	}
	o.endTimers[dest] = time.AfterFunc(wait, func() {
		o.handleStreamEnd(context.Background(), dest)
	})
	o.mu.Unlock()
}

func (o *Orchestrator) disarmEndTimer(dest int64) {
	o.mu.Lock()
	if t := o.endTimers[dest]; t != nil {
		t.Stop()
		delete(o.endTimers, dest)
	}
	o.mu.Unlock()
}

// handleStreamEnd advances past the entry that just finished and plays the
// next one. With nothing left the session stays joined but idle.
func (o *Orchestrator) handleStreamEnd(ctx context.Context, dest int64) {
	l := o.lockFor(dest)
	l.Lock()
	defer l.Unlock()

	o.disarmEndTimer(dest)
	if entry, ok := o.queue.Current(dest); ok {
		o.send(ctx, notify.Event{Type: notify.EventFinished, Destination: dest, Title: entry.Title})
	}
	if _, ok := o.queue.Advance(ctx, dest); !ok {
		slog.Info("queue finished", "destination", dest)
		return
	}
	o.playNextLocked(ctx, dest)
}

// Skip advances the cursor manually and plays the next entry.
func (o *Orchestrator) Skip(ctx context.Context, dest int64) error {
	l := o.lockFor(dest)
	l.Lock()
	defer l.Unlock()

	o.disarmEndTimer(dest)
	if _, ok := o.queue.Advance(ctx, dest); !ok {
		return ErrQueueFinished
	}
	o.playNextLocked(ctx, dest)
	return nil
}

func (o *Orchestrator) Pause(ctx context.Context, dest int64) error {
	l := o.lockFor(dest)
	l.Lock()
	defer l.Unlock()
	if err := o.backend.Pause(ctx, dest); err != nil {
		return err
	}
	// A paused stream must not be advanced by the fallback timer.
	o.disarmEndTimer(dest)
	return nil
}

func (o *Orchestrator) Resume(ctx context.Context, dest int64) error {
	l := o.lockFor(dest)
	l.Lock()
	defer l.Unlock()
	if err := o.backend.Resume(ctx, dest); err != nil {
		return err
	}
	// The fallback timer restarts from zero; elapsed position is not tracked
	// without backend end events.
	if entry, ok := o.queue.Current(dest); ok {
		o.armEndTimer(dest, entry)
	}
	return nil
}

// Stop leaves the voice session and drops the destination's queue, releasing
// the queued assets. The queue is cleared even when the leave fails, so a
// broken backend call never wedges a destination.
func (o *Orchestrator) Stop(ctx context.Context, dest int64) error {
	l := o.lockFor(dest)
	l.Lock()
	defer l.Unlock()

	o.disarmEndTimer(dest)
	if err := o.backend.Stop(ctx, dest); err != nil {
		slog.Error("failed to leave voice session on stop, clearing queue anyway", "error", err, "destination", dest)
	}
	for _, entry := range o.queue.Items(dest) {
		o.store.Release(entry.AssetPath)
	}
	o.queue.Clear(ctx, dest)
	o.send(ctx, notify.Event{Type: notify.EventStopped, Destination: dest})
	return nil
}

func (o *Orchestrator) SetRepeat(ctx context.Context, dest int64, enabled bool) {
	l := o.lockFor(dest)
	l.Lock()
	defer l.Unlock()
	o.queue.SetRepeat(ctx, dest, enabled)
}

// Snapshot is a read-only view of a destination's queue for display.
type Snapshot struct {
	Items  []queue.Entry
	Cursor int
	Repeat bool
}

func (o *Orchestrator) Queue(dest int64) Snapshot {
	return Snapshot{
		Items:  o.queue.Items(dest),
		Cursor: o.queue.Cursor(dest),
		Repeat: o.queue.Repeat(dest),
	}
}

// Shutdown tears playback down and releases every tracked asset. Safe to call
// once at process exit; never blocks indefinitely because every backend call
// is timeout-bounded.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	for dest, t := range o.endTimers {
		t.Stop()
		delete(o.endTimers, dest)
	}
	o.mu.Unlock()

	o.backend.Shutdown(ctx)
	o.store.ReleaseAll()
}

func (o *Orchestrator) send(ctx context.Context, event notify.Event) {
	event.At = time.Now()
	if err := o.notifier.Send(ctx, event); err != nil {
		slog.Error("failed to send playback notification", "error", err, "type", event.Type, "destination", event.Destination)
	}
}
