package streamer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hazuki-lab/utawakun/internal/calls"
)

// baseClient is the minimal client generation: join and leave only.
type baseClient struct {
	mu          sync.Mutex
	connectErr  error
	joinErr     error
	leaveErr    error
	connects    int
	disconnects int
	joins       []int64
	leaves      []int64
}

func (c *baseClient) Connect(_ context.Context, _ calls.Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.connectErr
}

func (c *baseClient) Disconnect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *baseClient) JoinCall(_ context.Context, dest int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joinErr != nil {
		return c.joinErr
	}
	c.joins = append(c.joins, dest)
	return nil
}

func (c *baseClient) LeaveCall(_ context.Context, dest int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leaveErr != nil {
		return c.leaveErr
	}
	c.leaves = append(c.leaves, dest)
	return nil
}

// richClient is the full-featured generation. Each capability can be forced
// to report ErrUnsupported to exercise the fallback chain.
type richClient struct {
	baseClient
	paramsJoinErr error
	streamJoinErr error
	switchErr     error
	pauseErr      error

	paramsJoins []int64
	streamJoins []calls.StreamDescriptor
	switches    []calls.StreamDescriptor
	pauses      []int64
	resumes     []int64
	endHandler  func(int64)
}

func (c *richClient) JoinCallWithParams(_ context.Context, dest int64, _ string) error {
	if c.paramsJoinErr != nil {
		return c.paramsJoinErr
	}
	c.paramsJoins = append(c.paramsJoins, dest)
	return nil
}

func (c *richClient) JoinCallWithStream(_ context.Context, dest int64, stream calls.StreamDescriptor) error {
	if c.streamJoinErr != nil {
		return c.streamJoinErr
	}
	c.streamJoins = append(c.streamJoins, stream)
	return nil
}

func (c *richClient) ChangeStream(_ context.Context, dest int64, stream calls.StreamDescriptor) error {
	if c.switchErr != nil {
		return c.switchErr
	}
	c.switches = append(c.switches, stream)
	return nil
}

func (c *richClient) PauseStream(_ context.Context, dest int64) error {
	if c.pauseErr != nil {
		return c.pauseErr
	}
	c.pauses = append(c.pauses, dest)
	return nil
}

func (c *richClient) ResumeStream(_ context.Context, dest int64) error {
	c.resumes = append(c.resumes, dest)
	return nil
}

func (c *richClient) NotifyStreamEnd(fn func(destination int64)) {
	c.endHandler = fn
}

// slowConnectClient blocks Connect until released, so concurrent
// initialization can be observed mid-flight.
type slowConnectClient struct {
	baseClient
	started chan struct{}
	release chan struct{}
}

func (c *slowConnectClient) Connect(ctx context.Context, creds calls.Credentials) error {
	close(c.started)
	<-c.release
	return c.baseClient.Connect(ctx, creds)
}

func tempAsset(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "asset.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o600); err != nil {
		t.Fatalf("failed to write asset: %v", err)
	}
	return path
}

func initialized(t *testing.T, client calls.Client) *Streamer {
	t.Helper()
	s := New(client, time.Second)
	if err := s.Initialize(context.Background(), calls.Credentials{APIID: 1, APIHash: "h", SessionString: "s"}); err != nil {
		t.Fatalf("expected initialize to succeed, got %v", err)
	}
	return s
}

func TestInitialize_FailureTearsDown(t *testing.T) {
	client := &baseClient{connectErr: errors.New("dial failed")}
	s := New(client, time.Second)
	if err := s.Initialize(context.Background(), calls.Credentials{}); err == nil {
		t.Fatal("expected initialize to fail")
	}
	if client.disconnects != 1 {
		t.Fatalf("expected teardown disconnect, got %d", client.disconnects)
	}
	if err := s.Join(context.Background(), 1); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized after failed init, got %v", err)
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	client := &baseClient{}
	s := initialized(t, client)
	if err := s.Initialize(context.Background(), calls.Credentials{}); err != nil {
		t.Fatalf("expected repeat initialize to be a no-op, got %v", err)
	}
	if client.connects != 1 {
		t.Fatalf("expected a single connect, got %d", client.connects)
	}
}

func TestInitialize_RejectsConcurrentAttempt(t *testing.T) {
	client := &slowConnectClient{started: make(chan struct{}), release: make(chan struct{})}
	s := New(client, time.Second)

	done := make(chan error, 1)
	go func() {
		done <- s.Initialize(context.Background(), calls.Credentials{})
	}()
	<-client.started

	if err := s.Initialize(context.Background(), calls.Credentials{}); !errors.Is(err, ErrInitializing) {
		t.Fatalf("expected ErrInitializing while a connect is in flight, got %v", err)
	}

	close(client.release)
	if err := <-done; err != nil {
		t.Fatalf("expected first initialize to succeed, got %v", err)
	}
	if err := s.Initialize(context.Background(), calls.Credentials{}); err != nil {
		t.Fatalf("expected repeat initialize to be a no-op, got %v", err)
	}
	if client.connects != 1 {
		t.Fatalf("expected a single connect, got %d", client.connects)
	}
}

func TestJoin_AlreadyJoinedIsNoop(t *testing.T) {
	client := &baseClient{}
	s := initialized(t, client)
	if err := s.Join(context.Background(), 5); err != nil {
		t.Fatalf("expected join to succeed, got %v", err)
	}
	if err := s.Join(context.Background(), 5); err != nil {
		t.Fatalf("expected repeat join to be a no-op, got %v", err)
	}
	if len(client.joins) != 1 {
		t.Fatalf("expected a single join call, got %d", len(client.joins))
	}
	if !s.IsJoined(5) {
		t.Fatal("expected joined state")
	}
}

func TestJoin_RichClientUsesParamsJoin(t *testing.T) {
	client := &richClient{}
	s := initialized(t, client)
	if err := s.Join(context.Background(), 5); err != nil {
		t.Fatalf("expected join to succeed, got %v", err)
	}
	if len(client.paramsJoins) != 1 {
		t.Fatalf("expected rich join, got %d", len(client.paramsJoins))
	}
	if len(client.joins) != 0 {
		t.Fatalf("expected no minimal join, got %d", len(client.joins))
	}
}

func TestJoin_FallsBackOnlyOnUnsupported(t *testing.T) {
	client := &richClient{paramsJoinErr: calls.ErrUnsupported}
	s := initialized(t, client)
	if err := s.Join(context.Background(), 5); err != nil {
		t.Fatalf("expected fallback join to succeed, got %v", err)
	}
	if len(client.joins) != 1 {
		t.Fatalf("expected minimal join fallback, got %d", len(client.joins))
	}

	// A real failure must surface, not fall back.
	failing := &richClient{paramsJoinErr: errors.New("call is full")}
	s2 := initialized(t, failing)
	if err := s2.Join(context.Background(), 5); err == nil {
		t.Fatal("expected join failure to surface")
	}
	if len(failing.joins) != 0 {
		t.Fatalf("expected no fallback on a real failure, got %d", len(failing.joins))
	}
}

func TestPlay_MissingFile(t *testing.T) {
	s := initialized(t, &richClient{})
	err := s.Play(context.Background(), 5, "/nonexistent/file.mp3", false, "medium")
	if !errors.Is(err, ErrMissingFile) {
		t.Fatalf("expected ErrMissingFile, got %v", err)
	}
}

func TestPlay_JoinsWithStreamWhenIdle(t *testing.T) {
	client := &richClient{}
	s := initialized(t, client)
	asset := tempAsset(t)

	if err := s.Play(context.Background(), 5, asset, false, "high"); err != nil {
		t.Fatalf("expected play to succeed, got %v", err)
	}
	if len(client.streamJoins) != 1 {
		t.Fatalf("expected one join-with-stream, got %d", len(client.streamJoins))
	}
	if client.streamJoins[0].Quality != "high" {
		t.Fatalf("unexpected quality %q", client.streamJoins[0].Quality)
	}
	if !s.IsPlaying(5) {
		t.Fatal("expected playing state")
	}
	if got, ok := s.CurrentStream(5); !ok || got != asset {
		t.Fatalf("expected current stream %q, got %q ok=%v", asset, got, ok)
	}
}

func TestPlay_SwitchesStreamWhenActive(t *testing.T) {
	client := &richClient{}
	s := initialized(t, client)
	first := tempAsset(t)
	second := tempAsset(t)

	if err := s.Play(context.Background(), 5, first, false, "medium"); err != nil {
		t.Fatalf("expected first play to succeed, got %v", err)
	}
	if err := s.Play(context.Background(), 5, second, true, "medium"); err != nil {
		t.Fatalf("expected second play to succeed, got %v", err)
	}
	if len(client.streamJoins) != 1 {
		t.Fatalf("expected a single join-with-stream, got %d", len(client.streamJoins))
	}
	if len(client.switches) != 1 {
		t.Fatalf("expected one stream switch, got %d", len(client.switches))
	}
	if client.switches[0].Path != second || !client.switches[0].Video {
		t.Fatalf("unexpected switch descriptor %+v", client.switches[0])
	}
}

func TestPlay_StreamJoinFallsBackToJoinThenSwitch(t *testing.T) {
	client := &richClient{streamJoinErr: calls.ErrUnsupported}
	s := initialized(t, client)
	asset := tempAsset(t)

	if err := s.Play(context.Background(), 5, asset, false, "medium"); err != nil {
		t.Fatalf("expected fallback play to succeed, got %v", err)
	}
	if len(client.paramsJoins) != 1 {
		t.Fatalf("expected fallback join, got %d", len(client.paramsJoins))
	}
	if len(client.switches) != 1 {
		t.Fatalf("expected switch after fallback join, got %d", len(client.switches))
	}
}

func TestPlay_BaseClientCannotStream(t *testing.T) {
	s := initialized(t, &baseClient{})
	err := s.Play(context.Background(), 5, tempAsset(t), false, "medium")
	if !errors.Is(err, ErrFeatureUnsupported) {
		t.Fatalf("expected ErrFeatureUnsupported, got %v", err)
	}
}

func TestPlay_FallbackSwitchFailureLeavesJoinedIdle(t *testing.T) {
	// The fallback join succeeds against the real call before the stream
	// switch fails. The session must record that join, or the live call
	// dangles with no way to leave it.
	client := &baseClient{}
	s := initialized(t, client)

	err := s.Play(context.Background(), 5, tempAsset(t), false, "medium")
	if !errors.Is(err, ErrFeatureUnsupported) {
		t.Fatalf("expected ErrFeatureUnsupported, got %v", err)
	}
	if len(client.joins) != 1 {
		t.Fatalf("expected one underlying join, got %d", len(client.joins))
	}
	if !s.IsJoined(5) {
		t.Fatal("expected joined-idle state after failed stream attach")
	}
	if s.IsPlaying(5) {
		t.Fatal("expected no active stream")
	}
	if _, ok := s.CurrentStream(5); ok {
		t.Fatal("expected no current stream")
	}

	if err := s.Leave(context.Background(), 5); err != nil {
		t.Fatalf("expected leave to succeed, got %v", err)
	}
	if len(client.leaves) != 1 {
		t.Fatalf("expected the underlying call to be left, got %d", len(client.leaves))
	}

	// A retry must not join the underlying call a second time.
	if err := s.Play(context.Background(), 5, tempAsset(t), false, "medium"); !errors.Is(err, ErrFeatureUnsupported) {
		t.Fatalf("expected ErrFeatureUnsupported, got %v", err)
	}
	if err := s.Play(context.Background(), 5, tempAsset(t), false, "medium"); !errors.Is(err, ErrFeatureUnsupported) {
		t.Fatalf("expected ErrFeatureUnsupported, got %v", err)
	}
	if len(client.joins) != 2 {
		t.Fatalf("expected one join per joined session, got %d", len(client.joins))
	}
}

func TestPlay_SwitchUnsupportedAfterRichFallback(t *testing.T) {
	client := &richClient{streamJoinErr: calls.ErrUnsupported, switchErr: calls.ErrUnsupported}
	s := initialized(t, client)

	err := s.Play(context.Background(), 5, tempAsset(t), false, "medium")
	if !errors.Is(err, ErrFeatureUnsupported) {
		t.Fatalf("expected ErrFeatureUnsupported, got %v", err)
	}
	if !s.IsJoined(5) {
		t.Fatal("expected joined-idle state after failed stream attach")
	}
}

func TestPauseResume_Legality(t *testing.T) {
	client := &richClient{}
	s := initialized(t, client)
	asset := tempAsset(t)

	if err := s.Pause(context.Background(), 5); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("expected ErrNotPlaying before any stream, got %v", err)
	}
	if err := s.Resume(context.Background(), 5); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("expected ErrNotPaused before any pause, got %v", err)
	}

	if err := s.Play(context.Background(), 5, asset, false, "medium"); err != nil {
		t.Fatalf("expected play to succeed, got %v", err)
	}
	if err := s.Pause(context.Background(), 5); err != nil {
		t.Fatalf("expected pause to succeed, got %v", err)
	}
	if !s.IsPaused(5) || s.IsPlaying(5) {
		t.Fatal("expected paused state")
	}
	if err := s.Pause(context.Background(), 5); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("expected double pause to fail, got %v", err)
	}
	if err := s.Resume(context.Background(), 5); err != nil {
		t.Fatalf("expected resume to succeed, got %v", err)
	}
	if !s.IsPlaying(5) {
		t.Fatal("expected playing state after resume")
	}
}

func TestPause_BaseClientUnsupported(t *testing.T) {
	// A base client cannot have started a stream, so pause legality fails
	// before the capability check. Pausing is meaningful only above the
	// stream-capable generations.
	s := initialized(t, &baseClient{})
	if err := s.Pause(context.Background(), 5); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("expected ErrNotPlaying, got %v", err)
	}
}

func TestLeave_ToleratesNotInCall(t *testing.T) {
	client := &baseClient{}
	s := initialized(t, client)
	if err := s.Join(context.Background(), 5); err != nil {
		t.Fatalf("expected join to succeed, got %v", err)
	}
	client.leaveErr = calls.ErrNotInCall
	if err := s.Leave(context.Background(), 5); err != nil {
		t.Fatalf("expected not-in-call to be tolerated, got %v", err)
	}
	if s.IsJoined(5) {
		t.Fatal("expected session to be dropped")
	}
}

func TestLeave_NotJoinedIsNoop(t *testing.T) {
	client := &baseClient{}
	s := initialized(t, client)
	if err := s.Leave(context.Background(), 5); err != nil {
		t.Fatalf("expected no-op leave, got %v", err)
	}
	if len(client.leaves) != 0 {
		t.Fatalf("expected no leave call, got %d", len(client.leaves))
	}
}

func TestOnStreamEnd_Capability(t *testing.T) {
	base := initialized(t, &baseClient{})
	if base.OnStreamEnd(func(int64) {}) {
		t.Fatal("expected base client to report no end events")
	}

	client := &richClient{}
	rich := initialized(t, client)
	var got int64
	if !rich.OnStreamEnd(func(dest int64) { got = dest }) {
		t.Fatal("expected rich client to deliver end events")
	}

	asset := tempAsset(t)
	if err := rich.Play(context.Background(), 9, asset, false, "medium"); err != nil {
		t.Fatalf("expected play to succeed, got %v", err)
	}
	client.endHandler(9)
	if got != 9 {
		t.Fatalf("expected end event for destination 9, got %d", got)
	}
	// The session survives the end event, but the stream is gone.
	if !rich.IsJoined(9) {
		t.Fatal("expected session to stay joined after stream end")
	}
	if _, ok := rich.CurrentStream(9); ok {
		t.Fatal("expected no current stream after stream end")
	}
}

func TestShutdown_LeavesEverythingAndResets(t *testing.T) {
	client := &richClient{}
	s := initialized(t, client)
	if err := s.Join(context.Background(), 1); err != nil {
		t.Fatalf("expected join to succeed, got %v", err)
	}
	if err := s.Join(context.Background(), 2); err != nil {
		t.Fatalf("expected join to succeed, got %v", err)
	}

	s.Shutdown(context.Background())

	if len(client.leaves) != 2 {
		t.Fatalf("expected both destinations left, got %d", len(client.leaves))
	}
	if client.disconnects != 1 {
		t.Fatalf("expected disconnect, got %d", client.disconnects)
	}
	if err := s.Join(context.Background(), 1); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized after shutdown, got %v", err)
	}
}

func TestCapabilities_Probe(t *testing.T) {
	base := calls.ProbeCapabilities(&baseClient{})
	if base.ParamsJoin || base.StreamJoin || base.StreamSwitch || base.PauseResume || base.EndEvents {
		t.Fatalf("expected bare capabilities for base client, got %+v", base)
	}
	rich := calls.ProbeCapabilities(&richClient{})
	if !rich.ParamsJoin || !rich.StreamJoin || !rich.StreamSwitch || !rich.PauseResume || !rich.EndEvents {
		t.Fatalf("expected full capabilities for rich client, got %+v", rich)
	}
}
