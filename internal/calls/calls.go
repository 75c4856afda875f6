package calls

import (
	"context"
	"errors"

	"github.com/hazuki-lab/utawakun/internal/repository"
)

// The call-control library's contract is unstable across versions, so the
// surface is split into a base client plus optional capability interfaces.
// Callers attempt the richest shape first and fall back only when the client
// reports ErrUnsupported; any other error surfaces unchanged.

// ErrUnsupported is returned by a client for operations its generation of the
// underlying library does not provide. It is the only error class that may
// trigger a fallback.
var ErrUnsupported = errors.New("operation not supported by call client")

// ErrNotInCall is returned when leaving a call the client is not in. Leave
// treats it as success.
var ErrNotInCall = errors.New("not in call")

// Credentials is the session credential record used to establish the
// call-control connection.
type Credentials = repository.Credentials

// StreamDescriptor describes how to pipe a local asset into a live call.
type StreamDescriptor struct {
	Path    string
	Video   bool
	Quality string
}

// Client is the minimal call-control surface every generation provides.
type Client interface {
	Connect(ctx context.Context, creds Credentials) error
	Disconnect(ctx context.Context) error
	JoinCall(ctx context.Context, destination int64) error
	LeaveCall(ctx context.Context, destination int64) error
}

// ParamsJoiner is the capability-rich join shape of newer library generations.
type ParamsJoiner interface {
	JoinCallWithParams(ctx context.Context, destination int64, quality string) error
}

// StreamJoiner joins a call with a stream attached in one step.
type StreamJoiner interface {
	JoinCallWithStream(ctx context.Context, destination int64, stream StreamDescriptor) error
}

// StreamSwitcher switches the active stream in place, without leave/rejoin.
type StreamSwitcher interface {
	ChangeStream(ctx context.Context, destination int64, stream StreamDescriptor) error
}

// PauseResumer pauses and resumes the active stream.
type PauseResumer interface {
	PauseStream(ctx context.Context, destination int64) error
	ResumeStream(ctx context.Context, destination int64) error
}

// EndNotifier delivers end-of-stream events. At most one handler is
// registered, before any stream starts.
type EndNotifier interface {
	NotifyStreamEnd(fn func(destination int64))
}

// Capabilities is an immutable descriptor of what the connected client
// generation can do, probed once at startup and passed into construction.
type Capabilities struct {
	ParamsJoin   bool
	StreamJoin   bool
	StreamSwitch bool
	PauseResume  bool
	EndEvents    bool
}

// ProbeCapabilities inspects the client once. Components consult the
// descriptor instead of re-asserting at call time.
func ProbeCapabilities(c Client) Capabilities {
	var caps Capabilities
	_, caps.ParamsJoin = c.(ParamsJoiner)
	_, caps.StreamJoin = c.(StreamJoiner)
	_, caps.StreamSwitch = c.(StreamSwitcher)
	_, caps.PauseResume = c.(PauseResumer)
	_, caps.EndEvents = c.(EndNotifier)
	return caps
}
