package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazuki-lab/utawakun/internal/queue"
)

// FailureReason classifies why a source could not be resolved. The caller maps
// every reason to one user-visible "download failed" outcome; the reason is for
// logs and tests.
type FailureReason string

const (
	ReasonNetwork          FailureReason = "network"
	ReasonSizeExceeded     FailureReason = "size-exceeded"
	ReasonDurationExceeded FailureReason = "duration-exceeded"
	ReasonUnsupportedKind  FailureReason = "unsupported-kind"
	ReasonToolUnavailable  FailureReason = "tool-unavailable"
)

// Failure is a resolution failure value. Resolvers never let the underlying
// cause escape unclassified.
type Failure struct {
	Reason FailureReason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("resolution failed: %s", f.Reason)
	}
	return fmt.Sprintf("resolution failed: %s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func NewFailure(reason FailureReason, err error) *Failure {
	return &Failure{Reason: reason, Err: err}
}

// ReasonOf extracts the failure reason, or false if err is not a resolution
// failure.
func ReasonOf(err error) (FailureReason, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason, true
	}
	return "", false
}

// AttachmentKind is the coarse media class declared by an in-app attachment.
type AttachmentKind string

const (
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentDocument AttachmentKind = "document"
)

// AttachmentRef describes an in-app media attachment by reference, with the
// structured attributes the host messaging layer declares for it.
type AttachmentRef struct {
	ID              int64
	AccessHash      int64
	FileReference   []byte
	Kind            AttachmentKind
	MIMEType        string
	Size            int64
	DurationSeconds int
	Title           string
	FileName        string
	Performer       string
}

// Source is a raw media reference handed to the orchestrator.
type Source struct {
	Kind       queue.SourceKind
	URL        string
	Attachment *AttachmentRef
}

// Metadata carries request-scoped context into a resolver.
type Metadata struct {
	RequestedBy int64
	Title       string
}

// Resolver turns an external reference into a materialized local media asset
// plus metadata. Failures are values of type *Failure; the temp asset
// allocated so far is always released before returning one.
type Resolver interface {
	Resolve(ctx context.Context, src Source, meta Metadata) (queue.Entry, error)
}

// MediaFetcher is the host messaging layer's media-download capability,
// consumed by the attachment resolver.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, ref AttachmentRef, destPath string) error
}

// Set is the closed set of resolvers, one per source kind. The kind set is
// fixed and small, so there is no open registration point.
type Set struct {
	RemotePlatform Resolver
	DirectURL      Resolver
	Attachment     Resolver
}

// For picks the resolver matching the source kind.
func (s Set) For(kind queue.SourceKind) (Resolver, bool) {
	switch kind {
	case queue.SourceRemotePlatform:
		return s.RemotePlatform, s.RemotePlatform != nil
	case queue.SourceDirectURL:
		return s.DirectURL, s.DirectURL != nil
	case queue.SourceAttachment:
		return s.Attachment, s.Attachment != nil
	default:
		return nil, false
	}
}
