package resolver

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/hazuki-lab/utawakun/internal/queue"
	"github.com/hazuki-lab/utawakun/internal/resolver"
)

type mockFetcher struct {
	err     error
	fetched []string
	content string
}

func (m *mockFetcher) FetchMedia(_ context.Context, _ resolver.AttachmentRef, destPath string) error {
	if m.err != nil {
		return m.err
	}
	m.fetched = append(m.fetched, destPath)
	return os.WriteFile(destPath, []byte(m.content), 0o600)
}

func audioRef() *resolver.AttachmentRef {
	return &resolver.AttachmentRef{
		ID:              100,
		AccessHash:      200,
		Kind:            resolver.AttachmentAudio,
		MIMEType:        "audio/mpeg",
		Size:            1024,
		DurationSeconds: 180,
		Title:           "Song",
		Performer:       "Artist",
		FileName:        "song.mp3",
	}
}

func TestAttachment_Resolve_Success(t *testing.T) {
	store := newMockStore(t)
	fetcher := &mockFetcher{content: "payload"}
	r := NewAttachmentResolver(testConfig(), store, fetcher)

	entry, err := r.Resolve(context.Background(), resolver.Source{
		Kind:       queue.SourceAttachment,
		Attachment: audioRef(),
	}, resolver.Metadata{RequestedBy: 3})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if entry.SourceKind != queue.SourceAttachment {
		t.Fatalf("unexpected source kind %q", entry.SourceKind)
	}
	if entry.DurationSeconds != 180 {
		t.Fatalf("expected duration carried over, got %d", entry.DurationSeconds)
	}
	if entry.IsVideo {
		t.Fatal("expected audio entry")
	}
	if len(fetcher.fetched) != 1 || fetcher.fetched[0] != entry.AssetPath {
		t.Fatalf("expected fetch into allocated path, got %v", fetcher.fetched)
	}
}

func TestAttachment_TitlePrecedence(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*resolver.AttachmentRef)
		want   string
	}{
		{"audio with performer", func(*resolver.AttachmentRef) {}, "Artist – Song"},
		{"title only", func(r *resolver.AttachmentRef) { r.Performer = "" }, "Song"},
		{"filename fallback", func(r *resolver.AttachmentRef) { r.Title = ""; r.Performer = "" }, "song.mp3"},
		{"bare audio", func(r *resolver.AttachmentRef) { r.Title = ""; r.Performer = ""; r.FileName = "" }, "Audio"},
	}
	for _, tc := range cases {
		ref := audioRef()
		tc.mutate(ref)
		r := NewAttachmentResolver(testConfig(), newMockStore(t), &mockFetcher{})
		entry, err := r.Resolve(context.Background(), resolver.Source{
			Kind:       queue.SourceAttachment,
			Attachment: ref,
		}, resolver.Metadata{})
		if err != nil {
			t.Fatalf("%s: expected success, got %v", tc.name, err)
		}
		if entry.Title != tc.want {
			t.Fatalf("%s: expected title %q, got %q", tc.name, tc.want, entry.Title)
		}
	}
}

func TestAttachment_VideoFallbackTitle(t *testing.T) {
	ref := &resolver.AttachmentRef{
		Kind:     resolver.AttachmentVideo,
		MIMEType: "video/mp4",
		Size:     10,
	}
	r := NewAttachmentResolver(testConfig(), newMockStore(t), &mockFetcher{})
	entry, err := r.Resolve(context.Background(), resolver.Source{
		Kind:       queue.SourceAttachment,
		Attachment: ref,
	}, resolver.Metadata{})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if entry.Title != "Video" {
		t.Fatalf("expected fallback title, got %q", entry.Title)
	}
	if !entry.IsVideo {
		t.Fatal("expected video entry")
	}
	if !strings.HasSuffix(entry.AssetPath, ".mp4") {
		t.Fatalf("expected .mp4 asset, got %q", entry.AssetPath)
	}
}

func TestAttachment_DeclaredSizeExceeded(t *testing.T) {
	ref := audioRef()
	ref.Size = 2 * 1024 * 1024 // cap in testConfig is 1 MiB

	store := newMockStore(t)
	fetcher := &mockFetcher{}
	r := NewAttachmentResolver(testConfig(), store, fetcher)
	_, err := r.Resolve(context.Background(), resolver.Source{
		Kind:       queue.SourceAttachment,
		Attachment: ref,
	}, resolver.Metadata{})
	if err == nil {
		t.Fatal("expected size failure")
	}
	reason, ok := resolver.ReasonOf(err)
	if !ok || reason != resolver.ReasonSizeExceeded {
		t.Fatalf("expected size-exceeded reason, got %v (classified=%v)", reason, ok)
	}
	if len(fetcher.fetched) != 0 {
		t.Fatal("expected no fetch for oversize attachment")
	}
	if len(store.allocated) != 0 {
		t.Fatal("expected no allocation for oversize attachment")
	}
}

func TestAttachment_MissingReference(t *testing.T) {
	r := NewAttachmentResolver(testConfig(), newMockStore(t), &mockFetcher{})
	_, err := r.Resolve(context.Background(), resolver.Source{Kind: queue.SourceAttachment}, resolver.Metadata{})
	if err == nil {
		t.Fatal("expected failure for missing attachment reference")
	}
	reason, ok := resolver.ReasonOf(err)
	if !ok || reason != resolver.ReasonUnsupportedKind {
		t.Fatalf("expected unsupported-kind reason, got %v (classified=%v)", reason, ok)
	}
}

func TestAttachment_UndetectableDocument(t *testing.T) {
	ref := &resolver.AttachmentRef{
		Kind:     resolver.AttachmentDocument,
		MIMEType: "application/pdf",
		Size:     10,
	}
	r := NewAttachmentResolver(testConfig(), newMockStore(t), &mockFetcher{})
	_, err := r.Resolve(context.Background(), resolver.Source{
		Kind:       queue.SourceAttachment,
		Attachment: ref,
	}, resolver.Metadata{})
	if err == nil {
		t.Fatal("expected failure for undetectable media kind")
	}
	reason, ok := resolver.ReasonOf(err)
	if !ok || reason != resolver.ReasonUnsupportedKind {
		t.Fatalf("expected unsupported-kind reason, got %v (classified=%v)", reason, ok)
	}
}

func TestAttachment_FetchFailureReleasesAsset(t *testing.T) {
	store := newMockStore(t)
	fetcher := &mockFetcher{err: errors.New("connection reset")}
	r := NewAttachmentResolver(testConfig(), store, fetcher)
	_, err := r.Resolve(context.Background(), resolver.Source{
		Kind:       queue.SourceAttachment,
		Attachment: audioRef(),
	}, resolver.Metadata{})
	if err == nil {
		t.Fatal("expected fetch failure")
	}
	reason, ok := resolver.ReasonOf(err)
	if !ok || reason != resolver.ReasonNetwork {
		t.Fatalf("expected network reason, got %v (classified=%v)", reason, ok)
	}
	if len(store.released) != 1 {
		t.Fatalf("expected allocated asset to be released, got %v", store.released)
	}
}

func TestAttachment_DocumentClassification(t *testing.T) {
	cases := []struct {
		mime      string
		suffix    string
		wantVideo bool
	}{
		{"audio/ogg", ".ogg", false},
		{"audio/flac", ".mp3", false},
		{"video/mp4", ".mp4", true},
		{"video/webm", ".mkv", true},
	}
	for _, tc := range cases {
		ref := &resolver.AttachmentRef{Kind: resolver.AttachmentDocument, MIMEType: tc.mime, Size: 10}
		suffix, isVideo, ok := classifyAttachment(ref)
		if !ok {
			t.Fatalf("%s: expected classification", tc.mime)
		}
		if suffix != tc.suffix || isVideo != tc.wantVideo {
			t.Fatalf("%s: got (%q, %v), want (%q, %v)", tc.mime, suffix, isVideo, tc.suffix, tc.wantVideo)
		}
	}
}
