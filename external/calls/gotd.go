package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/hazuki-lab/utawakun/internal/calls"
	"github.com/hazuki-lab/utawakun/internal/resolver"
)

// GotdClient is the base-generation call-control client on gotd/td. It covers
// connecting with a stored session, joining and leaving group calls through
// the raw phone.* API, and attachment downloads. Stream-level operations
// (attach, switch, pause) need a media pipeline the library does not ship, so
// this generation reports them unsupported and the streaming layer degrades
// accordingly.
type GotdClient struct {
	mu       sync.Mutex
	client   *telegram.Client
	api      *tg.Client
	cancel   context.CancelFunc
	done     chan struct{}
	runErr   error
	channels map[int64]int64
}

func NewGotdClient() *GotdClient {
	return &GotdClient{channels: make(map[int64]int64)}
}

var _ calls.Client = (*GotdClient)(nil)
var _ resolver.MediaFetcher = (*GotdClient)(nil)

// Connect starts the MTProto client with the stored session and verifies the
// session is authorized. It returns once the connection is usable; the client
// keeps running in the background until Disconnect.
func (c *GotdClient) Connect(ctx context.Context, creds calls.Credentials) error {
	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	storage, err := newSessionStorage(creds.SessionString)
	if err != nil {
		return err
	}
	client := telegram.NewClient(creds.APIID, creds.APIHash, telegram.Options{
		SessionStorage: storage,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		err := client.Run(runCtx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				ready <- fmt.Errorf("auth status check failed: %w", err)
				return err
			}
			if !status.Authorized {
				err := errors.New("stored session is not authorized")
				ready <- err
				return err
			}
			ready <- nil
			<-ctx.Done()
			return ctx.Err()
		})
		c.mu.Lock()
		c.runErr = err
		c.mu.Unlock()
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			<-done
			return err
		}
	case <-done:
		cancel()
		c.mu.Lock()
		err := c.runErr
		c.mu.Unlock()
		return fmt.Errorf("client stopped before becoming ready: %w", err)
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}

	c.mu.Lock()
	c.client = client
	c.api = client.API()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()
	slog.Info("call client connected")
	return nil
}

func (c *GotdClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.client = nil
	c.api = nil
	c.cancel = nil
	c.done = nil
	c.channels = make(map[int64]int64)
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return errors.New("call client did not stop in time")
	}
	return nil
}

func (c *GotdClient) apiClient() (*tg.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api == nil {
		return nil, errors.New("call client is not connected")
	}
	return c.api, nil
}

// accessHash resolves and caches the channel access hash for a destination.
func (c *GotdClient) accessHash(ctx context.Context, api *tg.Client, dest int64) (int64, error) {
	c.mu.Lock()
	hash, ok := c.channels[dest]
	c.mu.Unlock()
	if ok {
		return hash, nil
	}

	res, err := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: dest},
	})
	if err != nil {
		return 0, fmt.Errorf("channel lookup failed for %d: %w", dest, err)
	}
	var chats []tg.ChatClass
	switch v := res.(type) {
	case *tg.MessagesChats:
		chats = v.Chats
	case *tg.MessagesChatsSlice:
		chats = v.Chats
	}
	for _, chat := range chats {
		channel, ok := chat.(*tg.Channel)
		if !ok || channel.ID != dest {
			continue
		}
		c.mu.Lock()
		c.channels[dest] = channel.AccessHash
		c.mu.Unlock()
		return channel.AccessHash, nil
	}
	return 0, fmt.Errorf("destination %d is not a reachable channel", dest)
}

// groupCall resolves the live group call of a destination channel.
func (c *GotdClient) groupCall(ctx context.Context, api *tg.Client, dest int64) (tg.InputGroupCall, error) {
	hash, err := c.accessHash(ctx, api, dest)
	if err != nil {
		return tg.InputGroupCall{}, err
	}
	full, err := api.ChannelsGetFullChannel(ctx, &tg.InputChannel{ChannelID: dest, AccessHash: hash})
	if err != nil {
		return tg.InputGroupCall{}, fmt.Errorf("full channel lookup failed for %d: %w", dest, err)
	}
	channelFull, ok := full.FullChat.(*tg.ChannelFull)
	if !ok {
		return tg.InputGroupCall{}, fmt.Errorf("destination %d is not a channel", dest)
	}
	call, ok := channelFull.GetCall()
	if !ok {
		return tg.InputGroupCall{}, fmt.Errorf("destination %d has no active voice session", dest)
	}
	return call, nil
}

func (c *GotdClient) JoinCall(ctx context.Context, dest int64) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	call, err := c.groupCall(ctx, api, dest)
	if err != nil {
		return err
	}
	_, err = api.PhoneJoinGroupCall(ctx, &tg.PhoneJoinGroupCallRequest{
		Call:   call,
		JoinAs: &tg.InputPeerSelf{},
		Muted:  true,
		Params: tg.DataJSON{Data: "{}"},
	})
	if err != nil {
		return fmt.Errorf("join group call failed for %d: %w", dest, err)
	}
	return nil
}

func (c *GotdClient) LeaveCall(ctx context.Context, dest int64) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	call, err := c.groupCall(ctx, api, dest)
	if err != nil {
		return err
	}
	_, err = api.PhoneLeaveGroupCall(ctx, &tg.PhoneLeaveGroupCallRequest{
		Call:   call,
		Source: 0,
	})
	if tgerr.Is(err, "GROUPCALL_ALREADY_DISCARDED", "GROUPCALL_INVALID") {
		return calls.ErrNotInCall
	}
	if err != nil {
		return fmt.Errorf("leave group call failed for %d: %w", dest, err)
	}
	return nil
}

// FetchMedia downloads a message attachment to a local path.
func (c *GotdClient) FetchMedia(ctx context.Context, ref resolver.AttachmentRef, destPath string) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	location := &tg.InputDocumentFileLocation{
		ID:            ref.ID,
		AccessHash:    ref.AccessHash,
		FileReference: ref.FileReference,
	}
	if _, err := downloader.NewDownloader().Download(api, location).ToPath(ctx, destPath); err != nil {
		return fmt.Errorf("attachment download failed: %w", err)
	}
	return nil
}
