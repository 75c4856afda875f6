package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"github.com/hazuki-lab/utawakun/internal/setup"
)

// gotdAuthorizer backs one setup conversation with a short-lived MTProto
// client of its own. The session it accumulates is exported as the base64
// string the durable credential record carries.
type gotdAuthorizer struct {
	client  *telegram.Client
	storage *sessionStorage
	cancel  context.CancelFunc
	done    chan struct{}

	mu       sync.Mutex
	phone    string
	codeHash string
}

// NewAuthorizer is the setup.AuthorizerFactory backed by gotd/td.
func NewAuthorizer(ctx context.Context, apiID int, apiHash string) (setup.Authorizer, error) {
	storage, err := newSessionStorage("")
	if err != nil {
		return nil, err
	}
	client := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: storage,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Run(runCtx, func(ctx context.Context) error {
			ready <- nil
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
	case <-done:
		cancel()
		return nil, errors.New("authorizer client stopped before becoming ready")
	case <-ctx.Done():
		cancel()
		<-done
		return nil, ctx.Err()
	}

	return &gotdAuthorizer{
		client:  client,
		storage: storage,
		cancel:  cancel,
		done:    done,
	}, nil
}

func (a *gotdAuthorizer) SendCode(ctx context.Context, phone string) error {
	sent, err := a.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return fmt.Errorf("send code failed: %w", err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return fmt.Errorf("unexpected send code response %T", sent)
	}
	a.mu.Lock()
	a.phone = phone
	a.codeHash = code.PhoneCodeHash
	a.mu.Unlock()
	return nil
}

func (a *gotdAuthorizer) SignIn(ctx context.Context, code string) error {
	a.mu.Lock()
	phone, codeHash := a.phone, a.codeHash
	a.mu.Unlock()
	_, err := a.client.Auth().SignIn(ctx, phone, code, codeHash)
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return setup.ErrPasswordNeeded
	}
	if err != nil {
		return fmt.Errorf("sign in failed: %w", err)
	}
	return nil
}

func (a *gotdAuthorizer) CheckPassword(ctx context.Context, password string) error {
	if _, err := a.client.Auth().Password(ctx, password); err != nil {
		return fmt.Errorf("password check failed: %w", err)
	}
	return nil
}

func (a *gotdAuthorizer) SessionString(_ context.Context) (string, error) {
	return a.storage.Export()
}

func (a *gotdAuthorizer) Close(ctx context.Context) error {
	a.cancel()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return errors.New("authorizer client did not stop in time")
	}
}
