package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hazuki-lab/utawakun/internal/repository"
)

// Step is a state of the credential-setup conversation. The machine walks
// api_id → api_hash → phone → code → twofactor → done, one requester at a
// time.
type Step string

const (
	StepAPIID     Step = "api_id"
	StepAPIHash   Step = "api_hash"
	StepPhone     Step = "phone"
	StepCode      Step = "code"
	StepTwoFactor Step = "twofactor"
	StepDone      Step = "done"
)

// ErrPasswordNeeded is reported by SignIn when the account has two-factor
// auth enabled.
var ErrPasswordNeeded = errors.New("two-factor password needed")

// ErrNoSession is returned for input from a requester with no active setup
// conversation.
var ErrNoSession = errors.New("no setup session")

// ErrInvalidInput marks input the current step rejects. The conversation stays
// on the same step so the requester can retry.
var ErrInvalidInput = errors.New("invalid input")

// Authorizer is the ephemeral sign-in surface backing one setup conversation.
type Authorizer interface {
	SendCode(ctx context.Context, phone string) error
	SignIn(ctx context.Context, code string) error
	CheckPassword(ctx context.Context, password string) error
	SessionString(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// AuthorizerFactory builds an Authorizer once api credentials are collected.
type AuthorizerFactory func(ctx context.Context, apiID int, apiHash string) (Authorizer, error)

// conversation state is guarded by its own mutex so an in-flight advance (a
// network round trip) never races a concurrent Input, restart or expiry for
// the same requester. updatedAt is guarded by the manager mutex instead, so
// expiry scans never wait on a slow sign-in.
type conversation struct {
	mu      sync.Mutex
	step    Step
	apiID   int
	apiHash string
	phone   string
	auth    Authorizer

	updatedAt time.Time
}

// detachAuth hands ownership of the authorizer to the caller.
func (c *conversation) detachAuth() Authorizer {
	c.mu.Lock()
	defer c.mu.Unlock()
	auth := c.auth
	c.auth = nil
	return auth
}

// Manager runs per-requester setup conversations with timeout-based garbage
// collection, so abandoned sessions never accumulate.
type Manager struct {
	repo         repository.CredentialsRepository
	newAuth      AuthorizerFactory
	ttl          time.Duration
	onConfigured func(ctx context.Context, creds repository.Credentials)

	mu       sync.Mutex
	sessions map[int64]*conversation
}

func NewManager(repo repository.CredentialsRepository, factory AuthorizerFactory, ttl time.Duration, onConfigured func(ctx context.Context, creds repository.Credentials)) *Manager {
	return &Manager{
		repo:         repo,
		newAuth:      factory,
		ttl:          ttl,
		onConfigured: onConfigured,
		sessions:     make(map[int64]*conversation),
	}
}

// Begin starts (or restarts) the conversation for a requester, discarding any
// previous state and its authorizer.
func (m *Manager) Begin(ctx context.Context, requester int64) Step {
	m.mu.Lock()
	old := m.sessions[requester]
	m.sessions[requester] = &conversation{step: StepAPIID, updatedAt: time.Now()}
	m.mu.Unlock()
	if old != nil {
		if auth := old.detachAuth(); auth != nil {
			if err := auth.Close(ctx); err != nil {
				slog.Error("failed to close stale setup authorizer", "error", err, "requester", requester)
			}
		}
	}
	return StepAPIID
}

// Active reports whether the requester has a setup conversation in flight.
func (m *Manager) Active(requester int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[requester]
	return ok
}

// Input feeds the requester's next message into the machine and returns the
// step the conversation is now waiting on. Any error except ErrPasswordNeeded
// aborts the conversation.
func (m *Manager) Input(ctx context.Context, requester int64, text string) (Step, error) {
	m.mu.Lock()
	conv, ok := m.sessions[requester]
	if !ok {
		m.mu.Unlock()
		return "", ErrNoSession
	}
	conv.updatedAt = time.Now()
	m.mu.Unlock()

	conv.mu.Lock()
	next, err := m.advance(ctx, requester, conv, strings.TrimSpace(text))
	conv.mu.Unlock()
	if err != nil && !errors.Is(err, ErrPasswordNeeded) && !errors.Is(err, ErrInvalidInput) {
		m.abort(ctx, requester)
		return "", err
	}
	if next == StepDone {
		m.finish(ctx, requester, conv)
	}
	return next, err
}

func (m *Manager) advance(ctx context.Context, requester int64, conv *conversation, text string) (Step, error) {
	switch conv.step {
	case StepAPIID:
		apiID, err := strconv.Atoi(text)
		if err != nil {
			return StepAPIID, fmt.Errorf("%w: api id must be a number", ErrInvalidInput)
		}
		conv.apiID = apiID
		conv.step = StepAPIHash
		return StepAPIHash, nil

	case StepAPIHash:
		conv.apiHash = text
		conv.step = StepPhone
		return StepPhone, nil

	case StepPhone:
		auth, err := m.newAuth(ctx, conv.apiID, conv.apiHash)
		if err != nil {
			return "", fmt.Errorf("failed to start authorizer: %w", err)
		}
		if err := auth.SendCode(ctx, text); err != nil {
			closeErr := auth.Close(ctx)
			if closeErr != nil {
				slog.Error("failed to close authorizer after send code failure", "error", closeErr, "requester", requester)
			}
			return "", fmt.Errorf("failed to send code: %w", err)
		}
		conv.phone = text
		conv.auth = auth
		conv.step = StepCode
		return StepCode, nil

	case StepCode:
		err := conv.auth.SignIn(ctx, text)
		if errors.Is(err, ErrPasswordNeeded) {
			conv.step = StepTwoFactor
			return StepTwoFactor, ErrPasswordNeeded
		}
		if err != nil {
			return "", fmt.Errorf("sign in failed: %w", err)
		}
		conv.step = StepDone
		return StepDone, nil

	case StepTwoFactor:
		if err := conv.auth.CheckPassword(ctx, text); err != nil {
			return "", fmt.Errorf("password check failed: %w", err)
		}
		conv.step = StepDone
		return StepDone, nil

	default:
		return "", fmt.Errorf("unexpected setup step %q", conv.step)
	}
}

// finish exports the session string, persists the credential record and hands
// it to the configured callback (typically backend reinitialization).
func (m *Manager) finish(ctx context.Context, requester int64, conv *conversation) {
	defer m.drop(ctx, requester)

	conv.mu.Lock()
	auth := conv.auth
	apiID, apiHash, phone := conv.apiID, conv.apiHash, conv.phone
	conv.mu.Unlock()
	if auth == nil {
		return
	}

	sessionString, err := auth.SessionString(ctx)
	if err != nil {
		slog.Error("failed to export session string", "error", err, "requester", requester)
		return
	}
	creds := repository.Credentials{
		APIID:         apiID,
		APIHash:       apiHash,
		SessionString: sessionString,
		Phone:         phone,
		CreatedAt:     time.Now(),
	}
	if err := m.repo.SaveCredentials(ctx, creds); err != nil {
		slog.Error("failed to persist credentials", "error", err, "requester", requester)
		return
	}
	slog.Info("backend credentials configured", "requester", requester)
	if m.onConfigured != nil {
		m.onConfigured(ctx, creds)
	}
}

func (m *Manager) abort(ctx context.Context, requester int64) {
	m.drop(ctx, requester)
	slog.Info("setup conversation aborted", "requester", requester)
}

func (m *Manager) drop(ctx context.Context, requester int64) {
	m.mu.Lock()
	conv := m.sessions[requester]
	delete(m.sessions, requester)
	m.mu.Unlock()
	if conv == nil {
		return
	}
	if auth := conv.detachAuth(); auth != nil {
		if err := auth.Close(ctx); err != nil {
			slog.Error("failed to close setup authorizer", "error", err, "requester", requester)
		}
	}
}

// CollectExpired drops conversations idle past the TTL and returns how many
// were removed.
func (m *Manager) CollectExpired(ctx context.Context, now time.Time) int {
	m.mu.Lock()
	var expired []int64
	for requester, conv := range m.sessions {
		if now.Sub(conv.updatedAt) > m.ttl {
			expired = append(expired, requester)
		}
	}
	m.mu.Unlock()
	for _, requester := range expired {
		m.drop(ctx, requester)
		slog.Info("setup conversation expired", "requester", requester)
	}
	return len(expired)
}

// RunGC collects expired conversations on an interval until ctx is done.
func (m *Manager) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.CollectExpired(ctx, now)
		}
	}
}
