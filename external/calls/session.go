package calls

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/gotd/td/session"
)

// sessionStorage keeps the MTProto session blob in memory, seeded from the
// persisted base64 session string. The credential record in the database is
// the durable copy; refreshed blobs overwrite it on export only.
type sessionStorage struct {
	mu   sync.Mutex
	data []byte
}

func newSessionStorage(sessionString string) (*sessionStorage, error) {
	s := &sessionStorage{}
	if sessionString == "" {
		return s, nil
	}
	raw, err := base64.StdEncoding.DecodeString(sessionString)
	if err != nil {
		return nil, fmt.Errorf("malformed session string: %w", err)
	}
	s.data = raw
	return s, nil
}

func (s *sessionStorage) LoadSession(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

func (s *sessionStorage) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make([]byte, len(data))
	copy(s.data, data)
	return nil
}

// Export returns the current blob as the portable base64 session string.
func (s *sessionStorage) Export() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return "", fmt.Errorf("no session to export")
	}
	return base64.StdEncoding.EncodeToString(s.data), nil
}
