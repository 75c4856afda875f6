package repository

import (
	"context"
	"time"
)

// Credentials is the session credential record consumed by the streaming
// backend's initialize and produced by the credential-setup flow.
type Credentials struct {
	APIID         int       `json:"api_id"`
	APIHash       string    `json:"api_hash"`
	SessionString string    `json:"session_string"`
	Phone         string    `json:"phone"`
	CreatedAt     time.Time `json:"created_at"`
}

func (c Credentials) Complete() bool {
	return c.APIID != 0 && c.APIHash != "" && c.SessionString != ""
}

// CredentialsRepository stores the single backend credential record.
// GetCredentials reports false when nothing has been configured yet.
type CredentialsRepository interface {
	SaveCredentials(ctx context.Context, creds Credentials) error
	GetCredentials(ctx context.Context) (Credentials, bool, error)
}
