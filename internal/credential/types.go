// Package credential keeps admin credentials saved by `eccs-e2e login`,
// encrypted at rest, one file per server endpoint.
package credential

import (
	"errors"
	"time"
)

// Credential is the admin account for one endpoint.
type Credential struct {
	Endpoint  string    `json:"endpoint"`
	UserID    string    `json:"user_id"`
	Password  string    `json:"password"`
	Token     string    `json:"token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrNotFound is returned by Get when nothing is stored for an endpoint.
var ErrNotFound = errors.New("credential not found")

// Store defines the credential storage interface.
type Store interface {
	Save(cred Credential) error
	Get(endpoint string) (*Credential, error)
	Delete(endpoint string) error
	List() ([]Credential, error)
}
