package kv

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const credentialsBucket = "credentials"

// Credential is a paired device token.
type Credential struct {
	Token    string    `json:"token"`
	Name     string    `json:"name,omitempty"`
	SerialNo string    `json:"serial_no,omitempty"`
	PairedAt time.Time `json:"paired_at"`
}

// Credentials stores device tokens keyed by device host.
type Credentials struct {
	bucket *Bucket
}

// NewCredentials creates the credential store over db.
func NewCredentials(db *sql.DB) *Credentials {
	return &Credentials{bucket: NewBucket(db, credentialsBucket)}
}

// Save stores the credential for host, replacing any previous one.
func (c *Credentials) Save(ctx context.Context, host string, cred Credential) error {
	if cred.PairedAt.IsZero() {
		cred.PairedAt = time.Now().UTC()
	}
	return c.bucket.Store(ctx, host, cred, nil)
}

// Load returns the credential for host. ok is false when none is stored.
func (c *Credentials) Load(ctx context.Context, host string) (cred Credential, ok bool, err error) {
	err = c.bucket.GetInto(ctx, host, &cred)
	if errors.Is(err, ErrNotFound) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, err
	}
	return cred, true, nil
}

// Forget removes the credential for host.
func (c *Credentials) Forget(ctx context.Context, host string) (bool, error) {
	return c.bucket.Delete(ctx, host)
}

// Hosts lists every host with a stored credential.
func (c *Credentials) Hosts(ctx context.Context) ([]string, error) {
	return c.bucket.Keys(ctx)
}
