// Package storage defines the account store consumed outside of the XDB
// fragment model: authentication needs to resolve a user before any session
// (and therefore any XDB lookup keyed by that user's JID) can exist.
//
// Per-(jid, namespace) data — rosters, offline messages, privacy lists — is
// not part of this package; it lives behind xdb.Backend, which is how
// spec.md models all such storage (see package xdb).
package storage

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors for storage operations.
var (
	ErrNotFound   = errors.New("storage: not found")
	ErrUserExists = errors.New("storage: user already exists")
	ErrAuthFailed = errors.New("storage: authentication failed")
)

// Storage is the composite account-store interface.
type Storage interface {
	io.Closer

	// Init initializes the storage backend (e.g. create tables, open connections).
	Init(ctx context.Context) error

	// UserStore returns the user store.
	UserStore() UserStore
}
