package principal

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no principal matches.
	ErrNotFound = errors.New("principal not found")
	// ErrDuplicate is returned when an email, username or external subject is taken.
	ErrDuplicate = errors.New("principal already exists")
	// ErrAlreadyLinked is returned when a principal is linked to a different external subject.
	ErrAlreadyLinked = errors.New("principal already linked to another external identity")
	// ErrStoreUnavailable wraps document-store failures.
	ErrStoreUnavailable = errors.New("principal store unavailable")
)

// Repository is the document-store contract for principals. Lookups return
// ErrNotFound when nothing matches. There is no delete: principals only
// change status.
type Repository interface {
	Create(ctx context.Context, p *Principal) error
	ByID(ctx context.Context, id string) (*Principal, error)
	ByEmail(ctx context.Context, normalizedEmail string) (*Principal, error)
	ByUsername(ctx context.Context, usernameKey string) (*Principal, error)
	ByExternalSubject(ctx context.Context, subject string) (*Principal, error)

	// SetExternalSubject links subject to the principal unless it is
	// already linked to a different subject (ErrAlreadyLinked).
	SetExternalSubject(ctx context.Context, id, subject string) error
	SetPasswordHash(ctx context.Context, id, hash string) error
	SetStatus(ctx context.Context, id string, status Status) error
	SetRoles(ctx context.Context, id string, roles []Role) error
	SetOverrides(ctx context.Context, id string, o Overrides) error
}
