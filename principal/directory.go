package principal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/portalauth/password"
	"go.uber.org/zap"
)

var (
	// ErrInvalidPassword is returned when the password does not match, or the
	// principal has no password (identity-only account).
	ErrInvalidPassword = errors.New("invalid password")
	// ErrBlocked is returned for blocked or rejected principals.
	ErrBlocked = errors.New("principal blocked")
	// ErrUnverified is returned for principals still pending approval.
	ErrUnverified = errors.New("principal unverified")
)

const dummyPassword = "portalauth-timing-equalizer"

// Directory is the credential store facade over a Repository. It never hands
// password hashes to callers.
type Directory struct {
	repo      Repository
	hasher    *password.Hasher
	logger    *zap.Logger
	timeout   time.Duration
	dummyHash string
}

// NewDirectory builds a Directory whose repository calls each run under
// timeout. A nil logger is replaced by a no-op logger.
func NewDirectory(repo Repository, hasher *password.Hasher, timeout time.Duration, logger *zap.Logger) (*Directory, error) {
	if repo == nil || hasher == nil {
		return nil, errors.New("principal directory requires repository and hasher")
	}
	if timeout <= 0 {
		return nil, errors.New("principal directory timeout must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &Directory{repo: repo, hasher: hasher, logger: logger, timeout: timeout, dummyHash: dummy}, nil
}

// call runs one repository operation under the directory timeout.
func call[T any](ctx context.Context, d *Directory, op func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return op(ctx)
}

func (d *Directory) write(ctx context.Context, op func(context.Context) error) error {
	_, err := call(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// StatusError maps a lifecycle status to the error a login must fail with.
func StatusError(s Status) error {
	switch s {
	case StatusActive:
		return nil
	case StatusPending:
		return ErrUnverified
	default:
		return ErrBlocked
	}
}

// VerifyPassword resolves identifier (email first, then username) and checks
// plaintext against the stored hash. The password is checked before the
// status so lifecycle state is only disclosed to someone holding the password.
func (d *Directory) VerifyPassword(ctx context.Context, identifier, plaintext string) (*Principal, error) {
	p, err := d.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_, _ = d.hasher.Verify(plaintext, d.dummyHash)
		}
		return nil, err
	}

	if p.PasswordHash == "" {
		_, _ = d.hasher.Verify(plaintext, d.dummyHash)
		return nil, ErrInvalidPassword
	}

	ok, err := d.hasher.Verify(plaintext, p.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidPassword
	}

	if err := StatusError(p.Status); err != nil {
		return nil, err
	}

	if d.hasher.NeedsRehash(p.PasswordHash) {
		d.rehash(ctx, p.ID, plaintext)
	}

	return p.sanitized(), nil
}

// FindByIdentifier resolves an email or username without checking credentials.
func (d *Directory) FindByIdentifier(ctx context.Context, identifier string) (*Principal, error) {
	p, err := d.lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return p.sanitized(), nil
}

func (d *Directory) FindByID(ctx context.Context, id string) (*Principal, error) {
	p, err := call(ctx, d, func(ctx context.Context) (*Principal, error) {
		return d.repo.ByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return p.sanitized(), nil
}

// FindByExternalIdentity returns (nil, nil) when no principal is linked to subject.
func (d *Directory) FindByExternalIdentity(ctx context.Context, subject string) (*Principal, error) {
	p, err := call(ctx, d, func(ctx context.Context) (*Principal, error) {
		return d.repo.ByExternalSubject(ctx, subject)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p.sanitized(), nil
}

func (d *Directory) LinkExternalIdentity(ctx context.Context, principalID, subject string) error {
	if subject == "" {
		return errors.New("external subject must not be empty")
	}
	return d.write(ctx, func(ctx context.Context) error {
		return d.repo.SetExternalSubject(ctx, principalID, subject)
	})
}

func (d *Directory) SetStatus(ctx context.Context, principalID string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	return d.write(ctx, func(ctx context.Context) error {
		return d.repo.SetStatus(ctx, principalID, status)
	})
}

func (d *Directory) SetRoles(ctx context.Context, principalID string, roles []Role) error {
	if len(roles) == 0 {
		return errors.New("principal must keep at least one role")
	}
	for _, r := range roles {
		if !r.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownRole, r)
		}
	}
	return d.write(ctx, func(ctx context.Context) error {
		return d.repo.SetRoles(ctx, principalID, roles)
	})
}

func (d *Directory) SetOverrides(ctx context.Context, principalID string, o Overrides) error {
	return d.write(ctx, func(ctx context.Context) error {
		return d.repo.SetOverrides(ctx, principalID, o)
	})
}

func (d *Directory) lookup(ctx context.Context, identifier string) (*Principal, error) {
	p, err := call(ctx, d, func(ctx context.Context) (*Principal, error) {
		return d.repo.ByEmail(ctx, NormalizeEmail(identifier))
	})
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return call(ctx, d, func(ctx context.Context) (*Principal, error) {
		return d.repo.ByUsername(ctx, NormalizeUsername(identifier))
	})
}

func (d *Directory) rehash(ctx context.Context, id, plaintext string) {
	hash, err := d.hasher.Hash(plaintext)
	if err != nil {
		d.logger.Warn("password rehash failed", zap.String("principal_id", id), zap.Error(err))
		return
	}
	err = d.write(ctx, func(ctx context.Context) error {
		return d.repo.SetPasswordHash(ctx, id, hash)
	})
	if err != nil {
		d.logger.Warn("password rehash store failed", zap.String("principal_id", id), zap.Error(err))
	}
}
