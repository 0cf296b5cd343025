package portalauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/portalauth/permission"
	"github.com/MrEthical07/portalauth/principal"
	"github.com/MrEthical07/portalauth/session"
	"go.uber.org/zap"
)

// UpdateStatus changes a principal's lifecycle status. Moving away from
// active revokes all sessions immediately; every change drops the
// permission entry so the gate picks it up on the next request.
func (e *Engine) UpdateStatus(ctx context.Context, principalID string, status principal.Status) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.directory.SetStatus(ctx, principalID, status); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	var err error
	if status != principal.StatusActive {
		_, err = e.revokeAll(ctx, principalID, session.ReasonAccountChanged)
	} else {
		err = e.invalidate(ctx, principalID)
	}

	e.metricInc(MetricAccountStatusChanged)
	e.emitAudit(ctx, auditEventAccountStatus, err == nil, principalID, "", err, func() map[string]string {
		return map[string]string{"status": string(status)}
	})
	return err
}

// UpdateRoles replaces a principal's roles. Raw names go through the role
// normalization table, so "super-admin" and "super_admin" are equivalent.
func (e *Engine) UpdateRoles(ctx context.Context, principalID string, roles []string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	parsed, err := principal.ParseRoles(roles)
	if err != nil {
		return err
	}
	if err := e.directory.SetRoles(ctx, principalID, parsed); err != nil {
		return fmt.Errorf("update roles: %w", err)
	}

	err = e.invalidate(ctx, principalID)
	e.emitAudit(ctx, auditEventAccountRoles, err == nil, principalID, "", err, func() map[string]string {
		return map[string]string{"roles": fmt.Sprint(principal.RoleStrings(parsed))}
	})
	return err
}

// UpdateOverrides replaces a principal's allow, deny and allowExtra lists.
// Every name must be a registered capability.
func (e *Engine) UpdateOverrides(ctx context.Context, principalID string, o principal.Overrides) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	for _, list := range [][]string{o.Allow, o.Deny, o.AllowExtra} {
		for _, name := range list {
			if _, ok := e.registry.Bit(name); !ok {
				return fmt.Errorf("%w: %q", permission.ErrUnknownCapability, name)
			}
		}
	}
	if err := e.directory.SetOverrides(ctx, principalID, o); err != nil {
		return fmt.Errorf("update overrides: %w", err)
	}

	err := e.invalidate(ctx, principalID)
	e.emitAudit(ctx, auditEventAccountOverrides, err == nil, principalID, "", err, nil)
	return err
}

// RebuildPermissions rewrites the principal's permission entry from the
// store right away, instead of waiting for the next refresh.
func (e *Engine) RebuildPermissions(ctx context.Context, principalID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if _, err := e.cache.Build(ctx, principalID); err != nil {
		switch {
		case errors.Is(err, permission.ErrInactive):
			return ErrAccountBlocked
		case errors.Is(err, principal.ErrNotFound):
			return fmt.Errorf("rebuild permissions: %w", err)
		default:
			return fmt.Errorf("%w: rebuild permissions: %v", ErrInternal, err)
		}
	}
	return nil
}

func (e *Engine) invalidate(ctx context.Context, principalID string) error {
	if err := e.cache.Invalidate(ctx, principalID); err != nil {
		e.metricInc(MetricCacheUnavailable)
		e.logger.Error("permission cache invalidation failed", zap.String("principal_id", principalID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return nil
}
