package portalauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/portalauth/internal/rate"
	"github.com/MrEthical07/portalauth/notify"
	"github.com/MrEthical07/portalauth/otp"
	"github.com/MrEthical07/portalauth/principal"
	"github.com/MrEthical07/portalauth/session"
	"go.uber.org/zap"
)

// LoginPassword authenticates an email or username with a password and opens
// a new session. Failed attempts count against the identifier and the client
// IP (see WithClientIP); a successful one resets the identifier counter.
func (e *Engine) LoginPassword(ctx context.Context, identifier, password string) (*Result, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	key := normalizeIdentifier(identifier)
	ip := clientIPFromContext(ctx)

	if err := e.rateLimiter.CheckLogin(ctx, key, ip); err != nil {
		return nil, e.loginThrottled(ctx, session.MethodPassword, err)
	}

	p, err := e.directory.VerifyPassword(ctx, identifier, password)
	if err != nil {
		mapped := mapPrincipalError(err)
		if errors.Is(mapped, ErrInvalidCredential) {
			if ierr := e.rateLimiter.IncrementLogin(ctx, key, ip); ierr != nil {
				e.logger.Warn("login attempt counter unavailable", zap.Error(ierr))
			}
		}
		e.loginFailed(ctx, session.MethodPassword, "", mapped)
		return nil, mapped
	}

	if err := e.rateLimiter.ResetLogin(ctx, key); err != nil {
		e.logger.Warn("login attempt counter reset failed", zap.String("principal_id", p.ID), zap.Error(err))
	}

	return e.completeLogin(ctx, p, session.MethodPassword)
}

// SendLoginCode issues a one-time login code and hands it to the code
// sender. Unknown and non-active principals get no code and no error, so the
// endpoint does not reveal which identifiers exist.
func (e *Engine) SendLoginCode(ctx context.Context, identifier string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	key := normalizeIdentifier(identifier)

	if err := e.rateLimiter.CheckCodeSend(ctx, key); err != nil {
		return e.loginThrottled(ctx, session.MethodOTP, err)
	}

	p, err := e.directory.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if !p.Active() {
		return nil
	}

	code, err := e.codes.Issue(ctx, otp.Request{
		Channel:    otp.ChannelEmail,
		Identifier: p.Email,
		Purpose:    otp.PurposeLogin,
	})
	if err != nil {
		switch {
		case errors.Is(err, otp.ErrTooSoon):
			return ErrCodeTooSoon
		default:
			return fmt.Errorf("%w: issue code: %v", ErrInternal, err)
		}
	}

	msg := notify.Message{
		Channel:   string(otp.ChannelEmail),
		Recipient: p.Email,
		Purpose:   string(otp.PurposeLogin),
		Code:      code,
		ExpiresIn: e.config.OTP.TTL,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.codeSender.SendCode(ctx, msg); err != nil {
		e.logger.Error("login code handoff failed", zap.String("principal_id", p.ID), zap.Error(err))
		return fmt.Errorf("%w: send code: %v", ErrInternal, err)
	}

	e.metricInc(MetricCodeSent)
	e.emitAudit(ctx, auditEventCodeSent, true, p.ID, "", nil, func() map[string]string {
		return map[string]string{"channel": string(otp.ChannelEmail)}
	})
	return nil
}

// LoginOTP redeems a login code sent by SendLoginCode.
func (e *Engine) LoginOTP(ctx context.Context, identifier, code string) (*Result, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	p, err := e.directory.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			e.loginFailed(ctx, session.MethodOTP, "", ErrCodeExpired)
			return nil, ErrCodeExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if err := e.codes.Verify(ctx, otp.ChannelEmail, p.Email, otp.PurposeLogin, code); err != nil {
		mapped := mapCodeError(err)
		switch {
		case errors.Is(mapped, ErrCodeExhausted):
			e.metricInc(MetricCodeExhausted)
		case errors.Is(mapped, ErrCodeInvalid), errors.Is(mapped, ErrCodeExpired):
			e.metricInc(MetricCodeRejected)
		}
		e.emitAudit(ctx, auditEventCodeRejected, false, p.ID, "", mapped, nil)
		e.loginFailed(ctx, session.MethodOTP, p.ID, mapped)
		return nil, mapped
	}

	if err := mapPrincipalError(principal.StatusError(p.Status)); err != nil {
		e.loginFailed(ctx, session.MethodOTP, p.ID, err)
		return nil, err
	}

	return e.completeLogin(ctx, p, session.MethodOTP)
}

// LoginExternal logs in with a signed assertion from the institution's
// identity provider. The assertion subject must already be linked to a
// principal, unless External.AutoLinkByEmail is set and the provider
// vouches for an email that matches an active principal.
func (e *Engine) LoginExternal(ctx context.Context, assertion string) (*Result, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.identity == nil {
		return nil, fmt.Errorf("%w: external identity verifier not configured", ErrEngineNotReady)
	}

	ext, err := e.identity.Verify(ctx, assertion)
	if err != nil {
		e.logger.Info("external assertion rejected", zap.Error(err))
		e.loginFailed(ctx, session.MethodExternal, "", ErrInvalidCredential)
		return nil, ErrInvalidCredential
	}

	p, err := e.directory.FindByExternalIdentity(ctx, ext.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if p == nil {
		p, err = e.linkByEmail(ctx, ext.Subject, ext.Email, ext.EmailVerified)
		if err != nil {
			e.loginFailed(ctx, session.MethodExternal, "", err)
			return nil, err
		}
	}

	if err := mapPrincipalError(principal.StatusError(p.Status)); err != nil {
		e.loginFailed(ctx, session.MethodExternal, p.ID, err)
		return nil, err
	}

	return e.completeLogin(ctx, p, session.MethodExternal)
}

func (e *Engine) linkByEmail(ctx context.Context, subject, email string, verified bool) (*principal.Principal, error) {
	if !e.config.External.AutoLinkByEmail || !verified || email == "" {
		return nil, ErrInvalidCredential
	}

	p, err := e.directory.FindByIdentifier(ctx, email)
	if err != nil {
		return nil, mapPrincipalError(err)
	}
	if err := mapPrincipalError(principal.StatusError(p.Status)); err != nil {
		return nil, err
	}

	if err := e.directory.LinkExternalIdentity(ctx, p.ID, subject); err != nil {
		if errors.Is(err, principal.ErrAlreadyLinked) || errors.Is(err, principal.ErrDuplicate) {
			e.logger.Warn("external identity conflicts with existing link",
				zap.String("principal_id", p.ID),
				zap.String("ip", clientIPFromContext(ctx)),
			)
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("%w: link external identity: %v", ErrInternal, err)
	}

	e.emitAudit(ctx, auditEventIdentityLinked, true, p.ID, "", nil, nil)
	p.ExternalSubject = subject
	return p, nil
}

func mapCodeError(err error) error {
	switch {
	case errors.Is(err, otp.ErrExpired):
		return ErrCodeExpired
	case errors.Is(err, otp.ErrInvalid):
		return ErrCodeInvalid
	case errors.Is(err, otp.ErrTooManyAttempts):
		return ErrCodeExhausted
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}

func (e *Engine) loginThrottled(ctx context.Context, method string, err error) error {
	if !errors.Is(err, rate.ErrRateLimited) {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	e.metricInc(MetricLoginRateLimited)
	e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrRateLimited, func() map[string]string {
		return map[string]string{"method": method}
	})
	return ErrRateLimited
}

func (e *Engine) loginFailed(ctx context.Context, method, principalID string, err error) {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, principalID, "", err, func() map[string]string {
		return map[string]string{"method": method}
	})
}
