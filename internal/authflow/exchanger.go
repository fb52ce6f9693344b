package authflow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"

	"warden/internal/credstore"
	"warden/pkg/logging"
	"warden/pkg/oauth"
	"warden/pkg/strings"
)

var (
	// ErrStateMismatch is returned when the callback state does not match a
	// live pending authorization. No token request is made.
	ErrStateMismatch = errors.New("authorization state mismatch")

	// ErrExchangeFailed is returned when the token endpoint rejects the code
	// or cannot be reached.
	ErrExchangeFailed = errors.New("authorization code exchange failed")
)

// CallbackError is an error reported by the authorization server on the
// redirect back (error and error_description parameters).
type CallbackError struct {
	Code        string
	Description string
}

func (e *CallbackError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("authorization server returned %s", e.Code)
	}
	return fmt.Sprintf("authorization server returned %s: %s", e.Code, e.Description)
}

// ParseCallback extracts code and state from callback query parameters.
// Authorization server errors are returned as *CallbackError with both
// fields flattened to a single bounded line.
func ParseCallback(query url.Values) (code, state string, err error) {
	if e := query.Get("error"); e != "" {
		return "", query.Get("state"), &CallbackError{
			Code:        strings.SingleLine(e, strings.MaxErrorCodeLen),
			Description: strings.SingleLine(query.Get("error_description"), strings.MaxErrorDescriptionLen),
		}
	}
	return query.Get("code"), query.Get("state"), nil
}

// ExchangeResult is a successful code exchange.
type ExchangeResult struct {
	Token      *oauth.Token
	ReturnPath string
	FlowID     string
}

// Exchanger completes authorization-code callbacks.
type Exchanger struct {
	builder *Builder
}

// NewExchanger creates an Exchanger that consumes the pending authorization
// records written by b.
func NewExchanger(b *Builder) *Exchanger {
	return &Exchanger{builder: b}
}

// Exchange validates state against the pending authorization and exchanges
// code for tokens. The pending record is deleted on every call that finds
// one, so each login can be completed at most once.
func (e *Exchanger) Exchange(ctx context.Context, code, state string) (*ExchangeResult, error) {
	pending, err := e.consumePending()
	if err != nil {
		e.auditRejected("", err.Error())
		return nil, ErrStateMismatch
	}

	if state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(pending.State)) != 1 {
		e.auditRejected(pending.FlowID, "state does not match")
		return nil, ErrStateMismatch
	}
	if pendingExpired(pending, e.builder.clock.Now()) {
		e.auditRejected(pending.FlowID, "pending authorization expired")
		return nil, ErrStateMismatch
	}
	if code == "" {
		e.auditRejected(pending.FlowID, "missing code")
		return nil, fmt.Errorf("%w: missing authorization code", ErrExchangeFailed)
	}

	md, err := e.builder.Endpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.builder.cfg.TokenTimeout)
	defer cancel()

	tok, err := e.builder.client.ExchangeCode(ctx, md.TokenEndpoint, code, pending.RedirectURI, e.builder.cfg.ClientID, pending.CodeVerifier)
	if err != nil {
		e.builder.NoteTokenFailure(err)
		logging.Audit(logging.AuditEvent{
			Action:  "code_exchange",
			Outcome: "failure",
			FlowID:  pending.FlowID,
			Issuer:  md.Issuer,
			Reason:  err.Error(),
		})
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "code_exchange",
		Outcome: "success",
		FlowID:  pending.FlowID,
		Issuer:  md.Issuer,
	})
	return &ExchangeResult{
		Token:      tok,
		ReturnPath: pending.ReturnPath,
		FlowID:     pending.FlowID,
	}, nil
}

// Abort discards the pending authorization without exchanging anything, as
// when the authorization server redirects back with an error. The state it
// carried can no longer complete a login.
func (e *Exchanger) Abort(reason string) {
	flowID := ""
	if pending, err := e.consumePending(); err == nil {
		flowID = pending.FlowID
	}
	e.auditRejected(flowID, reason)
}

// consumePending loads and deletes the pending authorization.
func (e *Exchanger) consumePending() (*PendingAuthorization, error) {
	store := e.builder.store
	pending, err := store.LoadPending()
	if err != nil {
		if !errors.Is(err, credstore.ErrNoPending) {
			// Unreadable record: remove it so the next login starts clean.
			_ = store.DeletePending()
		}
		return nil, err
	}
	if err := store.DeletePending(); err != nil {
		logging.Warn("AuthFlow", "Failed to delete pending authorization: %v", err)
	}
	return pending, nil
}

func (e *Exchanger) auditRejected(flowID, reason string) {
	logging.Audit(logging.AuditEvent{
		Action:  "callback_rejected",
		Outcome: "failure",
		FlowID:  flowID,
		Reason:  reason,
	})
}
