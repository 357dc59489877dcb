package model

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable category of a workflow failure.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindInvalidRule            Kind = "invalid_rule"
	KindNoRuleMatched          Kind = "no_rule_matched"
	KindNotAuthorizedApprover  Kind = "not_authorized_approver"
	KindNotPending             Kind = "not_pending"
	KindRateUnavailable        Kind = "rate_unavailable"
	KindConcurrentModification Kind = "concurrent_modification"
	KindNotFound               Kind = "not_found"
)

// Error carries a Kind plus a human-readable reason.
// errors.Is matches on Kind alone, so the sentinels below work as targets.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality against another *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is.
var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrInvalidRule            = &Error{Kind: KindInvalidRule}
	ErrNoRuleMatched          = &Error{Kind: KindNoRuleMatched}
	ErrNotAuthorizedApprover  = &Error{Kind: KindNotAuthorizedApprover}
	ErrNotPending             = &Error{Kind: KindNotPending}
	ErrRateUnavailable        = &Error{Kind: KindRateUnavailable}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification}
	ErrNotFound               = &Error{Kind: KindNotFound}
)

// KindOf extracts the Kind from err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
