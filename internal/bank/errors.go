package bank

import (
	"errors"
	"fmt"
)

// Kind classifies an adapter failure. Kinds decide retry and batch behavior:
// transient failures are retried, per-record format failures skip the record,
// everything else aborts the call.
type Kind string

const (
	KindAuthFailed       Kind = "authentication_failed"
	KindTransient        Kind = "transient_network"
	KindInvalidFormat    Kind = "invalid_format"
	KindAccountNotFound  Kind = "account_not_found"
	KindNotRegistered    Kind = "not_registered"
	KindNotImplemented   Kind = "not_implemented"
	KindProviderRejected Kind = "provider_rejected"
)

// Error is a classified bank-operation failure. Code and Message carry the
// provider's own error envelope untranslated when one was returned.
type Error struct {
	Kind    Kind
	Bank    string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s [%s]: %s", e.Bank, e.Kind, e.Code, msg)
	}
	if e.Bank == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Bank, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error with a formatted message
func Errorf(kind Kind, bankName, format string, args ...any) *Error {
	return &Error{Kind: kind, Bank: bankName, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the classification of err, or the empty Kind when err is not
// a bank error
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsTransient reports whether err is worth retrying. Unclassified errors are
// treated as transient: they come from the transport layer, not from a
// provider decision.
func IsTransient(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == KindTransient
	}
	return err != nil
}
