package services

import (
	"errors"
	"fmt"
)

type NotifyKind string

const (
	NotifyBadRequest   NotifyKind = "bad_request"
	NotifyUnauthorized NotifyKind = "unauthorized"
	NotifyChatNotFound NotifyKind = "chat_not_found"
	NotifyAPIError     NotifyKind = "api_error"
	NotifyTransport    NotifyKind = "transport"
)

// NotifyError is returned by every notifier in this package.
type NotifyError struct {
	Kind    NotifyKind
	Code    int
	Message string
	Err     error
}

func (e *NotifyError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = "notification failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", msg, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s)", msg, e.Kind)
}

func (e *NotifyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func IsNotifyKind(err error, kind NotifyKind) bool {
	var notifyErr *NotifyError
	if !errors.As(err, &notifyErr) {
		return false
	}
	return notifyErr.Kind == kind
}
