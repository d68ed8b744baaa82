package crm

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindNetwork           Kind = "network"
	KindTimeout           Kind = "timeout"
	KindMalformedResponse Kind = "malformed_response"
	KindBadStatus         Kind = "bad_status"
	KindCircuitOpen       Kind = "circuit_open"
)

// Error is the only error FetchDeals returns.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
	secrets    []string
}

func (err *Error) Error() string {
	if err == nil {
		return ""
	}

	base := err.Message
	if base == "" {
		base = "crm request failed"
	}
	if err.Err != nil {
		base = fmt.Sprintf("%s: %v", base, err.Err)
	}
	return redact(base, err.secrets)
}

func (err *Error) Unwrap() error {
	if err == nil {
		return nil
	}
	return err.Err
}

// IsKind reports whether err is a crm error of the given kind.
func IsKind(err error, kind Kind) bool {
	var crmErr *Error
	if !errors.As(err, &crmErr) {
		return false
	}
	return crmErr.Kind == kind
}

func redact(value string, secrets []string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		value = strings.ReplaceAll(value, secret, "[REDACTED]")
	}
	return value
}
