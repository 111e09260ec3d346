package patreon

import (
	"errors"
	"fmt"
	"strings"
)

const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

// TokenExchangeError is returned when the token endpoint answers with a
// non-success status or an unusable body.
type TokenExchangeError struct {
	Grant       string
	StatusCode  int
	Code        string // OAuth "error" field
	Description string // OAuth "error_description" field
	Err         error
}

func (e *TokenExchangeError) Error() string {
	msg := e.Description
	if msg == "" {
		msg = e.Code
	}
	if msg == "" && e.StatusCode != 0 {
		msg = fmt.Sprintf("status %d", e.StatusCode)
	}
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("patreon %s grant failed: %s", e.Grant, msg)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// MembershipFetchError is returned for a non-2xx identity response.
type MembershipFetchError struct {
	StatusCode int
	Message    string
}

func (e *MembershipFetchError) Error() string {
	return fmt.Sprintf("patreon membership fetch failed (%d): %s", e.StatusCode, e.Message)
}

// IsRevoked reports whether err means the stored grant is dead and will never
// succeed again, as opposed to a transient failure worth retrying next run.
// Only invalid_grant qualifies: client errors such as invalid_client point at
// our own credentials and must not cost members their link.
func IsRevoked(err error) bool {
	var te *TokenExchangeError
	if !errors.As(err, &te) {
		return false
	}
	return te.Code == "invalid_grant"
}

const maxReasonLen = 160

// SafeReason extracts a short, client-presentable reason from a provider
// error. Unknown errors yield fallback.
func SafeReason(err error, fallback string) string {
	var (
		te *TokenExchangeError
		me *MembershipFetchError
	)
	reason := ""
	switch {
	case errors.As(err, &te):
		reason = te.Description
		if reason == "" {
			reason = te.Code
		}
	case errors.As(err, &me):
		reason = me.Message
	}
	reason = strings.Join(strings.Fields(reason), " ")
	if reason == "" {
		return fallback
	}
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}
	return reason
}
