package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid argument", E(CodeInvalidArgument, "op", "bad", nil), http.StatusBadRequest},
		{"forbidden", E(CodeForbidden, "op", "no", nil), http.StatusForbidden},
		{"upstream", E(CodeUpstream, "op", "patreon down", errors.New("x")), http.StatusBadGateway},
		{"wrapped app error", fmt.Errorf("outer: %w", E(CodeNotFound, "op", "missing", nil)), http.StatusNotFound},
		{"sentinel not found", fmt.Errorf("repo: %w", ErrNotFound), http.StatusNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSafeMessageHidesCause(t *testing.T) {
	err := E(CodeInternal, "ProfileService.GetMe", "failed to load profile", errors.New("pq: password authentication failed"))
	if got := SafeMessage(err); got != "failed to load profile" {
		t.Errorf("SafeMessage() = %q", got)
	}
	if got := SafeMessage(errors.New("secret detail")); got != http.StatusText(http.StatusInternalServerError) {
		t.Errorf("SafeMessage(plain) = %q", got)
	}
}

func TestAppErrorString(t *testing.T) {
	err := E(CodeInternal, "Op", "msg", errors.New("cause"))
	if got := err.Error(); got != "Op: msg: cause" {
		t.Errorf("Error() = %q", got)
	}
	if got := E(CodeNotFound, "Op", "", nil).Error(); got != "Op: NOT_FOUND" {
		t.Errorf("Error() = %q", got)
	}
}
