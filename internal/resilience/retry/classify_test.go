package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/steady/internal/core/domain"
)

type staticOnline bool

func (s staticOnline) IsOnline() bool { return bool(s) }

func TestIsNetworkError(t *testing.T) {
	c := NewClassifier(staticOnline(true))

	tests := []struct {
		name   string
		err    error
		expect bool
	}{
		{"nil", nil, false},
		{"timedout code", &domain.Error{Code: "ETIMEDOUT", Message: "boom"}, true},
		{"timedout code lowercase", &domain.Error{Code: "etimedout"}, true},
		{"refused code", &domain.Error{Code: domain.CodeConnRefused}, true},
		{"network code", &domain.Error{Code: domain.CodeNetworkError}, true},
		{"wrapped code", fmt.Errorf("load user: %w", &domain.Error{Code: "ETIMEDOUT"}), true},
		{"message network", errors.New("Network request failed"), true},
		{"message fetch", errors.New("Failed to fetch"), true},
		{"message timeout", errors.New("request TIMEOUT"), true},
		{"message connection", errors.New("connection reset by peer"), true},
		{"syscall refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("boom")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), false},
		{"not found", &domain.Error{Status: 404, Message: "missing row"}, false},
		{"server error", &domain.Error{Status: 500, Message: "boom"}, false},
		{"plain", errors.New("permission denied"), false},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		if got := c.IsNetworkError(tt.err); got != tt.expect {
			t.Errorf("%s: IsNetworkError(%v) = %v, want %v", tt.name, tt.err, got, tt.expect)
		}
	}
}

func TestIsNetworkError_TimedOutCodeIgnoresMessage(t *testing.T) {
	c := NewClassifier(staticOnline(true))
	for _, msg := range []string{"", "invalid input", "row not found", "ok"} {
		err := &domain.Error{Code: "ETIMEDOUT", Message: msg, Status: 400}
		if !c.IsNetworkError(err) {
			t.Errorf("expected ETIMEDOUT with message %q to be a network error", msg)
		}
	}
}

func TestIsNetworkError_Offline(t *testing.T) {
	c := NewClassifier(staticOnline(false))
	if !c.IsNetworkError(&domain.Error{Status: 404}) {
		t.Error("expected every error to be a network error while offline")
	}
	if c.IsNetworkError(nil) {
		t.Error("nil must never be a network error")
	}
}

func TestIsRetryable(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		err    error
		expect bool
	}{
		{nil, false},
		{&domain.Error{Status: 408}, true},
		{&domain.Error{Status: 429}, true},
		{&domain.Error{Status: 500}, true},
		{&domain.Error{Status: 502}, true},
		{&domain.Error{Status: 503}, true},
		{&domain.Error{Status: 504}, true},
		{&domain.Error{Status: 400}, false},
		{&domain.Error{Status: 401}, false},
		{&domain.Error{Status: 404}, false},
		{&domain.Error{Status: 501}, false},
		{&domain.Error{Code: "ETIMEDOUT"}, true},
		{status.Error(codes.ResourceExhausted, "slow down"), true},
		{errors.New("duplicate key value"), false},
	}

	for _, tt := range tests {
		if got := c.IsRetryable(tt.err); got != tt.expect {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

func TestKind(t *testing.T) {
	c := NewClassifier(staticOnline(true))

	tests := []struct {
		err    error
		expect ErrorKind
	}{
		{errors.New("connection refused"), KindNetwork},
		{&domain.Error{Status: 503}, KindServer},
		{&domain.Error{Status: 422}, KindClient},
		{errors.New("validation failed"), KindClient},
	}

	for _, tt := range tests {
		if got := c.Kind(tt.err); got != tt.expect {
			t.Errorf("Kind(%v) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}
