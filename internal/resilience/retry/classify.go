package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/steady/internal/core/domain"
)

// ErrorKind is the error taxonomy used for retry decisions.
type ErrorKind int

const (
	KindClient  ErrorKind = iota // never retried
	KindServer                   // 408/429/5xx, retried
	KindNetwork                  // offline, timeout, transport, retried
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	default:
		return "client"
	}
}

var networkCodes = map[string]bool{
	domain.CodeNetworkError: true,
	domain.CodeConnRefused:  true,
	domain.CodeTimedOut:     true,
}

var networkHints = []string{"network", "fetch", "timeout", "connection"}

var retryableStatus = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// OnlineReporter exposes the current connectivity flag.
type OnlineReporter interface {
	IsOnline() bool
}

// Classifier holds the predicates used by the executor. The only state it reads is
// the connectivity flag.
type Classifier struct {
	network OnlineReporter
}

// NewClassifier creates a classifier. A nil reporter means always online.
func NewClassifier(network OnlineReporter) Classifier {
	return Classifier{network: network}
}

// IsNetworkError reports whether err is a connectivity problem.
func (c Classifier) IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if c.network != nil && !c.network.IsOnline() {
		return true
	}
	return IsTransportError(err)
}

// IsRetryable reports whether err is worth another attempt.
func (c Classifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if c.IsNetworkError(err) {
		return true
	}
	return retryableStatus[StatusOf(err)]
}

// Kind buckets err into the taxonomy.
func (c Classifier) Kind(err error) ErrorKind {
	switch {
	case c.IsNetworkError(err):
		return KindNetwork
	case retryableStatus[StatusOf(err)]:
		return KindServer
	default:
		return KindClient
	}
}

// ShouldRetry adapts IsRetryable to Config.ShouldRetry.
func (c Classifier) ShouldRetry(err error, _ int) bool {
	return c.IsRetryable(err)
}

// IsTransportError reports network failures independent of the connectivity flag:
// well-known codes, message hints, and low-level transport errors.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}

	if de, ok := domain.AsError(err); ok && networkCodes[strings.ToUpper(de.Code)] {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range networkHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded:
			return true
		}
	}
	return false
}

// StatusOf extracts an HTTP-like status from err, or 0.
func StatusOf(err error) int {
	if de, ok := domain.AsError(err); ok && de.Status != 0 {
		return de.Status
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return 429
		case codes.Internal, codes.Unknown:
			return 500
		}
	}
	return 0
}
