package query

import (
	"log/slog"

	"github.com/vietddude/steady/internal/network"
)

// Notifier surfaces user-facing notifications.
type Notifier interface {
	// QueryFailed is called on terminal failure of a query that opted in.
	QueryFailed(key string, err error)

	// ConnectivityChanged is called once per offline/online transition.
	ConnectivityChanged(offline bool, state network.State)
}

// LogNotifier writes notifications to slog.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a notifier on l, or slog.Default when l is nil.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{log: l.With("component", "notifier")}
}

func (n *LogNotifier) QueryFailed(key string, err error) {
	n.log.Error("Query failed", "key", key, "error", err)
}

func (n *LogNotifier) ConnectivityChanged(offline bool, state network.State) {
	if offline {
		n.log.Warn("Connection lost, showing cached data",
			"online", state.IsOnline,
			"failed_requests", state.FailedRequests,
		)
		return
	}
	n.log.Info("Connection restored")
}

type nopNotifier struct{}

func (nopNotifier) QueryFailed(string, error)                {}
func (nopNotifier) ConnectivityChanged(bool, network.State) {}
