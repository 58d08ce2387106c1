package connector

import (
	"log/slog"

	"dlbridge/internal/domain"
)

// lifecycleMonitor observes transport connection-state transitions and
// settles the startup future exactly once: resolved on the first Online,
// rejected on the first ExpiredToken or FailedToConnect. Transitions after
// settlement are logged only.
type lifecycleMonitor struct {
	startup chan error
	logger  *slog.Logger
}

func newLifecycleMonitor(logger *slog.Logger) *lifecycleMonitor {
	return &lifecycleMonitor{
		startup: make(chan error, 1),
		logger:  logger,
	}
}

// Startup is the one-shot startup future.
func (m *lifecycleMonitor) Startup() <-chan error { return m.startup }

// watch consumes state transitions until stop closes. Runs on its own
// goroutine.
func (m *lifecycleMonitor) watch(states <-chan domain.ConnectionState, stop <-chan struct{}) {
	settled := false
	for {
		select {
		case <-stop:
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			m.logger.Debug("connection state", "state", state)
			if settled {
				continue
			}
			switch state {
			case domain.StateOnline:
				settled = true
				m.startup <- nil
			case domain.StateExpiredToken:
				settled = true
				m.startup <- &domain.ConnectionError{Kind: domain.ConnectionTokenExpired}
			case domain.StateFailedToConnect:
				settled = true
				m.startup <- &domain.ConnectionError{Kind: domain.ConnectionFailed}
			case domain.StateEnded:
				settled = true
				m.startup <- &domain.ConnectionError{Kind: domain.ConnectionEnded}
			}
		}
	}
}
