package session

import (
	"context"
	"errors"
	"time"

	"warden/pkg/logging"
)

// startRenewal launches the renewal loop if it is not already running.
func (m *Manager) startRenewal() {
	m.renewMu.Lock()
	defer m.renewMu.Unlock()

	if m.closed || m.renewCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.renewCancel = cancel
	m.renewDone = done

	go m.renewLoop(ctx, done)
}

// stopRenewal cancels the renewal loop without waiting for it, since it may
// be called from the loop itself. It returns the loop's done channel, or nil
// if no loop was running.
func (m *Manager) stopRenewal() <-chan struct{} {
	m.renewMu.Lock()
	defer m.renewMu.Unlock()

	if m.renewCancel == nil {
		return nil
	}
	m.renewCancel()
	done := m.renewDone
	m.renewCancel = nil
	m.renewDone = nil
	return done
}

func (m *Manager) renewLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.RenewInterval)
	defer ticker.Stop()

	logging.Debug("Session", "Renewal loop started (interval %s)", m.cfg.RenewInterval)
	for {
		select {
		case <-ctx.Done():
			logging.Debug("Session", "Renewal loop stopped")
			return
		case <-ticker.C:
			if !m.State().Authenticated() {
				continue
			}
			if !m.store.IsExpired() {
				continue
			}
			logging.Debug("Session", "Access token is within the refresh window, renewing")
			if !m.Refresh(ctx) && ctx.Err() == nil {
				logging.Info("Session", "Background renewal failed, session ended")
			}
		}
	}
}

// watchable is implemented by stores whose backing data can change outside
// this process.
type watchable interface {
	Watch(ctx context.Context, onChange func()) error
}

// ErrWatchUnsupported is returned by WatchStore for stores that cannot
// observe external changes.
var ErrWatchUnsupported = errors.New("credential store does not support watching")

// WatchStore re-runs CheckAuth whenever another process changes the stored
// session, so a login or logout in one terminal is seen by a running
// console. It returns once watching has started; watching stops when ctx
// is done.
func (m *Manager) WatchStore(ctx context.Context) error {
	w, ok := m.store.(watchable)
	if !ok {
		return ErrWatchUnsupported
	}
	return w.Watch(ctx, func() {
		st := m.CheckAuth(ctx)
		logging.Debug("Session", "Credential store changed externally, state is now %s", st.Phase)
	})
}
