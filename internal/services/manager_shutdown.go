package services

import (
	"context"
	"log/slog"
)

// Shutdown stops every component in reverse dependency order. Replies
// for requests already taken by workers are still sent.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.server != nil {
		m.server.SetServing("", false)
		if err := m.server.Stop(ctx); err != nil {
			slog.Warn("Error stopping server", "error", err)
		}
	}
	if m.gateway != nil {
		if err := m.gateway.Close(); err != nil {
			slog.Warn("Error closing gateway", "error", err)
		}
	}

	if m.cancel != nil {
		m.cancel()
	}
	done := make(chan struct{})
	go func() {
		if m.service != nil && m.cancel != nil {
			m.service.Wait()
		}
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Timeout waiting for request workers")
	}

	if m.dispatcher != nil {
		if err := m.dispatcher.Close(ctx); err != nil {
			slog.Warn("Notifications dropped at shutdown", "error", err)
		}
	}
	if m.outbox != nil {
		_ = m.outbox.Close()
	}
	if m.store != nil {
		if err := m.store.Close(ctx); err != nil {
			slog.Warn("Error closing item store", "error", err)
		}
	}
	if m.provider != nil {
		if err := m.provider.Close(); err != nil {
			slog.Warn("Error closing transport", "error", err)
		}
	}
	if m.embedded != nil {
		m.embedded.Shutdown()
	}
	slog.Info("Nodestream stopped")
}
