package services

import (
	"context"
	"fmt"
	"log/slog"
)

// Start begins consuming requests and serving HTTP and gRPC. Cancelling
// bgCtx stops request intake; call Shutdown to release everything.
func (m *Manager) Start(bgCtx context.Context) error {
	ctx, cancel := context.WithCancel(bgCtx)
	m.cancel = cancel

	if err := m.service.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start request service: %w", err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.Start(ctx); err != nil {
			slog.Error("Server stopped with error", "error", err)
			m.server.SetServing("", false)
		}
	}()

	m.server.SetServing("", true)
	slog.Info("Nodestream started",
		"identity", m.cfg.Engine.Identity,
		"transport", m.cfg.Transport.Provider,
		"storage", m.cfg.Storage.Backend,
	)
	return nil
}
