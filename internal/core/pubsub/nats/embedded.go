package nats

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// ErrEmbeddedNotReady is returned when the embedded server does not accept
// connections in time.
var ErrEmbeddedNotReady = errors.New("embedded NATS server not ready for connections")

// Embedded is an in-process JetStream server on a loopback port.
type Embedded struct {
	ns *server.Server
}

// StartEmbedded starts a JetStream server storing streams under storeDir.
// Port -1 picks a free port.
func StartEmbedded(storeDir string, port int, readyTimeout time.Duration) (*Embedded, error) {
	if readyTimeout <= 0 {
		readyTimeout = 5 * time.Second
	}
	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      port,
		JetStream: true,
		StoreDir:  storeDir,
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, ErrEmbeddedNotReady
	}
	return &Embedded{ns: ns}, nil
}

// ClientURL is the URL to hand to NewProvider.
func (e *Embedded) ClientURL() string {
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (e *Embedded) Shutdown() {
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
