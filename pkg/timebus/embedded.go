package timebus

import (
	"fmt"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
)

// EmbeddedConfig configures an in-process NATS server.
type EmbeddedConfig struct {
	Host string
	// Port -1 picks a random free port.
	Port int
	// ReadyTimeout bounds the wait for client connections to be accepted.
	ReadyTimeout time.Duration
}

// RunEmbeddedServer starts an in-process NATS server and waits until it
// accepts connections. Callers own Shutdown.
func RunEmbeddedServer(cfg EmbeddedConfig) (*natssrv.Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = -1
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}

	s, err := natssrv.NewServer(&natssrv.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded nats: %w", err)
	}
	go s.Start()
	if !s.ReadyForConnections(cfg.ReadyTimeout) {
		s.Shutdown()
		return nil, fmt.Errorf("embedded nats not ready after %v", cfg.ReadyTimeout)
	}
	return s, nil
}
