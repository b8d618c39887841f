package relay

import (
	"fmt"
	"time"

	"github.com/hilthontt/watchparty/internal/infrastructure/logging"
	"github.com/nats-io/nats.go"
)

type NatsConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Connect dials NATS and logs the connection's lifecycle.
func Connect(cfg NatsConfig, logger logging.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("watchparty"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			extra := map[logging.ExtraKey]any{}
			if err != nil {
				extra[logging.ErrorMessage] = err.Error()
			}
			logger.Warn(logging.Nats, logging.ExternalService, "disconnected from NATS", extra)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(logging.Nats, logging.ExternalService, "reconnected to NATS", map[logging.ExtraKey]any{
				"url": nc.ConnectedUrl(),
			})
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info(logging.Nats, logging.Shutdown, "NATS connection closed", nil)
		}),
		nats.Timeout(10 * time.Second),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}
