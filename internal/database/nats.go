package database

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/HammerMeetNail/bingohall/internal/logging"
)

const (
	natsReconnectWait = 2 * time.Second
	natsConnectWait   = 5 * time.Second
)

type NATSConn struct {
	Conn *nats.Conn
}

var natsConnect = nats.Connect

// NewNATSConn connects with unlimited reconnects; connection state changes are
// logged rather than surfaced, since the bus is advisory.
func NewNATSConn(url string, logger *logging.Logger) (*NATSConn, error) {
	if logger == nil {
		logger = logging.Default
	}
	opts := []nats.Option{
		nats.Name("bingohall"),
		nats.Timeout(natsConnectWait),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			fields := map[string]interface{}{}
			if err != nil {
				fields["error"] = err.Error()
			}
			logger.Warn("NATS disconnected", fields)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", map[string]interface{}{"url": nc.ConnectedUrl()})
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			fields := map[string]interface{}{"error": err.Error()}
			if sub != nil {
				fields["subject"] = sub.Subject
			}
			logger.Error("NATS async error", fields)
		}),
	}

	nc, err := natsConnect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSConn{Conn: nc}, nil
}

func (n *NATSConn) Close() {
	if n.Conn != nil {
		n.Conn.Close()
	}
}

func (n *NATSConn) Health() error {
	if n.Conn == nil || !n.Conn.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}
