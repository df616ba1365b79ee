package netwait

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// dialTimeout bounds a single connection probe
const dialTimeout = time.Second

// ForPort blocks until host:port accepts a TCP connection or the context is
// cancelled. The VPN client opens its local port only once it is up, so this
// gates the whole login flow on the client being ready.
func ForPort(ctx context.Context, host string, port int, pollInterval time.Duration, log *logrus.Logger) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	for {
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			conn.Close()
			log.WithField("addr", addr).Info("Port is open")
			return nil
		}

		log.WithFields(logrus.Fields{
			"addr":     addr,
			"retry_in": pollInterval,
		}).Info("Waiting for port to open")

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
