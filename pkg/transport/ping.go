package transport

import (
	"context"
	"time"

	"nhooyr.io/websocket"
)

// Keepalive defaults for long-lived websockets.
const (
	DefaultPingInterval = 20 * time.Second
	DefaultPingTimeout  = 5 * time.Second
)

// StartPing pings conn every interval until ctx is done. A non-positive
// interval disables it.
func StartPing(ctx context.Context, conn *websocket.Conn, interval, timeout time.Duration) {
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, timeout)
				_ = conn.Ping(pingCtx)
				cancel()
			}
		}
	}()
}
