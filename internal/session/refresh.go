package session

import (
	"context"
	"time"
)

// DefaultRefreshInterval is how often connected devices are polled for battery levels.
const DefaultRefreshInterval = 120 * time.Second

// RunRefresher calls RefreshBatteryForConnected every interval until ctx is done.
// A non-positive interval disables polling and returns immediately.
func (c *Controller) RunRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		c.logger.Debug("Battery refresh disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RefreshBatteryForConnected()
		}
	}
}
