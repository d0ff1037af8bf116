package execution

import (
	"context"
	"time"
)

// wsConfirmTimeout bounds how long confirmOrder waits on a single websocket
// update before falling back to polling.
var wsConfirmTimeout = 2 * time.Second

// pollInterval is the REST polling cadence once the websocket path gives up.
var pollInterval = 200 * time.Millisecond

// confirmOrder waits for orderID on venue to reach a terminal status,
// first via a short websocket-backed wait, then by polling the venue's
// order cache, finally forcing one REST refresh. overallTimeout
// bounds the whole call; the context passed by the caller should already
// carry a deadline no later than that.
func confirmOrder(ctx context.Context, venue VenueClient, orderID string, overallTimeout time.Duration, wsNotify <-chan struct{}) (*OrderInfo, error) {
	deadline := time.Now().Add(overallTimeout)

	wsCtx, cancel := context.WithTimeout(ctx, minDuration(wsConfirmTimeout, overallTimeout))
	defer cancel()

	select {
	case <-wsNotify:
		info, err := venue.GetOrderInfo(ctx, orderID, false)
		if err == nil && info != nil && info.Status.IsTerminal() {
			return info, nil
		}
	case <-wsCtx.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			info, err := venue.GetOrderInfo(ctx, orderID, false)
			if err == nil && info != nil && info.Status.IsTerminal() {
				return info, nil
			}
		}
	}

	info, err := venue.GetOrderInfo(ctx, orderID, true)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
