package store

import "time"

// EstimateOffset estimates server time minus local time from one round trip:
// the request left at sent, the server answered with serverTime, and the
// answer arrived at received. The server is assumed to have read its clock
// halfway through the round trip.
func EstimateOffset(sent, serverTime, received time.Time) time.Duration {
	midpoint := sent.Add(received.Sub(sent) / 2)
	return serverTime.Sub(midpoint)
}
