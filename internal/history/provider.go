// Package history supplies a user's access baseline (last location, known
// devices and countries, typical hours) for context evaluation, and records
// granted accesses back into that baseline.
package history

import (
	"context"
	"time"

	"opensase/access-plane/internal/accessctx"
)

// Provider loads and updates per-user access baselines. History returns an empty
// baseline, not an error, for users never seen before.
type Provider interface {
	History(ctx context.Context, userID string) (*accessctx.UserHistory, error)
	RecordAccess(ctx context.Context, userID, deviceID string, geo *accessctx.GeoLocation, at time.Time) error
}
