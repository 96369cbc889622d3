package tokenmanager

import (
	"math"
	"time"
)

// SafetyMargin is subtracted from every provider-reported lifetime so the token is
// refreshed well before the provider invalidates it.
const SafetyMargin = 450 * time.Second

// maxLifetime is the longest lifetime in seconds a time.Duration can hold.
const maxLifetime = math.MaxInt64 / int64(time.Second)

// ComputeExpiry returns the absolute instant at which a token issued at now with a
// lifetime of expiresIn seconds must be treated as expired.
// Lifetimes not longer than SafetyMargin yield an instant that is not after now,
// which means the token is due for refresh immediately. Negative lifetimes count as
// zero and lifetimes beyond maxLifetime are clamped.
func ComputeExpiry(now time.Time, expiresIn int64) time.Time {
	expiresIn = min(max(expiresIn, 0), maxLifetime)
	return now.Add(time.Duration(expiresIn)*time.Second - SafetyMargin)
}
