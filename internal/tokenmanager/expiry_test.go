package tokenmanager

import (
	"math"
	"testing"
	"time"
)

func TestComputeExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	margin := int64(SafetyMargin / time.Second)

	tests := []struct {
		name      string
		expiresIn int64
		want      time.Time
	}{
		{"typical lifetime", 3600, now.Add(3150 * time.Second)},
		{"lifetime equal to margin", margin, now},
		{"one second above margin", margin + 1, now.Add(time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeExpiry(now, tt.expiresIn); !got.Equal(tt.want) {
				t.Errorf("ComputeExpiry(now, %d) = %v, want %v", tt.expiresIn, got, tt.want)
			}
		})
	}
}

func TestComputeExpiryAboveMargin(t *testing.T) {
	now := time.Unix(1_700_000_000, 123)

	for expiresIn := int64(SafetyMargin / time.Second); expiresIn <= 100_000; expiresIn += 997 {
		want := now.Add(time.Duration(expiresIn)*time.Second - SafetyMargin)
		if got := ComputeExpiry(now, expiresIn); !got.Equal(want) {
			t.Fatalf("ComputeExpiry(now, %d) = %v, want %v", expiresIn, got, want)
		}
	}
}

func TestComputeExpiryBelowMarginIsAlreadyExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	for _, expiresIn := range []int64{-10, 0, 1, 60, 449} {
		got := ComputeExpiry(now, expiresIn)
		if !got.Before(now) {
			t.Errorf("ComputeExpiry(now, %d) = %v, want before %v", expiresIn, got, now)
		}

		record := &TokenRecord{ExpiresAt: got}
		if !record.Expired(now) {
			t.Errorf("record with expires_in %d not treated as expired", expiresIn)
		}
	}
}

func TestComputeExpiryHugeLifetimeDoesNotWrap(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	hundredYears := now.Add(100 * 365 * 24 * time.Hour)

	for _, expiresIn := range []int64{maxLifetime, maxLifetime + 1, 1 << 40, math.MaxInt64} {
		got := ComputeExpiry(now, expiresIn)
		if !got.After(hundredYears) {
			t.Errorf("ComputeExpiry(now, %d) = %v, want far in the future", expiresIn, got)
		}
	}
}
