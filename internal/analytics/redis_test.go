package analytics

import (
	"testing"
	"time"

	"github.com/sendlater/sendlater/internal/testutil"
)

func TestBuildKeyHourlyBucket(t *testing.T) {
	owner := testutil.MustParseUUID("11111111-2222-3333-4444-555555555555")

	at := time.Date(2025, 6, 1, 14, 35, 12, 0, time.UTC)
	got := buildKey(owner, "sent", at)
	want := "o:11111111-2222-3333-4444-555555555555:sent:2025060114"
	if got != want {
		t.Errorf("buildKey = %q, want %q", got, want)
	}

	// Same hour, different minute: same bucket.
	later := time.Date(2025, 6, 1, 14, 59, 59, 0, time.UTC)
	if buildKey(owner, "sent", later) != want {
		t.Error("expected same bucket within the hour")
	}

	// Non-UTC times normalize to the UTC hour.
	est := time.FixedZone("EST", -5*3600)
	local := time.Date(2025, 6, 1, 9, 35, 0, 0, est)
	if buildKey(owner, "sent", local) != want {
		t.Error("expected local time to map to UTC bucket")
	}
}
