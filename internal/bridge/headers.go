package bridge

import (
	"net/http"
	"strconv"
	"strings"
)

// UsageHeaderSnapshot is the parsed form of the upstream usage headers
// described in spec §6, ready to hand to a metrics sink.
type UsageHeaderSnapshot struct {
	PrimaryUsedPercent          float64
	PrimaryResetAfterSeconds    float64
	PrimaryWindowMinutes        float64
	SecondaryUsedPercent        float64
	SecondaryResetAfterSeconds  float64
	SecondaryWindowMinutes      float64
	PrimaryOverSecondaryPercent float64
	HasPrimary                  bool
	HasSecondary                bool
}

// SnapshotUsageHeaders scans headers for the lower-cased
// "x-...-primary-*"/"x-...-secondary-*" usage headers and returns a
// snapshot if any numeric values were present. Header name matching is
// suffix-based, since the vendor prefix is not itself part of this
// specification.
func SnapshotUsageHeaders(headers http.Header) (UsageHeaderSnapshot, bool) {
	var snap UsageHeaderSnapshot

	found := false

	for name, values := range headers {
		if len(values) == 0 {
			continue
		}

		lower := strings.ToLower(name)

		n, err := strconv.ParseFloat(values[0], 64)
		if err != nil {
			continue
		}

		switch {
		case strings.Contains(lower, "primary-used-percent"):
			snap.PrimaryUsedPercent = n
			snap.HasPrimary = true
			found = true
		case strings.Contains(lower, "primary-reset-after-seconds"):
			snap.PrimaryResetAfterSeconds = n
			snap.HasPrimary = true
			found = true
		case strings.Contains(lower, "primary-window-minutes"):
			snap.PrimaryWindowMinutes = n
			snap.HasPrimary = true
			found = true
		case strings.Contains(lower, "primary-over-secondary-limit-percent"):
			snap.PrimaryOverSecondaryPercent = n
			found = true
		case strings.Contains(lower, "secondary-used-percent"):
			snap.SecondaryUsedPercent = n
			snap.HasSecondary = true
			found = true
		case strings.Contains(lower, "secondary-reset-after-seconds"):
			snap.SecondaryResetAfterSeconds = n
			snap.HasSecondary = true
			found = true
		case strings.Contains(lower, "secondary-window-minutes"):
			snap.SecondaryWindowMinutes = n
			snap.HasSecondary = true
			found = true
		}
	}

	return snap, found
}
