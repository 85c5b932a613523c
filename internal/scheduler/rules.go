package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
)

// Day is the period after which policy and reports are refreshed
// regardless of changes.
const Day = 24 * time.Hour

// ShouldSyncPolicy reports whether the policy is due for a refresh.
func ShouldSyncPolicy(connected bool, last, now time.Time) bool {
	if !connected {
		return false
	}
	return last.IsZero() || now.Sub(last) >= Day
}

// ShouldReport reports whether a result is due for delivery: nothing was
// reported yet, the last report is a day old, or the result changed.
func ShouldReport(last, now time.Time, prev, next map[string]any) bool {
	if last.IsZero() || now.Sub(last) >= Day {
		return true
	}
	return ResultsDiffer(prev, next)
}

// ResultsDiffer compares two flattened results key by key.
func ResultsDiffer(prev, next map[string]any) bool {
	return !cmp.Equal(prev, next)
}

// Flatten turns a result into the generic map form stored as the last
// reported result, so fresh and stored results compare alike.
func Flatten(result compliance.ScanResult) (map[string]any, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("flatten result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("flatten result: %w", err)
	}
	return out, nil
}

// Countdown drives the scan button.
type Countdown struct {
	// Remaining whole minutes of the fresh window.
	Remaining        int    `json:"remaining"`
	Fresh            bool   `json:"fresh"`
	ActionLabel      string `json:"actionLabel"`
	ReportNowEnabled bool   `json:"reportNowEnabled"`
	RescanAllowed    bool   `json:"rescanAllowed"`
}

// ComputeCountdown derives the button state from the last scan time. A
// result stays fresh while no more than window has elapsed, counted in
// whole minutes.
func ComputeCountdown(lastScan, now time.Time, window time.Duration) Countdown {
	windowMin := int(window / time.Minute)
	if lastScan.IsZero() {
		return Countdown{ActionLabel: "Scan", RescanAllowed: true}
	}
	elapsedMin := int(now.Sub(lastScan) / time.Minute)
	if elapsedMin < 0 {
		elapsedMin = 0
	}
	if elapsedMin > windowMin {
		return Countdown{ActionLabel: "Re-Scan", RescanAllowed: true}
	}
	return Countdown{
		Remaining:        windowMin - elapsedMin,
		Fresh:            true,
		ActionLabel:      "Scan",
		ReportNowEnabled: true,
	}
}
