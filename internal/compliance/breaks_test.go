package compliance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBreakDetectorReportsContinuousDrivingOnce(t *testing.T) {
	start := at(t, "2024-05-06T06:00:00Z")
	violations := DetectBreakViolations(chain(start, drive(300)))

	require.Len(t, violations, 1)
	require.Equal(t, 300, violations[0].DrivingMinutes)
	require.Equal(t, at(t, "2024-05-06T11:00:00Z"), violations[0].At)
	require.Equal(t, BreakViolationMessage, violations[0].Message)
}

func TestBreakDetectorResetsToLimitAfterViolation(t *testing.T) {
	start := at(t, "2024-05-06T06:00:00Z")
	violations := DetectBreakViolations(chain(start, drive(300), work(20), drive(60)))

	require.Len(t, violations, 2)
	require.Equal(t, 300, violations[0].DrivingMinutes)
	require.Equal(t, 330, violations[1].DrivingMinutes)
}

func TestBreakDetectorAcceptsSplitBreak(t *testing.T) {
	start := at(t, "2024-05-06T06:00:00Z")
	segments := chain(start, drive(120), rest(15), drive(120), rest(30), drive(270))

	require.Empty(t, DetectBreakViolations(segments))
}

func TestBreakDetectorRejectsReversedSplitBreak(t *testing.T) {
	start := at(t, "2024-05-06T06:00:00Z")
	segments := chain(start, drive(120), rest(30), drive(120), rest(15), drive(240))

	violations := DetectBreakViolations(segments)
	require.Len(t, violations, 1)
	require.Equal(t, 480, violations[0].DrivingMinutes)
}

func TestBreakDetectorLateSplitBreakStillResets(t *testing.T) {
	start := at(t, "2024-05-06T06:00:00Z")
	segments := chain(start, drive(240), rest(15), drive(120), rest(30), drive(240))

	violations := DetectBreakViolations(segments)
	require.Len(t, violations, 1)
	require.Equal(t, 360, violations[0].DrivingMinutes)
}

func TestBreakDetectorFullBreak(t *testing.T) {
	start := at(t, "2024-05-06T06:00:00Z")
	require.Empty(t, DetectBreakViolations(chain(start, drive(240), rest(45), drive(240))))
}

func TestBreakDetectorFullBreakClearsPendingCredit(t *testing.T) {
	start := at(t, "2024-05-06T06:00:00Z")
	// The 30 minute rest would only complete a split break if the 15 minute
	// credit were still pending after the 45 minute break.
	segments := chain(start, drive(60), rest(15), drive(60), rest(50), drive(200), rest(30), drive(100))

	violations := DetectBreakViolations(segments)
	require.Len(t, violations, 1)
	require.Equal(t, 300, violations[0].DrivingMinutes)
}

func TestBreakDetectorIgnoresShortRestAndOtherWork(t *testing.T) {
	start := at(t, "2024-05-06T06:00:00Z")
	violations := DetectBreakViolations(chain(start, drive(240), rest(10), avail(30), work(60), drive(60)))

	require.Len(t, violations, 1)
	require.Equal(t, 300, violations[0].DrivingMinutes)
}
