package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvaluateEmptyTimeline(t *testing.T) {
	report := Evaluate(nil)

	require.Nil(t, report.PeriodStart)
	require.Nil(t, report.PeriodEnd)
	require.NotNil(t, report.Daily)
	require.Empty(t, report.Daily)
	require.Empty(t, report.Weekly)
	require.Empty(t, report.BreakViolations)
	require.Empty(t, report.FortnightViolations)
	require.Contains(t, report.Notes, NoteNoActivityFound)
	require.True(t, report.Compliant())
}

func TestEvaluateAssemblesAllChecks(t *testing.T) {
	monday := at(t, "2024-05-06T05:00:00Z")
	var timeline []ActivitySegment
	timeline = append(timeline, chain(monday, drive(270), rest(45), drive(270), rest(45), drive(110), rest(11*60))...)
	timeline = append(timeline, chain(monday.AddDate(0, 0, 1), drive(300), rest(600))...)

	report := Evaluate(timeline)

	require.Equal(t, date(2024, time.May, 6), *report.PeriodStart)
	require.Equal(t, date(2024, time.May, 7), *report.PeriodEnd)
	require.Len(t, report.Daily, 2)

	monday650 := report.Daily[0]
	require.Equal(t, 650, monday650.DrivingMinutes)
	require.NotEmpty(t, monday650.DrivingViolation)
	require.Equal(t, RestOK, monday650.RestFlag)

	tuesday := report.Daily[1]
	require.Equal(t, 300, tuesday.DrivingMinutes)
	require.Equal(t, RestReduced, tuesday.RestFlag)

	require.Len(t, report.Weekly, 1)
	require.Equal(t, 950, report.Weekly[0].DrivingMinutes)
	require.Len(t, report.BreakViolations, 1)
	require.Empty(t, report.FortnightViolations)
	require.Equal(t, []string{NoteBestEffort, NoteCalendarDays, NoteNoDutyCycle}, report.Notes)
	require.Equal(t, 2, report.ViolationCount())
	require.False(t, report.Compliant())
}

func TestEvaluateDoesNotMutateInput(t *testing.T) {
	start := at(t, "2024-05-06T06:00:30Z")
	timeline := []ActivitySegment{
		{Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour), Kind: KindRest},
		{Start: start, End: start.Add(2 * time.Hour), Kind: KindDriving},
		{Start: start, End: start.Add(time.Hour), Kind: KindUnknown},
	}
	snapshot := append([]ActivitySegment(nil), timeline...)

	report := Evaluate(timeline)

	require.Equal(t, snapshot, timeline)
	require.Equal(t, 120, report.Daily[0].DrivingMinutes)
}

func TestEvaluateDropsInvalidSegments(t *testing.T) {
	start := at(t, "2024-05-06T06:00:00Z")
	report := Evaluate([]ActivitySegment{
		{Start: start, End: start, Kind: KindDriving},
		{Start: start, End: start.Add(-time.Hour), Kind: KindDriving},
		{Start: start, End: start.Add(10 * time.Hour), Kind: KindUnknown},
	})
	require.Empty(t, report.Daily)
	require.Contains(t, report.Notes, NoteNoActivityFound)
}

func TestEvaluateDeduplicatesMergedSources(t *testing.T) {
	start := at(t, "2024-05-06T06:00:00Z")
	seg := ActivitySegment{Start: start, End: start.Add(4 * time.Hour), Kind: KindDriving}
	report := Evaluate([]ActivitySegment{seg, seg, seg})

	require.Equal(t, 240, report.Daily[0].DrivingMinutes)
	require.Empty(t, report.BreakViolations)
}

func TestWeeklyTotalsRederiveFromDailyList(t *testing.T) {
	var timeline []ActivitySegment
	day := at(t, "2024-04-29T04:00:00Z")
	for i := 0; i < 20; i++ {
		timeline = append(timeline, chain(day.AddDate(0, 0, i), drive(250), rest(45), drive(200+i*7), rest(11*60))...)
	}
	report := Evaluate(timeline)

	days, weeks := AggregateWeekly(report.Daily)
	require.Equal(t, report.Weekly, weeks)
	require.Equal(t, report.Daily, days)
}
