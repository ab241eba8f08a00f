package compliance

// Regulation 561/2006 thresholds in minutes. These are fixed by law.
const (
	MaxContinuousDriving = 270 // 4h30 before a qualifying break
	FullBreak            = 45
	SplitBreakFirst      = 15
	SplitBreakSecond     = 30

	DailyDrivingLimit   = 9 * 60
	ExtendedDailyLimit  = 10 * 60
	MaxExtendedDays     = 2
	WeeklyDrivingLimit  = 56 * 60
	FortnightDrivingCap = 90 * 60
	FortnightWindowDays = 14
	RegularDailyRest    = 11 * 60
	ReducedDailyRest    = 9 * 60
)
