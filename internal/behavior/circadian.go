package behavior

import "time"

// energyByHour is the relative alertness of a typical visitor per local hour.
var energyByHour = [24]float64{
	0.30, 0.20, 0.15, 0.10, 0.10, 0.15, 0.30, 0.50,
	0.70, 0.85, 0.95, 1.00, 0.90, 0.85, 0.90, 0.95,
	0.90, 0.85, 0.80, 0.75, 0.70, 0.60, 0.50, 0.40,
}

// Energy returns the alertness for hour, wrapping out-of-range values.
func Energy(hour int) float64 {
	hour %= 24
	if hour < 0 {
		hour += 24
	}
	return energyByHour[hour]
}

// CircadianMultiplier scales durations by time of day. Alert hours sit at
// 1.0; quiet night hours stretch up to 1.45. It is never below one.
func CircadianMultiplier(hour int) float64 {
	return 1.5 - 0.5*Energy(hour)
}

// CircadianMultiplierAt is CircadianMultiplier for the hour of t.
func CircadianMultiplierAt(t time.Time) float64 {
	return CircadianMultiplier(t.Hour())
}
