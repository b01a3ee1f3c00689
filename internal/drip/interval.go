package drip

import "time"

const secondsPerDay = 86400

// Float64er is satisfied by *rand.Rand.
type Float64er interface {
	Float64() float64
}

// Interval draws a uniform number of days in [minDays, maxDays] and converts
// it to whole seconds, truncating.
func Interval(src Float64er, minDays, maxDays float64) time.Duration {
	if maxDays < minDays {
		minDays, maxDays = maxDays, minDays
	}
	days := minDays
	if maxDays > minDays {
		days += src.Float64() * (maxDays - minDays)
	}
	return time.Duration(int64(days*secondsPerDay)) * time.Second
}

// NextDue adds iv to now at one-second resolution.
func NextDue(now time.Time, iv time.Duration) time.Time {
	return time.Unix(now.Unix()+int64(iv/time.Second), 0).UTC()
}
