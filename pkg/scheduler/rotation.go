package scheduler

import (
	"math"
	"time"
)

// ActiveGroup computes which group owns the given UTC hour. The day is cut
// into equal windows of 24/groups hours and the hour is mapped onto them by
// rounding, so window boundaries sit halfway between window starts.
func ActiveGroup(hour, groups int) int {
	if groups < 1 {
		return 0
	}
	width := 24.0 / float64(groups)
	return int(math.Round(float64(hour)/width)) % groups
}

// NextTransition returns the earliest UTC hour boundary after now at which
// ActiveGroup changes. With a single group there is no transition and the
// same time next day is returned.
func NextTransition(now time.Time, groups int) time.Time {
	current := ActiveGroup(now.UTC().Hour(), groups)
	base := now.UTC().Truncate(time.Hour)
	for i := 1; i <= 24; i++ {
		next := base.Add(time.Duration(i) * time.Hour)
		if ActiveGroup(next.Hour(), groups) != current {
			return next
		}
	}
	return base.Add(24 * time.Hour)
}
