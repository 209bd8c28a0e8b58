package catalog

import "time"

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// CarveWindows cuts a published working window into back-to-back slot
// windows of the given duration. Windows that would start at or before now
// are skipped; a trailing remainder shorter than duration is dropped.
//
// All times are expected to be in the same location (timezone).
func CarveWindows(work Window, duration time.Duration, now time.Time) []Window {
	if duration <= 0 {
		return nil
	}
	if !work.End.After(work.Start) {
		return nil
	}

	var out []Window
	for t := work.Start; !t.Add(duration).After(work.End); t = t.Add(duration) {
		if !t.After(now) {
			continue
		}
		out = append(out, Window{Start: t, End: t.Add(duration)})
	}
	return out
}
