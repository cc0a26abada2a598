package quota

import "time"

// Window returns the reset window containing now. The window opens at the
// most recent occurrence of offset (time since local midnight) in loc and
// closes at the same wall-clock time on the following calendar day, so a
// window is 23 or 25 hours long across a daylight-saving change.
func Window(now time.Time, loc *time.Location, offset time.Duration) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	hour := int(offset / time.Hour)
	minute := int(offset % time.Hour / time.Minute)
	second := int(offset % time.Minute / time.Second)

	local := now.In(loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, hour, minute, second, 0, loc)
	if start.After(local) {
		start = time.Date(y, m, d-1, hour, minute, second, 0, loc)
	}
	sy, sm, sd := start.Date()
	end := time.Date(sy, sm, sd+1, hour, minute, second, 0, loc)
	return start, end
}
