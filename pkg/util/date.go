package util

import (
    "time"
)

// AlignDayRange rounds a [from, to] range down to UTC day boundaries.
// History fetches use whole days so repeated runs hit identical windows.
func AlignDayRange(from, to time.Time) (time.Time, time.Time) {
    from = from.UTC().Truncate(24 * time.Hour)
    to = to.UTC().Truncate(24 * time.Hour)
    return from, to
}
