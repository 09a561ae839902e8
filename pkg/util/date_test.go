package util

import (
    "testing"
    "time"
)

func TestAlignDayRange(t *testing.T) {
    from := time.Date(2024, 10, 10, 13, 45, 11, 0, time.UTC)
    to := time.Date(2024, 10, 12, 1, 2, 3, 0, time.UTC)
    af, at := AlignDayRange(from, to)
    if af.Hour() != 0 || af.Minute() != 0 || af.Second() != 0 {
        t.Fatalf("from not aligned: %v", af)
    }
    if at.Hour() != 0 || !at.Before(to) {
        t.Fatalf("to not aligned: %v", at)
    }
    if af.Day() != 10 || at.Day() != 12 {
        t.Fatalf("unexpected days %v %v", af, at)
    }
}

func TestAlignDayRangeIdempotent(t *testing.T) {
    from := time.Date(2024, 10, 10, 6, 0, 0, 0, time.UTC)
    to := time.Date(2024, 10, 12, 18, 30, 0, 0, time.UTC)
    af, at := AlignDayRange(from, to)
    af2, at2 := AlignDayRange(af, at)
    if !af.Equal(af2) || !at.Equal(at2) {
        t.Fatalf("alignment not idempotent: %v %v vs %v %v", af, at, af2, at2)
    }
}
