package codec

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Null values for optional fields.
const (
	NullInt64 int64 = math.MinInt64
	NullInt32 int32 = math.MinInt32
)

// SnapshotMark is the boundary kind of a snapshot marker.
type SnapshotMark int32

const (
	MarkBegin   SnapshotMark = 0
	MarkSection SnapshotMark = 1 // reserved, not produced or accepted
	MarkEnd     SnapshotMark = 2
	MarkNull    SnapshotMark = SnapshotMark(NullInt32)
)

func (m SnapshotMark) String() string {
	switch m {
	case MarkBegin:
		return "BEGIN"
	case MarkSection:
		return "SECTION"
	case MarkEnd:
		return "END"
	case MarkNull:
		return "NULL"
	default:
		return fmt.Sprintf("SnapshotMark(%d)", int32(m))
	}
}

// TimeUnit is the unit of the cluster clock recorded in a snapshot.
type TimeUnit int32

const (
	TimeUnitMillis  TimeUnit = 0
	TimeUnitMicros  TimeUnit = 1
	TimeUnitNanos   TimeUnit = 2
	TimeUnitSeconds TimeUnit = 3
	TimeUnitNull    TimeUnit = TimeUnit(NullInt32)
)

func (u TimeUnit) String() string {
	switch u {
	case TimeUnitMillis:
		return "MILLIS"
	case TimeUnitMicros:
		return "MICROS"
	case TimeUnitNanos:
		return "NANOS"
	case TimeUnitSeconds:
		return "SECONDS"
	case TimeUnitNull:
		return "NULL"
	default:
		return fmt.Sprintf("TimeUnit(%d)", int32(u))
	}
}

// Duration returns the length of one tick in this unit.
// It returns 0 for the null and unknown units.
func (u TimeUnit) Duration() time.Duration {
	switch u {
	case TimeUnitMillis:
		return time.Millisecond
	case TimeUnitMicros:
		return time.Microsecond
	case TimeUnitNanos:
		return time.Nanosecond
	case TimeUnitSeconds:
		return time.Second
	default:
		return 0
	}
}

// ResolveTimeUnit maps the null unit to MILLIS, the unit older producers
// implicitly used. Explicit units pass through unchanged.
func ResolveTimeUnit(u TimeUnit) TimeUnit {
	if u == TimeUnitNull {
		return TimeUnitMillis
	}
	return u
}

// ParseTimeUnit parses a unit name such as "millis" or "NANOS".
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MILLIS", "MILLISECONDS", "MS":
		return TimeUnitMillis, nil
	case "MICROS", "MICROSECONDS", "US":
		return TimeUnitMicros, nil
	case "NANOS", "NANOSECONDS", "NS":
		return TimeUnitNanos, nil
	case "SECONDS", "S":
		return TimeUnitSeconds, nil
	default:
		return TimeUnitNull, fmt.Errorf("codec: unknown time unit %q", s)
	}
}
