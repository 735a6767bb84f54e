package timeval

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrUnsupportedTimestamp indicates a value that cannot be interpreted as a point in time.
var ErrUnsupportedTimestamp = errors.New("timeval: unsupported timestamp value")

var textLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Instant is a point in time normalized from the loosely typed
// timestamp spellings found in store documents: an ISO-8601 string, a
// {seconds, nanoseconds} record, a numeric epoch, or a native time
// value. Normalization happens once at the decoding boundary so
// consumers compare instants, never raw field values.
type Instant struct {
	value time.Time
	known bool
}

// FromTime wraps a native time value.
func FromTime(value time.Time) Instant {
	return Instant{value: value.UTC(), known: true}
}

// Parse normalizes any supported timestamp spelling into an Instant.
func Parse(raw any) (Instant, error) {
	switch value := raw.(type) {
	case nil:
		return Instant{}, fmt.Errorf("%w: nil", ErrUnsupportedTimestamp)
	case Instant:
		return value, nil
	case time.Time:
		return FromTime(value), nil
	case string:
		return parseText(value)
	case map[string]any:
		return parseSecondsRecord(value)
	case float64:
		return fromEpochSeconds(value), nil
	case int64:
		return fromEpochSeconds(float64(value)), nil
	case int:
		return fromEpochSeconds(float64(value)), nil
	default:
		return Instant{}, fmt.Errorf("%w: %T", ErrUnsupportedTimestamp, raw)
	}
}

func parseText(value string) (Instant, error) {
	for _, layout := range textLayouts {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			return FromTime(parsed), nil
		}
	}
	return Instant{}, fmt.Errorf("%w: %q", ErrUnsupportedTimestamp, value)
}

func parseSecondsRecord(record map[string]any) (Instant, error) {
	seconds, ok := numericField(record, "seconds", "_seconds")
	if !ok {
		return Instant{}, fmt.Errorf("%w: record without seconds field", ErrUnsupportedTimestamp)
	}
	nanos, _ := numericField(record, "nanoseconds", "_nanoseconds", "nanos")
	return FromTime(time.Unix(int64(seconds), int64(nanos))), nil
}

func numericField(record map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		raw, present := record[key]
		if !present {
			continue
		}
		switch value := raw.(type) {
		case float64:
			return value, true
		case int64:
			return float64(value), true
		case int:
			return float64(value), true
		}
	}
	return 0, false
}

func fromEpochSeconds(seconds float64) Instant {
	whole, fraction := math.Modf(seconds)
	return FromTime(time.Unix(int64(whole), int64(fraction*float64(time.Second))))
}

// Time exposes the normalized UTC time value.
func (i Instant) Time() time.Time {
	return i.value
}

// Known reports whether the instant carries a parsed value.
func (i Instant) Known() bool {
	return i.known
}

// EpochMillis exposes the instant as milliseconds since the unix epoch.
func (i Instant) EpochMillis() int64 {
	if !i.known {
		return 0
	}
	return i.value.UnixMilli()
}

// Before reports whether i is strictly earlier than other.
func (i Instant) Before(other Instant) bool {
	return Compare(i, other) < 0
}

// MarshalJSON renders the instant as an ISO-8601 string, or null when
// no value was ever parsed.
func (i Instant) MarshalJSON() ([]byte, error) {
	if !i.known {
		return []byte("null"), nil
	}
	return json.Marshal(i.value.Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts any supported timestamp spelling, so decoding
// a store document normalizes its timestamp fields in one place.
func (i *Instant) UnmarshalJSON(raw []byte) error {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	if decoded == nil {
		*i = Instant{}
		return nil
	}
	parsed, err := Parse(decoded)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Compare orders two instants by their normalized epoch; unknown
// instants sort before every known one and equal to each other.
func Compare(a, b Instant) int {
	if !a.known || !b.known {
		switch {
		case a.known == b.known:
			return 0
		case b.known:
			return -1
		default:
			return 1
		}
	}
	switch {
	case a.EpochMillis() < b.EpochMillis():
		return -1
	case a.EpochMillis() > b.EpochMillis():
		return 1
	default:
		return 0
	}
}
