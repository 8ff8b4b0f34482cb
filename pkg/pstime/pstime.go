// Package pstime provides the timestamp type used for message publish times.
//
// A plain time.Time carries a monotonic reading until it is stripped by
// marshaling, comparison with a non-monotonic value, or similar — after
// which Sub/Before/After silently fall back to wall-clock comparison. For
// publishTime, which is compared against retention deadlines and ack
// deadlines computed at very different points in a program's life, that
// silent fallback is the wrong default: a NTP step between two reads can
// make a published-later message look published-earlier. PreciseDate
// freezes the wall-clock reading at construction and never carries a
// monotonic component, so every comparison is explicit and reproducible.
package pstime

import "time"

// PreciseDate is an immutable, nanosecond-resolution timestamp.
type PreciseDate struct {
	t time.Time
}

// Now returns the PreciseDate for the current instant.
func Now() PreciseDate {
	return New(time.Now())
}

// New strips any monotonic reading from t and returns the resulting PreciseDate.
func New(t time.Time) PreciseDate {
	return PreciseDate{t: t.Round(0)}
}

// FromUnix builds a PreciseDate from seconds and nanoseconds since the Unix
// epoch, matching the google.protobuf.Timestamp wire shape used by the real
// Pub/Sub API.
func FromUnix(seconds int64, nanos int32) PreciseDate {
	return New(time.Unix(seconds, int64(nanos)).UTC())
}

// Time returns the underlying time.Time.
func (d PreciseDate) Time() time.Time { return d.t }

// IsZero reports whether d is the zero value.
func (d PreciseDate) IsZero() bool { return d.t.IsZero() }

// UnixNano returns nanoseconds since the Unix epoch.
func (d PreciseDate) UnixNano() int64 { return d.t.UnixNano() }

// Seconds and Nanos split d into its protobuf Timestamp components.
func (d PreciseDate) Seconds() int64 { return d.t.Unix() }
func (d PreciseDate) Nanos() int32   { return int32(d.t.Nanosecond()) }

// Add returns d advanced by delta.
func (d PreciseDate) Add(delta time.Duration) PreciseDate {
	return New(d.t.Add(delta))
}

// Sub returns the duration d-other.
func (d PreciseDate) Sub(other PreciseDate) time.Duration {
	return d.t.Sub(other.t)
}

func (d PreciseDate) Before(other PreciseDate) bool { return d.t.Before(other.t) }
func (d PreciseDate) After(other PreciseDate) bool   { return d.t.After(other.t) }
func (d PreciseDate) Equal(other PreciseDate) bool   { return d.t.Equal(other.t) }

func (d PreciseDate) String() string {
	return d.t.Format(time.RFC3339Nano)
}

// MarshalJSON / UnmarshalJSON round-trip through RFC3339Nano so precision
// survives serialization, matching the real API's Timestamp representation.
func (d PreciseDate) MarshalJSON() ([]byte, error) {
	return d.t.MarshalJSON()
}

func (d *PreciseDate) UnmarshalJSON(data []byte) error {
	var t time.Time
	if err := t.UnmarshalJSON(data); err != nil {
		return err
	}
	d.t = t.Round(0)
	return nil
}
