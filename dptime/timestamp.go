package dptime

import "time"

// Timestamp is a millisecond-resolution instant,
// stored as milliseconds since the Unix epoch.
//
// All consensus scheduling math operates on Timestamp values
// rather than [time.Time], so that every node computing
// an expected mining time arrives at the identical integer.
type Timestamp int64

// At converts t to a Timestamp, truncating to millisecond resolution.
func At(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Now returns the current wall clock as a Timestamp.
func Now() Timestamp {
	return At(time.Now())
}

// Add returns the timestamp ms milliseconds after ts.
func (ts Timestamp) Add(ms int64) Timestamp {
	return ts + Timestamp(ms)
}

// Sub returns the number of milliseconds from o to ts.
func (ts Timestamp) Sub(o Timestamp) int64 {
	return int64(ts - o)
}

func (ts Timestamp) Before(o Timestamp) bool {
	return ts < o
}

func (ts Timestamp) After(o Timestamp) bool {
	return ts > o
}

// AsTime converts the timestamp back to a [time.Time] in UTC.
func (ts Timestamp) AsTime() time.Time {
	return time.UnixMilli(int64(ts)).UTC()
}

// String renders the timestamp as RFC 3339 with millisecond precision,
// which keeps log output readable without losing resolution.
func (ts Timestamp) String() string {
	return ts.AsTime().Format("2006-01-02T15:04:05.000Z07:00")
}
