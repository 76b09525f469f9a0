// Package bar defines the base data model (Bar, Timeframe) and the pure
// timeframe arithmetic used throughout the pipeline: bucket id and bucket
// start are both derived from integer epoch-minute division so that
// daylight-saving transitions never perturb bucket boundaries. UTC is the
// only accepted reference, as required by the spec.
package bar

import (
	"fmt"
	"time"
)

// Timeframe is a closed enum of supported timeframes, each carrying its
// duration in minutes.
type Timeframe int

const (
	M1 Timeframe = iota
	M5
	M15
	H1
	H4
	D1
)

// Minutes returns the timeframe's duration in minutes.
func (tf Timeframe) Minutes() int64 {
	switch tf {
	case M1:
		return 1
	case M5:
		return 5
	case M15:
		return 15
	case H1:
		return 60
	case H4:
		return 240
	case D1:
		return 1440
	default:
		panic(fmt.Sprintf("bar: unknown timeframe %d", tf))
	}
}

// String renders the conventional label, used in metric labels and ids.
func (tf Timeframe) String() string {
	switch tf {
	case M1:
		return "M1"
	case M5:
		return "M5"
	case M15:
		return "M15"
	case H1:
		return "H1"
	case H4:
		return "H4"
	case D1:
		return "D1"
	default:
		return "UNKNOWN"
	}
}

// ParseTimeframe maps a label back to a Timeframe.
func ParseTimeframe(label string) (Timeframe, bool) {
	switch label {
	case "M1":
		return M1, true
	case "M5":
		return M5, true
	case "M15":
		return M15, true
	case "H1":
		return H1, true
	case "H4":
		return H4, true
	case "D1":
		return D1, true
	default:
		return 0, false
	}
}

// epochMinutes returns the number of whole minutes since the Unix epoch,
// computed purely from integer arithmetic on the UTC instant so that the
// result is immune to DST and immune to platform time-zone databases.
func epochMinutes(ts time.Time) int64 {
	return ts.UTC().Unix() / 60
}

// BucketID returns the bucket index of ts at timeframe tf: the whole
// number of tf-sized buckets since the epoch.
func BucketID(ts time.Time, tf Timeframe) int64 {
	return epochMinutes(ts) / tf.Minutes()
}

// BucketStart returns the UTC instant at which the bucket containing ts
// began.
func BucketStart(ts time.Time, tf Timeframe) time.Time {
	id := BucketID(ts, tf)
	return time.Unix(id*tf.Minutes()*60, 0).UTC()
}

// IsBoundary reports whether ts falls exactly on a bucket boundary for
// tf (i.e. ts == BucketStart(ts, tf), to the second).
func IsBoundary(ts time.Time, tf Timeframe) bool {
	return ts.UTC().Truncate(time.Second).Equal(BucketStart(ts, tf))
}
