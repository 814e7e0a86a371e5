// Package timeutil provides binary encoding helpers for wall-clock
// timestamps embedded in on-disk records.
package timeutil

import (
	"encoding/binary"
	"fmt"
	"time"
)

// TimestampSize is the size of a serialized timestamp in bytes.
const TimestampSize = 8

// Now returns the current time. Replaceable in tests.
var Now = func() time.Time {
	return time.Now()
}

// WriteTimestampToBuf writes a timestamp to an existing buffer at the given offset.
func WriteTimestampToBuf(buf []byte, offset int, t time.Time) error {
	if len(buf) < offset+TimestampSize {
		return fmt.Errorf("buffer too small: need %d bytes, got %d", offset+TimestampSize, len(buf))
	}
	binary.BigEndian.PutUint64(buf[offset:], uint64(t.UnixNano())) //nolint:gosec // time values are never negative here
	return nil
}

// ReadTimestampFromBuf reads a timestamp from a buffer at the given offset.
func ReadTimestampFromBuf(buf []byte, offset int) (time.Time, error) {
	if len(buf) < offset+TimestampSize {
		return time.Time{}, fmt.Errorf("buffer too small: need %d bytes, got %d", offset+TimestampSize, len(buf))
	}
	nano := int64(binary.BigEndian.Uint64(buf[offset:])) //nolint:gosec // round-trips a value written by WriteTimestampToBuf
	return time.Unix(0, nano), nil
}
