package syncengine

import (
	"encoding/hex"
	"time"
)

// newTimer starts a one-shot timer that invokes fn once, on its own
// goroutine, after d elapses.
func newTimer(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, fn)
}

func hexEncodeHash(h [32]byte) string { return hex.EncodeToString(h[:]) }

func hexDecodeHash(s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return h, errMalformedHash
	}
	copy(h[:], b)
	return h, nil
}
