package dispatch

import "time"

// Chord is the last command key and when it stops counting as a prefix.
// The zero value holds no key.
type Chord struct {
	Key       string
	ExpiresAt time.Time
}

// Active returns the key if it has not expired at now, or "".
func (c Chord) Active(now time.Time) string {
	if c.Key == "" || !now.Before(c.ExpiresAt) {
		return ""
	}
	return c.Key
}
