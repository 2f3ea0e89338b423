package pending

import (
	"math/rand/v2"
	"time"
)

// NewID returns a correlation id: wall-clock microseconds in the high bits
// and 16 random bits below them.
//
//	id = (unix_seconds*1e6 + microseconds) << 16 | rand16
//
// The microsecond count is truncated to its low 47 bits so the shifted value
// stays positive; that window wraps every four and a half years. Ids from one
// process are roughly time-ordered. Register retries on the rare collision
// with a live entry.
func NewID() int64 {
	return idAt(time.Now(), uint16(rand.Uint32()))
}

const timeMask = 1<<47 - 1

func idAt(t time.Time, tie uint16) int64 {
	us := t.Unix()*1_000_000 + int64(t.Nanosecond()/1_000)
	return (us&timeMask)<<16 | int64(tie)
}
