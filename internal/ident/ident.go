// Package ident generates the time-ordered identifiers osyncq uses to name
// queues, journal records and temporary FIFOs.
//
// Identifiers are ULIDs drawn from one shared monotonic entropy source, so
// ids generated by the same process sort in creation order even within a
// single millisecond.
package ident

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh ULID stamped with the current time.
func New() (ulid.ULID, error) {
	return At(time.Now())
}

// At returns a fresh ULID stamped with t.
func At(t time.Time) (ulid.ULID, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	return ulid.New(ulid.Timestamp(t), monoEntropy)
}

// NewID returns a fresh ULID in its 26-character string form.
func NewID() (string, error) {
	id, err := New()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNewID is like NewID but panics on error. The entropy source only fails
// if the system random reader does.
func MustNewID() string {
	id, err := NewID()
	if err != nil {
		panic(fmt.Sprintf("ident.MustNewID: %v", err))
	}
	return id
}

// Time returns the creation time encoded in a ULID string.
func Time(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("ident: parse %q: %w", id, err)
	}
	return ulid.Time(u.Time()), nil
}

// Validate returns an error if s is not a well-formed ULID string.
func Validate(s string) error {
	_, err := ulid.ParseStrict(s)
	return err
}
