package helpers

import (
	"math/rand"
	"time"
)

// RandUnix is fresh random source for shuffling test tables.
func RandUnix() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
