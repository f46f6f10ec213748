//go:build !linux

package ioqueue

import "fmt"

// openURing is unavailable on non-Linux hosts; Open always falls back.
func openURing(capacity int) (Queue, error) {
	return nil, fmt.Errorf("ioqueue: io_uring unavailable on this platform")
}
