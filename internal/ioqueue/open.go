package ioqueue

import "os"

// BackendEnv overrides runtime probing when set to "uring" or "fallback".
const BackendEnv = "GEOPM_IOQUEUE_BACKEND"

// Open returns a Queue of the given capacity, preferring io_uring and
// falling back to sequential pread/pwrite when io_uring setup fails (older
// kernel, seccomp filter, container restriction) or when BackendEnv
// requests the fallback explicitly.
func Open(capacity int) (Queue, error) {
	switch os.Getenv(BackendEnv) {
	case "fallback":
		return newFallbackQueue(capacity), nil
	case "uring":
		return openURing(capacity)
	}
	if q, err := openURing(capacity); err == nil {
		return q, nil
	}
	return newFallbackQueue(capacity), nil
}
