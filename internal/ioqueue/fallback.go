package ioqueue

import "golang.org/x/sys/unix"

// fallbackQueue submits each pending operation in order with a direct
// pread/pwrite syscall. It has no kernel-assisted batching but is always
// available and is the reference implementation other backends are
// checked against.
type fallbackQueue struct {
	baseQueue
}

// newFallbackQueue returns a Queue backed by sequential pread/pwrite.
func newFallbackQueue(capacity int) *fallbackQueue {
	return &fallbackQueue{baseQueue: baseQueue{capacity: capacity}}
}

func (q *fallbackQueue) Submit() error {
	for _, op := range q.drain() {
		var n int
		var err error
		switch op.kind {
		case opRead:
			n, err = unix.Pread(op.fd, op.buf, op.offset)
		case opWrite:
			n, err = unix.Pwrite(op.fd, op.buf, op.offset)
		}
		if err != nil {
			*op.ret = -int(errnoOf(err))
			continue
		}
		*op.ret = n
	}
	return nil
}

func (q *fallbackQueue) Close() error { return nil }

// errnoOf extracts the unix.Errno underlying err, defaulting to EIO for any
// error the pread/pwrite wrapper did not express as an Errno.
func errnoOf(err error) unix.Errno {
	if errno, ok := err.(unix.Errno); ok {
		return errno
	}
	return unix.EIO
}
