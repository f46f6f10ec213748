//go:build linux

package ioqueue

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/geopm/geopmd/internal/geopmerr"
)

// Minimal io_uring ABI constants. Only the subset needed to submit
// READV/WRITEV-equivalent single-buffer ops and reap their completions.
const (
	sysIOUringSetup = 425
	sysIOUringEnter = 426

	ioUringOpRead  = 22 // IORING_OP_READ
	ioUringOpWrite = 23 // IORING_OP_WRITE

	ioUringEnterGetEvents = 1 << 0

	ioUringOffSQRing = 0
	ioUringOffCQRing = 0x8000000
	ioUringOffSQEs   = 0x10000000

	ioUringFeatSingleMMap = 1 << 0
)

// ioSQRingOffsets/ioCQRingOffsets/ioUringParams mirror struct
// io_sqring_offsets / io_cqring_offsets / io_uring_params from
// <linux/io_uring.h>.
type ioSQRingOffsets struct {
	Head, Tail, RingMask, RingEntries, Flags, Dropped, Array, Resv1 uint32
	UserAddr                                                        uint64
}

type ioCQRingOffsets struct {
	Head, Tail, RingMask, RingEntries, Overflow, CQEs, Flags uint32
	Resv1                                                    uint32
	UserAddr                                                 uint64
}

type ioUringParams struct {
	SQEntries, CQEntries, Flags, SQThreadCPU, SQThreadIdle, Features uint32
	WQFd                                                             uint32
	Resv                                                             [3]uint32
	SQOff                                                            ioSQRingOffsets
	CQOff                                                            ioCQRingOffsets
}

// ioUringSQE mirrors struct io_uring_sqe, single-buffer subset.
type ioUringSQE struct {
	Opcode      uint8
	Flags       uint8
	IoPrio      uint16
	Fd          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	RWFlags     uint32
	UserData    uint64
	_pad        [3]uint64
}

// ioUringCQE mirrors struct io_uring_cqe.
type ioUringCQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// uringQueue is a Queue backed by a single Linux io_uring instance. It
// supports exactly Capacity() in-flight operations per Submit call.
type uringQueue struct {
	baseQueue

	ringFd int

	sqRing  []byte
	cqRing  []byte
	sqesRaw []byte
	sqes    []ioUringSQE

	sqHead, sqTail, sqMask, sqArray *uint32
	cqHead, cqTail, cqMask          *uint32
	cqes                            []ioUringCQE

	bufs []*pendingOp // userData index -> originating op, by submission slot
}

// openURing is the linux entry point Open calls to try io_uring first.
func openURing(capacity int) (Queue, error) {
	return newURingQueue(capacity)
}

func newURingQueue(capacity int) (*uringQueue, error) {
	params := ioUringParams{}
	r0, _, errno := unix.Syscall(sysIOUringSetup, uintptr(capacity), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("io_uring_setup: %w", errno)
	}
	ringFd := int(r0)

	q := &uringQueue{baseQueue: baseQueue{capacity: capacity}, ringFd: ringFd}
	if err := q.mapRings(&params); err != nil {
		unix.Close(ringFd)
		return nil, err
	}
	return q, nil
}

func (q *uringQueue) mapRings(p *ioUringParams) error {
	sqRingSize := int(p.SQOff.Array) + int(p.SQEntries)*4
	cqRingSize := int(p.CQOff.CQEs) + int(p.CQEntries)*int(unsafe.Sizeof(ioUringCQE{}))

	sqRing, err := unix.Mmap(q.ringFd, ioUringOffSQRing, sqRingSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("mmap sq ring: %w", err)
	}
	q.sqRing = sqRing

	if p.Features&ioUringFeatSingleMMap != 0 {
		q.cqRing = sqRing
	} else {
		cqRing, err := unix.Mmap(q.ringFd, ioUringOffCQRing, cqRingSize,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
		if err != nil {
			unix.Munmap(sqRing)
			return fmt.Errorf("mmap cq ring: %w", err)
		}
		q.cqRing = cqRing
	}

	sqesSize := int(p.SQEntries) * int(unsafe.Sizeof(ioUringSQE{}))
	sqes, err := unix.Mmap(q.ringFd, ioUringOffSQEs, sqesSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("mmap sqes: %w", err)
	}
	q.sqesRaw = sqes
	q.sqes = unsafe.Slice((*ioUringSQE)(unsafe.Pointer(&sqes[0])), p.SQEntries)

	ring := q.sqRing
	q.sqHead = (*uint32)(unsafe.Pointer(&ring[p.SQOff.Head]))
	q.sqTail = (*uint32)(unsafe.Pointer(&ring[p.SQOff.Tail]))
	q.sqMask = (*uint32)(unsafe.Pointer(&ring[p.SQOff.RingMask]))
	q.sqArray = (*uint32)(unsafe.Pointer(&ring[p.SQOff.Array]))

	cq := q.cqRing
	q.cqHead = (*uint32)(unsafe.Pointer(&cq[p.CQOff.Head]))
	q.cqTail = (*uint32)(unsafe.Pointer(&cq[p.CQOff.Tail]))
	q.cqMask = (*uint32)(unsafe.Pointer(&cq[p.CQOff.RingMask]))
	q.cqes = unsafe.Slice((*ioUringCQE)(unsafe.Pointer(&cq[p.CQOff.CQEs])), p.CQEntries)

	return nil
}

// Submit writes every pending op into the submission ring, enters the
// kernel once, and reaps matching completions in order. Per-op failures go
// to that op's *ret; Submit returns an error only if io_uring_enter itself
// fails, which indicates the ring is unusable.
func (q *uringQueue) Submit() error {
	ops := q.drain()
	if len(ops) == 0 {
		return nil
	}

	sqMask := atomic.LoadUint32(q.sqMask)
	tail := atomic.LoadUint32(q.sqTail)
	slotOf := make(map[uint64]*pendingOp, len(ops))

	for i := range ops {
		op := &ops[i]
		idx := tail & sqMask
		sqe := &q.sqes[idx]
		*sqe = ioUringSQE{}
		if op.kind == opRead {
			sqe.Opcode = ioUringOpRead
		} else {
			sqe.Opcode = ioUringOpWrite
		}
		sqe.Fd = int32(op.fd)
		sqe.Off = uint64(op.offset)
		sqe.Len = uint32(len(op.buf))
		if len(op.buf) > 0 {
			sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.buf[0])))
		}
		sqe.UserData = uint64(i) + 1
		slotOf[sqe.UserData] = op

		arraySlot := (*uint32)(unsafe.Add(unsafe.Pointer(q.sqArray), uintptr(idx)*4))
		atomic.StoreUint32(arraySlot, idx)
		tail++
	}
	atomic.StoreUint32(q.sqTail, tail)

	submitted, _, errno := unix.Syscall6(sysIOUringEnter, uintptr(q.ringFd),
		uintptr(len(ops)), uintptr(len(ops)), ioUringEnterGetEvents, 0, 0)
	if errno != 0 {
		return geopmerr.Wrap(geopmerr.Io, "ioqueue.uring.submit", "io_uring_enter", errno)
	}

	for reaped := 0; reaped < int(submitted); {
		head := atomic.LoadUint32(q.cqHead)
		ctail := atomic.LoadUint32(q.cqTail)
		if head == ctail {
			continue
		}
		cqMask := atomic.LoadUint32(q.cqMask)
		cqe := q.cqes[head&cqMask]
		if op, ok := slotOf[cqe.UserData]; ok {
			*op.ret = int(cqe.Res)
		}
		atomic.StoreUint32(q.cqHead, head+1)
		reaped++
	}
	return nil
}

func (q *uringQueue) Close() error {
	unix.Munmap(q.sqesRaw)
	if q.cqRing != nil && &q.cqRing[0] != &q.sqRing[0] {
		unix.Munmap(q.cqRing)
	}
	unix.Munmap(q.sqRing)
	return unix.Close(q.ringFd)
}
