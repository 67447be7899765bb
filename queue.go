package kernel

// Queue is a bounded FIFO message queue of fixed-size opaque elements:
// Send blocks while full, Receive blocks while empty. Capacity and
// element size are fixed at creation; a slice stands in for what a
// statically pool-allocated byte array backs on a real microcontroller.
type Queue struct {
	k     *Kernel
	buf   [][]byte
	elem  int
	head  int
	count int
}

// NewQueue creates a queue holding up to capacity elements of elemSize
// bytes each.
func (k *Kernel) NewQueue(capacity, elemSize int) (*Queue, error) {
	if capacity <= 0 || elemSize <= 0 {
		return nil, ErrParam
	}
	return &Queue{k: k, buf: make([][]byte, capacity), elem: elemSize}, nil
}

// NewMailbox is a one-slot Queue, the common single-message rendezvous
// pattern built on a capacity-1 queue.
func (k *Kernel) NewMailbox(elemSize int) (*Queue, error) {
	return k.NewQueue(1, elemSize)
}

func (q *Queue) capacity() int { return len(q.buf) }

func (q *Queue) tailIndex() int {
	return (q.head + q.count) % len(q.buf)
}

func (q *Queue) frontIndex() int {
	return (q.head - 1 + len(q.buf)) % len(q.buf)
}

// Send copies msg (truncated/zero-padded to the queue's element size)
// into the queue, blocking the caller while full.
func (q *Queue) Send(msg []byte, timeout uint32) error {
	k := q.k
	self := k.GetCurrent()

	k.mu.Lock()
	for {
		if q.count < q.capacity() {
			item := make([]byte, q.elem)
			copy(item, msg)
			q.buf[q.tailIndex()] = item
			q.count++

			k.sched.unblockOne(BlockQueueRecv, q, nil)
			k.maybeReschedule()
			k.mu.Unlock()
			return nil
		}
		if timeout == TimeoutNone {
			k.mu.Unlock()
			return ErrTimeout
		}
		if k.inISR {
			k.mu.Unlock()
			return ErrISR
		}

		k.sched.blockCurrent(BlockQueueSend, q, timeout)
		k.reschedule()
		if self.blockResult != nil {
			err := self.blockResult
			k.mu.Unlock()
			return err
		}
		// woken because a slot freed up; loop re-checks under lock.
	}
}

// SendFront is Send's urgent counterpart: it inserts msg at the head
// of the queue instead of the tail, so it is the next element a
// Receive call sees, regardless of what was already queued.
func (q *Queue) SendFront(msg []byte, timeout uint32) error {
	k := q.k
	self := k.GetCurrent()

	k.mu.Lock()
	for {
		if q.count < q.capacity() {
			item := make([]byte, q.elem)
			copy(item, msg)
			q.head = q.frontIndex()
			q.buf[q.head] = item
			q.count++

			k.sched.unblockOne(BlockQueueRecv, q, nil)
			k.maybeReschedule()
			k.mu.Unlock()
			return nil
		}
		if timeout == TimeoutNone {
			k.mu.Unlock()
			return ErrTimeout
		}
		if k.inISR {
			k.mu.Unlock()
			return ErrISR
		}

		k.sched.blockCurrent(BlockQueueSend, q, timeout)
		k.reschedule()
		if self.blockResult != nil {
			err := self.blockResult
			k.mu.Unlock()
			return err
		}
	}
}

// SendISR is Send's non-blocking form for use from ISR/Tick context.
// It runs Send(msg, TimeoutNone): that call path only ever takes the
// immediate success or immediate-full branch, never the inISR check
// guarding the blocking branch, so it is safe to call from an ISR. A
// full queue is reported as ErrOverflow rather than ErrTimeout.
func (q *Queue) SendISR(msg []byte) error {
	if err := q.Send(msg, TimeoutNone); err != nil {
		if err == ErrTimeout {
			return ErrOverflow
		}
		return err
	}
	return nil
}

// Receive copies the oldest queued element into dst (must be at least
// the queue's element size), blocking the caller while empty.
func (q *Queue) Receive(dst []byte, timeout uint32) error {
	k := q.k
	self := k.GetCurrent()

	k.mu.Lock()
	for {
		if q.count > 0 {
			item := q.buf[q.head]
			q.buf[q.head] = nil
			q.head = (q.head + 1) % len(q.buf)
			q.count--
			copy(dst, item)

			k.sched.unblockOne(BlockQueueSend, q, nil)
			k.maybeReschedule()
			k.mu.Unlock()
			return nil
		}
		if timeout == TimeoutNone {
			k.mu.Unlock()
			return ErrTimeout
		}
		if k.inISR {
			k.mu.Unlock()
			return ErrISR
		}

		k.sched.blockCurrent(BlockQueueRecv, q, timeout)
		k.reschedule()
		if self.blockResult != nil {
			err := self.blockResult
			k.mu.Unlock()
			return err
		}
	}
}

// Peek copies the oldest queued element into dst without removing it,
// blocking the caller while empty the same way Receive does. Because
// nothing is removed, it never wakes a blocked sender.
func (q *Queue) Peek(dst []byte, timeout uint32) error {
	k := q.k
	self := k.GetCurrent()

	k.mu.Lock()
	for {
		if q.count > 0 {
			copy(dst, q.buf[q.head])
			k.mu.Unlock()
			return nil
		}
		if timeout == TimeoutNone {
			k.mu.Unlock()
			return ErrTimeout
		}
		if k.inISR {
			k.mu.Unlock()
			return ErrISR
		}

		k.sched.blockCurrent(BlockQueueRecv, q, timeout)
		k.reschedule()
		if self.blockResult != nil {
			err := self.blockResult
			k.mu.Unlock()
			return err
		}
	}
}

// Len reports the number of queued elements.
func (q *Queue) Len() int {
	q.k.mu.Lock()
	defer q.k.mu.Unlock()
	return q.count
}

// Cap reports the queue's fixed capacity.
func (q *Queue) Cap() int {
	return q.capacity()
}

// IsEmpty reports whether the queue currently holds no elements.
func (q *Queue) IsEmpty() bool {
	q.k.mu.Lock()
	defer q.k.mu.Unlock()
	return q.count == 0
}

// IsFull reports whether the queue is at its fixed capacity.
func (q *Queue) IsFull() bool {
	q.k.mu.Lock()
	defer q.k.mu.Unlock()
	return q.count >= q.capacity()
}

// Space reports how many more elements can be sent before the queue is
// full.
func (q *Queue) Space() int {
	q.k.mu.Lock()
	defer q.k.mu.Unlock()
	return q.capacity() - q.count
}

// Reset discards all queued elements and wakes every blocked sender
// and receiver with ErrState, the same way a primitive reset while a
// caller is blocked reports failure on any other primitive.
func (q *Queue) Reset() error {
	k := q.k
	k.mu.Lock()
	defer k.mu.Unlock()

	for i := range q.buf {
		q.buf[i] = nil
	}
	q.head = 0
	q.count = 0

	k.sched.unblockAll(BlockQueueSend, q, ErrState)
	k.sched.unblockAll(BlockQueueRecv, q, ErrState)
	k.maybeReschedule()
	return nil
}
