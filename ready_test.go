package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyQueuesHighestEmpty(t *testing.T) {
	r := newReadyQueues(4)
	assert.True(t, r.isEmpty())
	assert.Equal(t, 4, r.highest())
}

func TestReadyQueuesInsertOrdersByPriority(t *testing.T) {
	r := newReadyQueues(4)
	low := &Task{priority: 3, name: "low"}
	high := &Task{priority: 0, name: "high"}
	mid := &Task{priority: 1, name: "mid"}

	r.insertTail(low)
	r.insertTail(high)
	r.insertTail(mid)

	require.False(t, r.isEmpty())
	assert.Equal(t, 0, r.highest())
	assert.Same(t, high, r.head(0))
	assert.Same(t, mid, r.head(1))
	assert.Same(t, low, r.head(3))
}

func TestReadyQueuesFIFOWithinPriority(t *testing.T) {
	r := newReadyQueues(2)
	a := &Task{priority: 0, name: "a"}
	b := &Task{priority: 0, name: "b"}
	c := &Task{priority: 0, name: "c"}

	r.insertTail(a)
	r.insertTail(b)
	r.insertTail(c)

	assert.Same(t, a, r.head(0))
	r.remove(a)
	assert.Same(t, b, r.head(0))
	r.remove(b)
	assert.Same(t, c, r.head(0))
	r.remove(c)
	assert.True(t, r.isEmpty())
}

func TestReadyQueuesRemoveClearsBitmapBit(t *testing.T) {
	r := newReadyQueues(4)
	a := &Task{priority: 2, name: "a"}
	r.insertTail(a)
	assert.Equal(t, 2, r.highest())

	r.remove(a)
	assert.Equal(t, 4, r.highest())
}
