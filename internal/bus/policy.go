package bus

import "time"

type policyKind int

const (
	policyLatestWins policyKind = iota
	policyBoundedBlock
	policyUnbounded
)

// Policy decides what happens when a subscriber's queue is full.
type Policy struct {
	kind    policyKind
	size    int
	timeout time.Duration
}

// LatestWins keeps at most size pending items; the oldest is dropped to make room.
func LatestWins(size int) Policy {
	if size < 1 {
		size = 1
	}

	return Policy{kind: policyLatestWins, size: size, timeout: 0}
}

// BoundedBlock makes the publisher wait up to timeout for room, then drops the new item.
func BoundedBlock(size int, timeout time.Duration) Policy {
	if size < 1 {
		size = 1
	}

	return Policy{kind: policyBoundedBlock, size: size, timeout: timeout}
}

// Unbounded never drops.
func Unbounded() Policy {
	return Policy{kind: policyUnbounded, size: 0, timeout: 0}
}

// Size returns the queue bound, or 0 for unbounded queues.
func (p Policy) Size() int {
	return p.size
}

func (p Policy) String() string {
	switch p.kind {
	case policyLatestWins:
		return "latest_wins"
	case policyBoundedBlock:
		return "bounded_block"
	default:
		return "unbounded"
	}
}
