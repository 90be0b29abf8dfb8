package hlc

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Clock implements a Hybrid Logical Clock. Paxos ballots are drawn from it, so
// every timestamp it returns is strictly greater than any timestamp it
// returned or observed before.
type Clock struct {
	nodeID   uint64
	wallTime int64
	logical  int32
	mu       sync.Mutex
}

// Timestamp represents a point in time across the distributed system
type Timestamp struct {
	WallTime int64  `msgpack:"w"`
	Logical  int32  `msgpack:"l"`
	NodeID   uint64 `msgpack:"n"`
}

// NewClock creates a new HLC instance
func NewClock(nodeID uint64) *Clock {
	return &Clock{
		nodeID:   nodeID,
		wallTime: time.Now().UnixNano(),
	}
}

// MaxLogical bounds the logical counter; on overflow the wall time is pushed
// forward by one nanosecond instead of spinning.
const MaxLogical = math.MaxInt32

// NodeID returns the node the clock stamps timestamps with
func (c *Clock) NodeID() uint64 {
	return c.nodeID
}

// Now generates a new timestamp for a local event
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physicalNow := time.Now().UnixNano()
	if physicalNow > c.wallTime {
		c.wallTime = physicalNow
		c.logical = 0
	} else {
		c.tick()
	}
	return c.stamp()
}

// Update merges a timestamp received from another node and returns a local
// timestamp strictly after it
func (c *Clock) Update(remote Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physicalNow := time.Now().UnixNano()
	switch {
	case physicalNow > c.wallTime && physicalNow > remote.WallTime:
		c.wallTime = physicalNow
		c.logical = 0
	case remote.WallTime > c.wallTime:
		c.wallTime = remote.WallTime
		c.logical = remote.Logical
		c.tick()
	case remote.WallTime == c.wallTime && remote.Logical > c.logical:
		c.logical = remote.Logical
		c.tick()
	default:
		c.tick()
	}
	return c.stamp()
}

func (c *Clock) tick() {
	if c.logical >= MaxLogical {
		c.wallTime++
		c.logical = 0
		return
	}
	c.logical++
}

func (c *Clock) stamp() Timestamp {
	return Timestamp{
		WallTime: c.wallTime,
		Logical:  c.logical,
		NodeID:   c.nodeID,
	}
}

// Compare compares two timestamps
// Returns: -1 if a < b, 0 if a == b, 1 if a > b
func Compare(a, b Timestamp) int {
	switch {
	case a.WallTime != b.WallTime:
		if a.WallTime < b.WallTime {
			return -1
		}
		return 1
	case a.Logical != b.Logical:
		if a.Logical < b.Logical {
			return -1
		}
		return 1
	case a.NodeID != b.NodeID:
		if a.NodeID < b.NodeID {
			return -1
		}
		return 1
	}
	return 0
}

// Less returns true if a happened before b
func Less(a, b Timestamp) bool {
	return Compare(a, b) < 0
}

// Equal returns true if timestamps are equal
func Equal(a, b Timestamp) bool {
	return Compare(a, b) == 0
}

// After returns true if a happened after b
func After(a, b Timestamp) bool {
	return Compare(a, b) > 0
}

// IsZero reports the zero timestamp, which precedes every issued one
func (t Timestamp) IsZero() bool {
	return t == Timestamp{}
}

// Micros returns the wall time in microseconds, the unit of cell timestamps
func (t Timestamp) Micros() int64 {
	return t.WallTime / 1_000
}

// PhysicalTime returns the physical time component as time.Time
func (t Timestamp) PhysicalTime() time.Time {
	return time.Unix(0, t.WallTime)
}

// String returns a compact representation: wall.logical@node
func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d@%d", t.WallTime, t.Logical, t.NodeID)
}
