package row

import (
	"time"

	"github.com/maxpert/lwt/cql"
)

// Cell is one versioned column value. Writing null produces a tombstone cell.
// Cells are never mutated once they are part of a Partition.
type Cell struct {
	Value     *cql.Value `msgpack:"v,omitempty"`
	Timestamp int64      `msgpack:"ts"`
	ExpiresAt int64      `msgpack:"exp,omitempty"` // unix nanos, 0 = never
	Tombstone bool       `msgpack:"del,omitempty"`
}

// NewCell builds a live cell, or a tombstone when v is nil
func NewCell(v *cql.Value, ts int64, ttl time.Duration, now time.Time) *Cell {
	if v == nil {
		return &Cell{Timestamp: ts, Tombstone: true}
	}
	return &Cell{Value: v, Timestamp: ts, ExpiresAt: expiry(ttl, now)}
}

// Tombstone builds a deletion marker at ts
func Tombstone(ts int64) *Cell {
	return &Cell{Timestamp: ts, Tombstone: true}
}

func expiry(ttl time.Duration, now time.Time) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixNano()
}

// IsLive reports whether the cell has an effective value at now
func (c *Cell) IsLive(now time.Time) bool {
	return c != nil && !c.Tombstone && (c.ExpiresAt == 0 || now.UnixNano() < c.ExpiresAt)
}

// Reconcile picks the winner of two versions of the same cell. The higher
// timestamp wins; on a tie a tombstone wins, then the greater value, then the
// later expiry.
func Reconcile(a, b *Cell) *Cell {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.Timestamp != b.Timestamp:
		if a.Timestamp > b.Timestamp {
			return a
		}
		return b
	case a.Tombstone != b.Tombstone:
		if a.Tombstone {
			return a
		}
		return b
	}
	if c := cql.Compare(a.Value, b.Value); c != 0 {
		if c > 0 {
			return a
		}
		return b
	}
	if laterExpiry(b.ExpiresAt, a.ExpiresAt) {
		return b
	}
	return a
}

func laterExpiry(a, b int64) bool {
	if a == b {
		return false
	}
	if a == 0 {
		return true
	}
	return b != 0 && a > b
}

// Liveness is the primary key liveness written by INSERT. A row whose marker
// is live exists even when every regular cell is dead.
type Liveness struct {
	Timestamp int64 `msgpack:"ts"`
	ExpiresAt int64 `msgpack:"exp,omitempty"`
}

// NewLiveness builds a row marker
func NewLiveness(ts int64, ttl time.Duration, now time.Time) *Liveness {
	return &Liveness{Timestamp: ts, ExpiresAt: expiry(ttl, now)}
}

func (l *Liveness) isLive(shadow int64, now time.Time) bool {
	return l != nil && l.Timestamp > shadow && (l.ExpiresAt == 0 || now.UnixNano() < l.ExpiresAt)
}

func reconcileLiveness(a, b *Liveness) *Liveness {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.Timestamp != b.Timestamp:
		if a.Timestamp > b.Timestamp {
			return a
		}
		return b
	case laterExpiry(b.ExpiresAt, a.ExpiresAt):
		return b
	}
	return a
}

// ElementCell is one element of a multi-cell collection or one field of a
// multi-cell UDT. Path is the list position, set element, map key or UDT field
// index.
type ElementCell struct {
	Path *cql.Value `msgpack:"p"`
	Cell *Cell      `msgpack:"c"`
}

// ComplexCell holds the elements of a multi-cell column. Deletion shadows
// every element written at or before it.
type ComplexCell struct {
	Deletion int64          `msgpack:"del,omitempty"`
	Elements []*ElementCell `msgpack:"el,omitempty"`
}
