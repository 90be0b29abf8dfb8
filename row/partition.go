package row

import (
	"sort"

	"github.com/maxpert/lwt/cql"
)

// Row is a clustering row or the static row of a partition. Deletion is a row
// tombstone timestamp shadowing data written at or before it.
type Row struct {
	Clustering []*cql.Value            `msgpack:"ck,omitempty"`
	Marker     *Liveness               `msgpack:"mk,omitempty"`
	Deletion   int64                   `msgpack:"del,omitempty"`
	Cells      map[string]*Cell        `msgpack:"c,omitempty"`
	Complex    map[string]*ComplexCell `msgpack:"cc,omitempty"`
}

// Partition is the committed state (or a pending update) of one partition.
// Rows are kept sorted by clustering key.
type Partition struct {
	Key      []*cql.Value `msgpack:"pk"`
	Deletion int64        `msgpack:"del,omitempty"`
	Static   *Row         `msgpack:"st,omitempty"`
	Rows     []*Row       `msgpack:"rows,omitempty"`
}

// NewPartition returns an empty partition for key
func NewPartition(key []*cql.Value) *Partition {
	return &Partition{Key: key}
}

// CompareClustering orders clustering prefixes component-wise
func CompareClustering(a, b []*cql.Value) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := cql.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// IsEmpty reports whether the partition carries no data and no deletion
func (p *Partition) IsEmpty() bool {
	return p == nil || (p.Deletion == 0 && p.Static == nil && len(p.Rows) == 0)
}

// Find returns the clustering row for a clustering key, or nil
func (p *Partition) Find(clustering []*cql.Value) *Row {
	if p == nil {
		return nil
	}
	i := p.search(clustering)
	if i < len(p.Rows) && CompareClustering(p.Rows[i].Clustering, clustering) == 0 {
		return p.Rows[i]
	}
	return nil
}

func (p *Partition) search(clustering []*cql.Value) int {
	return sort.Search(len(p.Rows), func(i int) bool {
		return CompareClustering(p.Rows[i].Clustering, clustering) >= 0
	})
}

// WritableStatic returns the static row, creating it when missing. It must
// only be used on update partitions under construction.
func (p *Partition) WritableStatic() *Row {
	if p.Static == nil {
		p.Static = &Row{}
	}
	return p.Static
}

// Writable returns the clustering row, creating it when missing. It must only
// be used on update partitions under construction.
func (p *Partition) Writable(clustering []*cql.Value) *Row {
	i := p.search(clustering)
	if i < len(p.Rows) && CompareClustering(p.Rows[i].Clustering, clustering) == 0 {
		return p.Rows[i]
	}
	r := &Row{Clustering: clustering}
	p.Rows = append(p.Rows, nil)
	copy(p.Rows[i+1:], p.Rows[i:])
	p.Rows[i] = r
	return r
}

// SetCell writes a simple cell
func (r *Row) SetCell(column string, c *Cell) {
	if r.Cells == nil {
		r.Cells = make(map[string]*Cell)
	}
	r.Cells[column] = Reconcile(r.Cells[column], c)
}

// DeleteComplex records a whole-column deletion for a multi-cell column
func (r *Row) DeleteComplex(column string, ts int64) {
	cc := r.complexFor(column)
	if ts > cc.Deletion {
		cc.Deletion = ts
	}
}

// SetElement writes one element of a multi-cell column
func (r *Row) SetElement(column string, path *cql.Value, c *Cell) {
	cc := r.complexFor(column)
	i := sort.Search(len(cc.Elements), func(i int) bool { return cql.Compare(cc.Elements[i].Path, path) >= 0 })
	if i < len(cc.Elements) && cql.Compare(cc.Elements[i].Path, path) == 0 {
		cc.Elements[i] = &ElementCell{Path: path, Cell: Reconcile(cc.Elements[i].Cell, c)}
		return
	}
	cc.Elements = append(cc.Elements, nil)
	copy(cc.Elements[i+1:], cc.Elements[i:])
	cc.Elements[i] = &ElementCell{Path: path, Cell: c}
}

func (r *Row) complexFor(column string) *ComplexCell {
	if r.Complex == nil {
		r.Complex = make(map[string]*ComplexCell)
	}
	cc, ok := r.Complex[column]
	if !ok {
		cc = &ComplexCell{}
		r.Complex[column] = cc
	}
	return cc
}

// Merge reconciles two versions of a partition into a new one. Neither input
// is modified; data shadowed by a tombstone is dropped from the result.
func Merge(a, b *Partition) *Partition {
	if a == nil && b == nil {
		return nil
	}
	out := &Partition{}
	switch {
	case a == nil:
		out.Key = b.Key
	default:
		out.Key = a.Key
	}
	if a != nil {
		out.Deletion = a.Deletion
	}
	if b != nil && b.Deletion > out.Deletion {
		out.Deletion = b.Deletion
	}

	var aStatic, bStatic *Row
	var aRows, bRows []*Row
	if a != nil {
		aStatic, aRows = a.Static, a.Rows
	}
	if b != nil {
		bStatic, bRows = b.Static, b.Rows
	}
	out.Static = mergeRow(aStatic, bStatic, out.Deletion)

	i, j := 0, 0
	for i < len(aRows) || j < len(bRows) {
		var merged *Row
		switch {
		case j >= len(bRows):
			merged = mergeRow(aRows[i], nil, out.Deletion)
			i++
		case i >= len(aRows):
			merged = mergeRow(nil, bRows[j], out.Deletion)
			j++
		default:
			c := CompareClustering(aRows[i].Clustering, bRows[j].Clustering)
			switch {
			case c < 0:
				merged = mergeRow(aRows[i], nil, out.Deletion)
				i++
			case c > 0:
				merged = mergeRow(nil, bRows[j], out.Deletion)
				j++
			default:
				merged = mergeRow(aRows[i], bRows[j], out.Deletion)
				i++
				j++
			}
		}
		if merged != nil {
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}

func mergeRow(a, b *Row, partitionDeletion int64) *Row {
	if a == nil && b == nil {
		return nil
	}
	out := &Row{}
	for _, r := range []*Row{a, b} {
		if r == nil {
			continue
		}
		out.Clustering = r.Clustering
		if r.Deletion > out.Deletion {
			out.Deletion = r.Deletion
		}
	}
	shadow := out.Deletion
	if partitionDeletion > shadow {
		shadow = partitionDeletion
	}

	for _, r := range []*Row{a, b} {
		if r == nil {
			continue
		}
		out.Marker = reconcileLiveness(out.Marker, r.Marker)
		for name, c := range r.Cells {
			if c.Timestamp <= shadow {
				continue
			}
			if out.Cells == nil {
				out.Cells = make(map[string]*Cell)
			}
			out.Cells[name] = Reconcile(out.Cells[name], c)
		}
	}
	if out.Marker != nil && out.Marker.Timestamp <= shadow {
		out.Marker = nil
	}

	names := make(map[string]struct{})
	for _, r := range []*Row{a, b} {
		if r == nil {
			continue
		}
		for name := range r.Complex {
			names[name] = struct{}{}
		}
	}
	for name := range names {
		var ca, cb *ComplexCell
		if a != nil {
			ca = a.Complex[name]
		}
		if b != nil {
			cb = b.Complex[name]
		}
		if cc := mergeComplex(ca, cb, shadow); cc != nil {
			if out.Complex == nil {
				out.Complex = make(map[string]*ComplexCell)
			}
			out.Complex[name] = cc
		}
	}

	if out.Marker == nil && out.Deletion == 0 && len(out.Cells) == 0 && len(out.Complex) == 0 {
		return nil
	}
	return out
}

func mergeComplex(a, b *ComplexCell, shadow int64) *ComplexCell {
	out := &ComplexCell{}
	for _, c := range []*ComplexCell{a, b} {
		if c != nil && c.Deletion > out.Deletion {
			out.Deletion = c.Deletion
		}
	}
	if out.Deletion > shadow {
		shadow = out.Deletion
	}

	var ae, be []*ElementCell
	if a != nil {
		ae = a.Elements
	}
	if b != nil {
		be = b.Elements
	}
	keep := func(e *ElementCell) {
		if e.Cell.Timestamp > shadow {
			out.Elements = append(out.Elements, e)
		}
	}
	i, j := 0, 0
	for i < len(ae) || j < len(be) {
		switch {
		case j >= len(be):
			keep(ae[i])
			i++
		case i >= len(ae):
			keep(be[j])
			j++
		default:
			c := cql.Compare(ae[i].Path, be[j].Path)
			switch {
			case c < 0:
				keep(ae[i])
				i++
			case c > 0:
				keep(be[j])
				j++
			default:
				keep(&ElementCell{Path: ae[i].Path, Cell: Reconcile(ae[i].Cell, be[j].Cell)})
				i++
				j++
			}
		}
	}
	if out.Deletion == 0 && len(out.Elements) == 0 {
		return nil
	}
	return out
}

// MaxTimestamp returns the highest write or deletion timestamp anywhere in
// the partition, 0 for a nil or empty partition.
func (p *Partition) MaxTimestamp() int64 {
	if p == nil {
		return 0
	}
	max := p.Deletion
	visit := func(r *Row) {
		if r == nil {
			return
		}
		if r.Deletion > max {
			max = r.Deletion
		}
		if r.Marker != nil && r.Marker.Timestamp > max {
			max = r.Marker.Timestamp
		}
		for _, c := range r.Cells {
			if c.Timestamp > max {
				max = c.Timestamp
			}
		}
		for _, cc := range r.Complex {
			if cc.Deletion > max {
				max = cc.Deletion
			}
			for _, e := range cc.Elements {
				if e.Cell.Timestamp > max {
					max = e.Cell.Timestamp
				}
			}
		}
	}
	visit(p.Static)
	for _, r := range p.Rows {
		visit(r)
	}
	return max
}
