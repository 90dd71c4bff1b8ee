// Package template builds the neighbourhood distance template: the offsets
// and distances from one reference cell to every cell within a cutoff
// radius. The template is reused for every focal cell by translating the
// offsets, which assumes uniform cell spacing across the grid.
package template

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/sells-group/popdownscale/internal/grid"
)

// cutoffSlack widens the search radius so cells lying exactly on the
// cutoff are kept despite coordinate rounding.
const cutoffSlack = 1.0

// Entry is one neighbour relative to the reference cell.
type Entry struct {
	Offset    int     `json:"offset"`
	RowOffset int     `json:"row_offset"`
	ColOffset int     `json:"col_offset"`
	Distance  float64 `json:"distance"`
}

// Template is the neighbourhood of a reference cell.
type Template struct {
	Reference int       `json:"reference"`
	Cutoff    float64   `json:"cutoff"`
	Dims      grid.Dims `json:"dims"`
	Entries   []Entry   `json:"entries"`
}

// Len returns the number of neighbours.
func (t *Template) Len() int {
	return len(t.Entries)
}

// Neighbor translates entry k to the focal cell. The second result is false
// when the translated cell falls outside the grid; offsets never wrap
// across row ends.
func (t *Template) Neighbor(focal, k int) (int, bool) {
	e := t.Entries[k]
	r, c := t.Dims.RowCol(focal)
	nr, nc := r+e.RowOffset, c+e.ColOffset
	if !t.Dims.InBounds(nr, nc) {
		return 0, false
	}
	return t.Dims.Index(nr, nc), true
}

// Build finds every point within cutoff of coords[ref] and records its
// offset and Euclidean distance. Coincident points (distance 0) are
// excluded. An empty template is not an error.
func Build(ref int, cutoff float64, d grid.Dims, coords []grid.Point) (*Template, error) {
	if len(coords) != d.Len() {
		return nil, eris.Errorf("template: %d coordinates for %d cells", len(coords), d.Len())
	}
	if err := d.CheckIndex(ref); err != nil {
		return nil, eris.Wrap(err, "template: reference")
	}
	if !(cutoff > 0) || math.IsInf(cutoff, 0) {
		return nil, eris.Errorf("template: cutoff must be positive and finite, got %v", cutoff)
	}

	pts := make(sites, len(coords))
	for i, p := range coords {
		pts[i] = site{x: p.X, y: p.Y, id: i}
	}
	tree := kdtree.New(pts, false)

	radius := cutoff + cutoffSlack
	keep := kdtree.NewDistKeeper(radius * radius)
	origin := site{x: coords[ref].X, y: coords[ref].Y, id: ref}
	tree.NearestSet(keep, origin)

	rr, rc := d.RowCol(ref)
	t := &Template{Reference: ref, Cutoff: cutoff, Dims: d}
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue
		}
		near := cd.Comparable.(site)
		dist := math.Sqrt(cd.Dist)
		if dist == 0 || dist > radius {
			continue
		}
		nr, nc := d.RowCol(near.id)
		t.Entries = append(t.Entries, Entry{
			Offset:    near.id - ref,
			RowOffset: nr - rr,
			ColOffset: nc - rc,
			Distance:  dist,
		})
	}

	sort.Slice(t.Entries, func(i, j int) bool {
		a, b := t.Entries[i], t.Entries[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		return a.Offset < b.Offset
	})
	return t, nil
}

// site is a coordinate tagged with its linear cell index.
type site struct {
	x, y float64
	id   int
}

func (s site) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(site)
	switch d {
	case 0:
		return s.x - q.x
	case 1:
		return s.y - q.y
	default:
		panic("template: illegal dimension")
	}
}

func (s site) Dims() int { return 2 }

// Distance is the squared Euclidean distance.
func (s site) Distance(c kdtree.Comparable) float64 {
	q := c.(site)
	dx, dy := s.x-q.x, s.y-q.y
	return dx*dx + dy*dy
}

type sites []site

func (p sites) Index(i int) kdtree.Comparable         { return p[i] }
func (p sites) Len() int                              { return len(p) }
func (p sites) Pivot(d kdtree.Dim) int                { return plane{Dim: d, sites: p}.Pivot() }
func (p sites) Slice(start, end int) kdtree.Interface { return p[start:end] }

type plane struct {
	kdtree.Dim
	sites
}

func (p plane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.sites[i].x < p.sites[j].x
	case 1:
		return p.sites[i].y < p.sites[j].y
	default:
		panic("template: illegal dimension")
	}
}

func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.sites = p.sites[start:end]
	return p
}

func (p plane) Swap(i, j int) {
	p.sites[i], p.sites[j] = p.sites[j], p.sites[i]
}

// CentralReference returns the candidate closest to the candidates'
// centroid. An interior reference keeps the template symmetric, whereas the
// first boundary cell usually sits on an edge.
func CentralReference(candidates []int, coords []grid.Point) (int, error) {
	if len(candidates) == 0 {
		return 0, eris.New("template: no reference candidates")
	}
	var cx, cy float64
	for _, i := range candidates {
		if i < 0 || i >= len(coords) {
			return 0, eris.Wrapf(grid.ErrInvalidIndex, "template: candidate %d", i)
		}
		cx += coords[i].X
		cy += coords[i].Y
	}
	cx /= float64(len(candidates))
	cy /= float64(len(candidates))

	best, bestDist := candidates[0], math.Inf(1)
	for _, i := range candidates {
		dx, dy := coords[i].X-cx, coords[i].Y-cy
		if d := dx*dx + dy*dy; d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, nil
}
