// Package index provides the in-memory point-in-polygon index of a layer.
package index

import (
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/jobrunner/pipservice/internal/domain"
)

// R-tree branching bounds.
const (
	minChildren = 25
	maxChildren = 50
)

// pointTolerance is the edge length of the query rectangle around a point.
const pointTolerance = 1e-9

// Place is one polygon of a layer dataset.
type Place struct {
	ID        int64
	Name      string
	Placetype string
	Hierarchy []domain.Hierarchy
	Geometry  orb.Geometry
}

// entry is an indexed place. It implements rtreego.Spatial.
type entry struct {
	place *Place
	rect  rtreego.Rect
	order int
}

// Bounds implements rtreego.Spatial.
func (e *entry) Bounds() rtreego.Rect {
	return e.rect
}

// Index answers point and id lookups for one layer.
type Index struct {
	layer   domain.Layer
	tree    *rtreego.Rtree
	entries []*entry
	byID    map[int64]*entry
}

// New builds the index of a layer. Places without a polygonal geometry
// are only reachable by id.
func New(layer domain.Layer, places []Place) (*Index, error) {
	idx := &Index{
		layer:   layer,
		tree:    rtreego.NewTree(2, minChildren, maxChildren),
		entries: make([]*entry, 0, len(places)),
		byID:    make(map[int64]*entry, len(places)),
	}

	for i := range places {
		e := &entry{place: &places[i], order: i}
		idx.entries = append(idx.entries, e)
		if _, dup := idx.byID[e.place.ID]; !dup {
			idx.byID[e.place.ID] = e
		}

		if !polygonal(e.place.Geometry) {
			continue
		}

		bound := e.place.Geometry.Bound()
		rect, err := rtreego.NewRectFromPoints(
			rtreego.Point{bound.Min.X(), bound.Min.Y()},
			rtreego.Point{bound.Max.X(), bound.Max.Y()},
		)
		if err != nil {
			return nil, err
		}
		e.rect = rect
		idx.tree.Insert(e)
	}

	return idx, nil
}

// Search returns the first place in dataset order whose polygon contains
// coord, or nil.
func (i *Index) Search(coord domain.Coordinate) *domain.Result {
	pt := orb.Point{coord.Longitude, coord.Latitude}

	candidates := i.tree.SearchIntersect(rtreego.Point{pt.X(), pt.Y()}.ToRect(pointTolerance))
	if len(candidates) == 0 {
		return nil
	}

	matches := make([]*entry, 0, len(candidates))
	for _, c := range candidates {
		e := c.(*entry)
		if contains(e.place.Geometry, pt) {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	sort.Slice(matches, func(a, b int) bool {
		return matches[a].order < matches[b].order
	})
	return i.result(matches[0].place)
}

// LookupByID returns the place with the given id, or nil.
func (i *Index) LookupByID(id int64) *domain.Result {
	e, ok := i.byID[id]
	if !ok {
		return nil
	}
	return i.result(e.place)
}

// Len returns the number of places in the layer.
func (i *Index) Len() int {
	return len(i.entries)
}

func (i *Index) result(p *Place) *domain.Result {
	hierarchy := make([]domain.Hierarchy, len(p.Hierarchy))
	copy(hierarchy, p.Hierarchy)

	return &domain.Result{
		ID:        p.ID,
		Name:      p.Name,
		Placetype: p.Placetype,
		Layer:     i.layer,
		Hierarchy: hierarchy,
	}
}

func polygonal(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	default:
		return false
	}
}

func contains(g orb.Geometry, pt orb.Point) bool {
	switch geom := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(geom, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geom, pt)
	default:
		return false
	}
}
