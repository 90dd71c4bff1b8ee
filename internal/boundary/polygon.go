package boundary

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/popdownscale/internal/grid"
)

// ReadShapefile loads every polygon record of a shapefile. Each record keeps
// all of its parts as rings; containment uses the even-odd rule across them
// so holes are excluded.
func ReadShapefile(path string) ([]*geom.Polygon, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	var polys []*geom.Polygon
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		pg, ok := shape.(*shp.Polygon)
		if !ok || pg == nil {
			skipped++
			continue
		}
		p := polygonFromShape(pg)
		if p == nil {
			skipped++
			continue
		}
		polys = append(polys, p)
	}

	if skipped > 0 {
		zap.L().Debug("boundary: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	if len(polys) == 0 {
		return nil, eris.Errorf("boundary: no polygons in %s", path)
	}
	return polys, nil
}

func polygonFromShape(pg *shp.Polygon) *geom.Polygon {
	if pg.NumParts == 0 || len(pg.Points) == 0 {
		return nil
	}

	flat := make([]float64, 0, 2*len(pg.Points))
	ends := make([]int, 0, pg.NumParts)
	for i := int32(0); i < pg.NumParts; i++ {
		start := pg.Parts[i]
		end := int32(len(pg.Points))
		if i+1 < pg.NumParts {
			end = pg.Parts[i+1]
		}
		if end-start < 3 {
			continue
		}
		for j := start; j < end; j++ {
			flat = append(flat, pg.Points[j].X, pg.Points[j].Y)
		}
		ends = append(ends, len(flat))
	}
	if len(ends) == 0 {
		return nil
	}
	return geom.NewPolygonFlat(geom.XY, flat, ends)
}

// Contains reports whether pt lies inside p under the even-odd rule.
func Contains(p *geom.Polygon, pt grid.Point) bool {
	b := p.Bounds()
	if pt.X < b.Min(0) || pt.X > b.Max(0) || pt.Y < b.Min(1) || pt.Y > b.Max(1) {
		return false
	}
	c := geom.Coord{pt.X, pt.Y}
	inside := false
	for i := 0; i < p.NumLinearRings(); i++ {
		if xy.IsPointInRing(p.Layout(), c, p.LinearRing(i).FlatCoords()) {
			inside = !inside
		}
	}
	return inside
}

// FromPolygons returns the cells of g whose centres fall inside any polygon,
// in linear index order.
func FromPolygons(g *grid.Grid, polys []*geom.Polygon) (Set, error) {
	var indices []int
	for i := 0; i < g.Len(); i++ {
		r, c := g.RowCol(i)
		pt := g.Center(r, c)
		for _, p := range polys {
			if Contains(p, pt) {
				indices = append(indices, i)
				break
			}
		}
	}
	if len(indices) == 0 {
		return nil, eris.New("boundary: no cell centres inside the boundary polygons")
	}
	return New(indices, g.Dims)
}
