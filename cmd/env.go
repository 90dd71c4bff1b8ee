package main

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/time/rate"

	"github.com/sells-group/popdownscale/internal/boundary"
	"github.com/sells-group/popdownscale/internal/config"
	"github.com/sells-group/popdownscale/internal/fetcher"
	"github.com/sells-group/popdownscale/internal/grid"
	"github.com/sells-group/popdownscale/internal/redistribute"
	"github.com/sells-group/popdownscale/internal/store"
	"github.com/sells-group/popdownscale/internal/template"
	"github.com/sells-group/popdownscale/internal/workpool"
)

// initStore opens the configured store and applies its migration.
func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch sc.Driver {
	case "", "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "popdownscale.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, sc.DatabaseURL, &sc.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func newResolver(fc config.FetchConfig, refresh bool) *fetcher.Resolver {
	web := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   fc.UserAgent,
		Timeout:     time.Duration(fc.TimeoutSecs) * time.Second,
		MaxRetries:  fc.MaxRetries,
		RatePerHost: rate.Limit(fc.RatePerHost),
	})
	r := fetcher.NewResolver(fc.CacheDir, web, nil)
	r.Refresh = refresh
	return r
}

// newRedistributor owns a worker pool sized for one run.
func newRedistributor(mc config.ModelConfig) *redistribute.Redistributor {
	pool := workpool.New(mc.Workers, workpool.WithBatchSize(mc.BatchSize))
	zap.L().Debug("worker pool ready", zap.Int("workers", pool.Workers()))
	return redistribute.New(pool, redistribute.WithMaxCorrectionIterations(mc.MaxCorrectionIterations))
}

// readGrid resolves ref and reads it as an ESRI ASCII raster.
func readGrid(ctx context.Context, res *fetcher.Resolver, ref, name string) (*grid.Grid, string, error) {
	if ref == "" {
		return nil, "", eris.Errorf("--%s is required", name)
	}
	path, err := res.Resolve(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	g, err := grid.ReadASCIIFile(path)
	if err != nil {
		return nil, "", eris.Wrapf(err, "read %s raster", name)
	}
	return g, path, nil
}

// geometryRefs names the inputs shared by calibration and projection.
type geometryRefs struct {
	Mask        string
	Boundary    string
	Coordinates string
}

// geometry is the resolved mask, boundary and neighbourhood template.
type geometry struct {
	Mask     *grid.Grid
	Boundary boundary.Set
	Template *template.Template
}

// loadGeometry reads the mask, the boundary (index CSV or polygon
// shapefile) and the coordinates, and builds the template. like fixes the
// grid shape every input must share.
func loadGeometry(ctx context.Context, res *fetcher.Resolver, like *grid.Grid, refs geometryRefs, mc config.ModelConfig) (*geometry, error) {
	mask, _, err := readGrid(ctx, res, refs.Mask, "mask")
	if err != nil {
		return nil, err
	}
	if !mask.SameShape(like) {
		return nil, eris.Errorf("mask is %dx%d, population grid is %dx%d",
			mask.Rows, mask.Cols, like.Rows, like.Cols)
	}

	set, err := loadBoundary(ctx, res, like, refs.Boundary)
	if err != nil {
		return nil, err
	}

	coords := like.Centers()
	if refs.Coordinates != "" {
		path, err := res.Resolve(ctx, refs.Coordinates)
		if err != nil {
			return nil, err
		}
		if coords, err = grid.ReadPointsCSV(path); err != nil {
			return nil, err
		}
	}

	ref, err := chooseReference(mc.Reference, set, coords)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.Build(ref, mc.Cutoff, like.Dims, coords)
	if err != nil {
		return nil, err
	}
	zap.L().Info("template built",
		zap.Int("reference", ref),
		zap.Float64("cutoff", mc.Cutoff),
		zap.Int("neighbours", tmpl.Len()),
		zap.Int("boundary_cells", len(set)),
	)
	return &geometry{Mask: mask, Boundary: set, Template: tmpl}, nil
}

func loadBoundary(ctx context.Context, res *fetcher.Resolver, like *grid.Grid, ref string) (boundary.Set, error) {
	if ref == "" {
		return nil, eris.New("--boundary is required")
	}
	path, err := res.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		polys, err := boundary.ReadShapefile(path)
		if err != nil {
			return nil, err
		}
		return boundary.FromPolygons(like, polys)
	}
	return boundary.ReadCSV(path, like.Dims)
}

// chooseReference picks the template's reference cell.
func chooseReference(strategy string, set boundary.Set, coords []grid.Point) (int, error) {
	if len(set) == 0 {
		return 0, eris.New("empty boundary")
	}
	switch strategy {
	case "", config.ReferenceFirst:
		return set[0], nil
	case config.ReferenceCentroid:
		return template.CentralReference(set, coords)
	default:
		return 0, eris.Errorf("unknown reference strategy %q", strategy)
	}
}

var printer = message.NewPrinter(language.English)

// formatPopulation renders a total with thousands separators.
func formatPopulation(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return printer.Sprint(v)
	}
	return printer.Sprintf("%d", int64(math.Round(v)))
}
