package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/popdownscale/internal/config"
	"github.com/sells-group/popdownscale/internal/fetcher"
	"github.com/sells-group/popdownscale/internal/model"
	"github.com/sells-group/popdownscale/internal/projection"
	"github.com/sells-group/popdownscale/internal/store"
	"github.com/sells-group/popdownscale/internal/tables"
)

// projectOptions are the per-invocation inputs of a projection.
type projectOptions struct {
	Start      string
	Geometry   geometryRefs
	Aggregates string
	// Parameters is a parameters CSV; empty reads the store's table.
	Parameters string
	Region     string
	StartYear  int
	EndYear    int
	Step       int
	Scenario   string
	OutputDir  string
}

type projectionDeps struct {
	Config   *config.Config
	Resolver *fetcher.Resolver
	Store    store.Store
}

type projectionOutcome struct {
	Run   *model.Run
	Plan  projection.Plan
	Steps []projection.Step
}

func runProjection(ctx context.Context, opts projectOptions, deps projectionDeps) (*projectionOutcome, error) {
	c := deps.Config
	res := deps.Resolver

	start, startPath, err := readGrid(ctx, res, opts.Start, "start")
	if err != nil {
		return nil, err
	}

	plan := projection.Plan{
		Region:    opts.Region,
		Scenario:  opts.Scenario,
		StartYear: opts.StartYear,
		EndYear:   opts.EndYear,
		Step:      opts.Step,
	}
	if plan.Region == "" || plan.StartYear == 0 {
		r, y, perr := projection.ParseStartRaster(startPath)
		if plan.Region == "" {
			plan.Region = r
		}
		if plan.StartYear == 0 {
			if perr != nil {
				return nil, eris.Wrap(perr, "project: pass --start-year or name the raster <name>_<year>.asc")
			}
			plan.StartYear = y
		}
	}
	if plan.Scenario == "" {
		plan.Scenario = c.Projection.Scenario
	}
	if plan.EndYear == 0 {
		plan.EndYear = c.Projection.EndYear
	}
	if plan.Step == 0 {
		plan.Step = c.Projection.Step
	}
	outDir := opts.OutputDir
	if outDir == "" {
		outDir = c.Projection.OutputDir
	}
	plan.OutputDir = filepath.Join(outDir, plan.Scenario, plan.Region)

	geo, err := loadGeometry(ctx, res, start, opts.Geometry, c.Model)
	if err != nil {
		return nil, err
	}

	if opts.Aggregates == "" {
		return nil, eris.New("--aggregates is required")
	}
	aggPath, err := res.Resolve(ctx, opts.Aggregates)
	if err != nil {
		return nil, err
	}
	targets, err := tables.ReadAggregates(aggPath, tables.ReadOptions{
		Charset: c.Projection.Charset,
		Sheet:   c.Projection.Sheet,
	})
	if err != nil {
		return nil, err
	}
	if regions := targets.Regions(); !slices.Contains(regions, plan.Region) {
		return nil, eris.Errorf("project: region %q not in %s (have %s)",
			plan.Region, opts.Aggregates, strings.Join(regions, ", "))
	}

	params, err := loadParameters(ctx, res, deps.Store, opts.Parameters, plan.Scenario)
	if err != nil {
		return nil, err
	}

	out := &projectionOutcome{Plan: plan}
	if deps.Store != nil {
		run, err := deps.Store.CreateRun(ctx, model.Run{
			Kind:     model.RunKindProjection,
			Region:   plan.Region,
			Scenario: plan.Scenario,
			Year:     plan.StartYear,
			Inputs: model.RunInputs{
				Year1:       startPath,
				Mask:        opts.Geometry.Mask,
				Boundary:    opts.Geometry.Boundary,
				Coordinates: opts.Geometry.Coordinates,
				Aggregates:  opts.Aggregates,
				Parameters:  opts.Parameters,
				Reference:   geo.Template.Reference,
				Cutoff:      geo.Template.Cutoff,
			},
		})
		if err != nil {
			return nil, err
		}
		out.Run = run
	}

	projector := projection.New(newRedistributor(c.Model), targets, params)
	steps, runErr := projector.Run(ctx, plan, projection.Inputs{
		Start:    start,
		Mask:     geo.Mask,
		Boundary: geo.Boundary,
		Template: geo.Template,
	})
	out.Steps = steps

	if deps.Store != nil {
		if runErr != nil {
			if err := deps.Store.FailRun(ctx, out.Run.ID, runErr.Error()); err != nil {
				zap.L().Error("recording failed projection", zap.Error(err))
			}
		} else if err := deps.Store.CompleteRun(ctx, out.Run.ID, &model.RunResult{Steps: len(steps)}); err != nil {
			return out, err
		}
	}
	return out, runErr
}

// loadParameters reads a parameters CSV, or the store's table for the
// scenario when no file is given.
func loadParameters(ctx context.Context, res *fetcher.Resolver, st store.Store, ref, scenario string) (*tables.ParameterSet, error) {
	if ref != "" {
		path, err := res.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		return tables.ReadParameters(path)
	}
	if st == nil {
		return nil, eris.New("--params is required when the store is disabled")
	}
	rows, err := st.ListParameters(ctx, scenario)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("no stored parameters for scenario %q; run calibrate first or pass --params", scenario)
	}
	return &tables.ParameterSet{Rows: rows}, nil
}

func printProjection(w io.Writer, out *projectionOutcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "FROM\tTO\tALPHA\tBETA\tCURRENT\tTARGET\tCHANGE\tOUTPUT")
	for _, s := range out.Steps {
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%.4f\t%.4f\t%s\t%s\t%s\t%s\n",
			s.FromYear, s.ToYear, s.Params.Alpha, s.Params.Beta,
			formatPopulation(s.Current), formatPopulation(s.Target), formatPopulation(s.Change),
			s.Output,
		)
	}
	_ = tw.Flush()
}

var projectOpts projectOptions
var (
	projectNoStore bool
	projectRefresh bool
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Project regional population totals onto the grid",
	Long: "Starting from a population raster, redistributes the change to each aggregate target " +
		"decade by decade and writes pop_grid_<scenario>_<year>.asc per projected year.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("project"); err != nil {
			return err
		}

		deps := projectionDeps{Config: cfg, Resolver: newResolver(cfg.Fetch, projectRefresh)}
		if !projectNoStore {
			st, err := initStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			deps.Store = st
		}

		out, err := runProjection(ctx, projectOpts, deps)
		if out != nil && len(out.Steps) > 0 {
			printProjection(os.Stdout, out)
		}
		return err
	},
}

func init() {
	f := projectCmd.Flags()
	f.StringVar(&projectOpts.Start, "start", "", "population raster to start from, laid out as <region>/<name>_<year>.asc")
	f.StringVar(&projectOpts.Geometry.Mask, "mask", "", "suitability mask raster")
	f.StringVar(&projectOpts.Geometry.Boundary, "boundary", "", "boundary index CSV or polygon shapefile")
	f.StringVar(&projectOpts.Geometry.Coordinates, "coords", "", "cell coordinate CSV (id,x,y); cell centres when empty")
	f.StringVar(&projectOpts.Aggregates, "aggregates", "", "aggregate projections (CSV or XLSX with Region, Year, Population)")
	f.StringVar(&projectOpts.Parameters, "params", "", "parameters CSV (default: parameters stored by calibrate)")
	f.StringVar(&projectOpts.Region, "region", "", "region (default: parent directory of --start)")
	f.IntVar(&projectOpts.StartYear, "start-year", 0, "start year (default: parsed from --start)")
	f.IntVar(&projectOpts.EndYear, "end-year", 0, "last projected year (default from config)")
	f.IntVar(&projectOpts.Step, "step", 0, "years per step (default from config)")
	f.StringVar(&projectOpts.Scenario, "scenario", "", "scenario (default from config)")
	f.StringVar(&projectOpts.OutputDir, "out", "", "output directory (default from config)")
	f.BoolVar(&projectNoStore, "no-store", false, "do not record the run in the store")
	f.BoolVar(&projectRefresh, "refresh", false, "download remote inputs again")
	rootCmd.AddCommand(projectCmd)
}
