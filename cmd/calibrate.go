package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/popdownscale/internal/calibrate"
	"github.com/sells-group/popdownscale/internal/config"
	"github.com/sells-group/popdownscale/internal/fetcher"
	"github.com/sells-group/popdownscale/internal/model"
	"github.com/sells-group/popdownscale/internal/projection"
	"github.com/sells-group/popdownscale/internal/store"
	"github.com/sells-group/popdownscale/internal/tables"
)

// calibrateOptions are the per-invocation inputs of a calibration.
type calibrateOptions struct {
	Year1     string
	Year2     string
	Geometry  geometryRefs
	Region    string
	Year      int
	Scenario  string
	OutputDir string
	Report    bool
}

// calibrationDeps are the collaborators of a calibration. Store may be nil;
// Refiner nil means the configured BoundedRefiner.
type calibrationDeps struct {
	Config   *config.Config
	Resolver *fetcher.Resolver
	Store    store.Store
	Refiner  calibrate.Refiner
}

// calibrationOutcome is what a calibration produced, also on failure.
type calibrationOutcome struct {
	Run            *model.Run
	Result         *calibrate.Result
	Manifest       *tables.Manifest
	Change         float64
	OutputDir      string
	RecordsFile    string
	ParametersFile string
	ReportFile     string
}

func runCalibration(ctx context.Context, opts calibrateOptions, deps calibrationDeps) (*calibrationOutcome, error) {
	c := deps.Config
	res := deps.Resolver

	year1, year1Path, err := readGrid(ctx, res, opts.Year1, "year1")
	if err != nil {
		return nil, err
	}
	year2, year2Path, err := readGrid(ctx, res, opts.Year2, "year2")
	if err != nil {
		return nil, err
	}
	if !year1.SameShape(year2) {
		return nil, eris.Errorf("year2 is %dx%d, year1 is %dx%d", year2.Rows, year2.Cols, year1.Rows, year1.Cols)
	}

	region, year := opts.Region, opts.Year
	if region == "" || year == 0 {
		r, y, perr := projection.ParseStartRaster(year1Path)
		if region == "" {
			region = r
		}
		if year == 0 {
			if perr != nil {
				return nil, eris.Wrap(perr, "calibrate: pass --year or name the raster <name>_<year>.asc")
			}
			year = y
		}
	}
	scenario := opts.Scenario
	if scenario == "" {
		scenario = c.Calibration.Scenario
	}

	geo, err := loadGeometry(ctx, res, year1, opts.Geometry, c.Model)
	if err != nil {
		return nil, err
	}

	problem, err := calibrate.NewProblem(calibrate.ProblemInput{
		Year1:    year1,
		Year2:    year2,
		Mask:     geo.Mask,
		Boundary: geo.Boundary,
		Template: geo.Template,
		Region:   region,
		Year:     year,
	})
	if err != nil {
		return nil, err
	}

	out := &calibrationOutcome{
		Change:    problem.Change(),
		OutputDir: filepath.Join(opts.OutputDir, region),
	}
	inputs := tables.Inputs{
		Year1:       year1Path,
		Year2:       year2Path,
		Mask:        opts.Geometry.Mask,
		Boundary:    opts.Geometry.Boundary,
		Coordinates: opts.Geometry.Coordinates,
		Reference:   geo.Template.Reference,
		Cutoff:      geo.Template.Cutoff,
	}

	if deps.Store != nil {
		run, err := deps.Store.CreateRun(ctx, model.Run{
			Kind:     model.RunKindCalibration,
			Region:   region,
			Scenario: scenario,
			Year:     year,
			Inputs: model.RunInputs{
				Year1:       inputs.Year1,
				Year2:       inputs.Year2,
				Mask:        inputs.Mask,
				Boundary:    inputs.Boundary,
				Coordinates: inputs.Coordinates,
				Reference:   inputs.Reference,
				Cutoff:      inputs.Cutoff,
			},
		})
		if err != nil {
			return nil, err
		}
		out.Run = run
	}

	refiner := deps.Refiner
	if refiner == nil {
		refiner = c.Calibration.Refiner()
	}
	calibrator := calibrate.New(newRedistributor(c.Model),
		calibrate.WithSearchGrid(c.Calibration.SearchGrid()),
		calibrate.WithRefiner(refiner),
	)

	zap.L().Info("calibration started",
		zap.String("region", region),
		zap.Int("year", year),
		zap.Int("cells", problem.Cells()),
		zap.Float64("change", problem.Change()),
	)
	started := time.Now().UTC()
	result, calErr := calibrator.Calibrate(ctx, problem)
	out.Result = result

	m := &tables.Manifest{
		Region:     region,
		Year:       year,
		Scenario:   scenario,
		Inputs:     inputs,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if out.Run != nil {
		m.RunID = out.Run.ID
	}
	out.Manifest = m

	var records []calibrate.Record
	if result != nil {
		records = result.Records
		m.Seed = result.Seed
	}
	if len(records) > 0 {
		out.RecordsFile = filepath.Join(out.OutputDir, tables.RecordsFile)
		if err := tables.WriteRecords(out.RecordsFile, records); err != nil {
			return out, err
		}
		if deps.Store != nil {
			if err := deps.Store.SaveRecords(ctx, out.Run.ID, records); err != nil {
				return out, err
			}
		}
	}

	if calErr != nil {
		m.Status = string(model.RunStatusFailed)
		m.Message = calErr.Error()
		if err := finishCalibration(ctx, out, opts, deps.Store, nil); err != nil {
			zap.L().Error("recording failed calibration", zap.Error(err))
		}
		return out, calErr
	}

	m.Status = string(model.RunStatusComplete)
	m.Params = &result.Params
	m.Error = result.Error

	rows, err := tables.ExpandYears(result.Params, scenario, region,
		c.Calibration.FirstYear, c.Calibration.LastYear, c.Calibration.YearStep)
	if err != nil {
		return out, err
	}
	out.ParametersFile = filepath.Join(out.OutputDir, fmt.Sprintf("parameters_%s.csv", scenario))
	if err := tables.WriteParameters(out.ParametersFile, rows); err != nil {
		return out, err
	}
	if deps.Store != nil {
		if _, err := deps.Store.UpsertParameters(ctx, out.Run.ID, rows); err != nil {
			return out, err
		}
	}

	runResult := &model.RunResult{
		Alpha:     result.Params.Alpha,
		Beta:      result.Params.Beta,
		Error:     result.Error,
		SeedAlpha: result.Seed.Alpha,
		SeedBeta:  result.Seed.Beta,
		SeedError: result.Seed.Error,
		Pairs:     len(result.Records),
	}
	if err := finishCalibration(ctx, out, opts, deps.Store, runResult); err != nil {
		return out, err
	}

	zap.L().Info("calibration complete",
		zap.String("region", region),
		zap.Int("year", year),
		zap.Float64("alpha", result.Params.Alpha),
		zap.Float64("beta", result.Params.Beta),
		zap.Float64("error", result.Error),
	)
	return out, nil
}

// finishCalibration writes the manifest and optional report and closes the
// stored run. A nil result marks the run failed.
func finishCalibration(ctx context.Context, out *calibrationOutcome, opts calibrateOptions, st store.Store, result *model.RunResult) error {
	if err := tables.WriteManifest(filepath.Join(out.OutputDir, tables.ManifestFile), out.Manifest); err != nil {
		return err
	}
	if opts.Report {
		var records []calibrate.Record
		if out.Result != nil {
			records = out.Result.Records
		}
		out.ReportFile = filepath.Join(out.OutputDir, "calibration.xlsx")
		if err := tables.WriteReport(out.ReportFile, out.Manifest, records); err != nil {
			return err
		}
	}
	if st == nil || out.Run == nil {
		return nil
	}
	if result == nil {
		return st.FailRun(ctx, out.Run.ID, out.Manifest.Message)
	}
	return st.CompleteRun(ctx, out.Run.ID, result)
}

func printCalibration(w io.Writer, out *calibrationOutcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	m := out.Manifest
	if out.Run != nil {
		_, _ = fmt.Fprintf(tw, "Run:\t%s\n", out.Run.ID)
	}
	_, _ = fmt.Fprintf(tw, "Region:\t%s\n", m.Region)
	_, _ = fmt.Fprintf(tw, "Year:\t%d\n", m.Year)
	_, _ = fmt.Fprintf(tw, "Change:\t%s\n", formatPopulation(out.Change))
	_, _ = fmt.Fprintf(tw, "Seed:\talpha=%.4f beta=%.4f error=%s\n", m.Seed.Alpha, m.Seed.Beta, formatPopulation(m.Seed.Error))
	if m.Params != nil {
		_, _ = fmt.Fprintf(tw, "Refined:\talpha=%.4f beta=%.4f error=%s\n", m.Params.Alpha, m.Params.Beta, formatPopulation(m.Error))
	}
	_, _ = fmt.Fprintf(tw, "Status:\t%s\n", m.Status)
	for _, f := range []string{out.RecordsFile, out.ParametersFile, out.ReportFile} {
		if f != "" {
			_, _ = fmt.Fprintf(tw, "Wrote:\t%s\n", f)
		}
	}
	_ = tw.Flush()
}

var calibrateOpts calibrateOptions
var (
	calibrateNoStore bool
	calibrateRefresh bool
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Calibrate alpha and beta between two population rasters",
	Long: "Runs a grid search over (alpha, beta) followed by a bounded local refinement, " +
		"writes initial_values.csv, parameters_<scenario>.csv and calibration.yaml, and records the run in the store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("calibrate"); err != nil {
			return err
		}

		deps := calibrationDeps{Config: cfg, Resolver: newResolver(cfg.Fetch, calibrateRefresh)}
		if !calibrateNoStore {
			st, err := initStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			deps.Store = st
		}

		opts := calibrateOpts
		if opts.OutputDir == "" {
			opts.OutputDir = cfg.Calibration.OutputDir
		}
		out, err := runCalibration(ctx, opts, deps)
		if out != nil && out.Manifest != nil {
			printCalibration(os.Stdout, out)
		}
		return err
	},
}

func init() {
	f := calibrateCmd.Flags()
	f.StringVar(&calibrateOpts.Year1, "year1", "", "population raster of the base year (path, URL or archive.zip!member)")
	f.StringVar(&calibrateOpts.Year2, "year2", "", "population raster of the target year")
	f.StringVar(&calibrateOpts.Geometry.Mask, "mask", "", "suitability mask raster")
	f.StringVar(&calibrateOpts.Geometry.Boundary, "boundary", "", "boundary index CSV or polygon shapefile")
	f.StringVar(&calibrateOpts.Geometry.Coordinates, "coords", "", "cell coordinate CSV (id,x,y); cell centres when empty")
	f.StringVar(&calibrateOpts.Region, "region", "", "region label (default: parent directory of --year1)")
	f.IntVar(&calibrateOpts.Year, "year", 0, "base year label (default: parsed from --year1)")
	f.StringVar(&calibrateOpts.Scenario, "scenario", "", "scenario written to the parameters table (default from config)")
	f.StringVar(&calibrateOpts.OutputDir, "out", "", "output directory (default from config)")
	f.BoolVar(&calibrateOpts.Report, "report", false, "also write an XLSX report")
	f.BoolVar(&calibrateNoStore, "no-store", false, "do not record the run in the store")
	f.BoolVar(&calibrateRefresh, "refresh", false, "download remote inputs again")
	rootCmd.AddCommand(calibrateCmd)
}
