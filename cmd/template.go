package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/popdownscale/internal/template"
)

var (
	templateLike    string
	templateRefs    geometryRefs
	templateOut     string
	templateRefresh bool
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Build and print the neighbourhood template",
	Long:  "Builds the distance template from the boundary's reference cell and writes it as JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		res := newResolver(cfg.Fetch, templateRefresh)

		like, _, err := readGrid(ctx, res, templateLike, "like")
		if err != nil {
			return err
		}
		refs := templateRefs
		if refs.Mask == "" {
			refs.Mask = templateLike
		}
		geo, err := loadGeometry(ctx, res, like, refs, cfg.Model)
		if err != nil {
			return err
		}

		w := io.Writer(os.Stdout)
		if templateOut != "" {
			f, err := os.Create(templateOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", templateOut)
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		if err := writeTemplate(w, geo.Template); err != nil {
			return err
		}
		if templateOut != "" {
			fmt.Fprintf(os.Stderr, "Wrote %d neighbours of cell %d to %s\n",
				geo.Template.Len(), geo.Template.Reference, templateOut)
		}
		return nil
	},
}

func writeTemplate(w io.Writer, t *template.Template) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(t), "encode template")
}

func init() {
	f := templateCmd.Flags()
	f.StringVar(&templateLike, "like", "", "raster that fixes the grid shape and geotransform")
	f.StringVar(&templateRefs.Mask, "mask", "", "mask raster (default: --like)")
	f.StringVar(&templateRefs.Boundary, "boundary", "", "boundary index CSV or polygon shapefile")
	f.StringVar(&templateRefs.Coordinates, "coords", "", "cell coordinate CSV (id,x,y); cell centres when empty")
	f.StringVar(&templateOut, "out", "", "write the template JSON here instead of stdout")
	f.BoolVar(&templateRefresh, "refresh", false, "download remote inputs again")
	rootCmd.AddCommand(templateCmd)
}
