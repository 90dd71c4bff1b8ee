package grid

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ReadASCIIFile reads an ESRI ASCII grid from path.
func ReadASCIIFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	g, err := ReadASCII(f)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: read %s", path)
	}
	return g, nil
}

// ReadASCII parses an ESRI ASCII grid. Both corner and centre registration
// are accepted; the returned geotransform is always anchored at the
// upper-left corner.
func ReadASCII(r io.Reader) (*Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	header := make(map[string]float64, 6)
	var pending string
	havePending := false
	for sc.Scan() {
		tok := sc.Text()
		if !isHeaderKey(tok) {
			pending, havePending = tok, true
			break
		}
		if !sc.Scan() {
			return nil, eris.Errorf("grid: header key %q has no value", tok)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "grid: header %s", tok)
		}
		header[strings.ToLower(tok)] = v
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "grid: scan header")
	}

	ncols, okc := header["ncols"]
	nrows, okr := header["nrows"]
	if !okc || !okr {
		return nil, eris.New("grid: header missing ncols/nrows")
	}
	cellSize, ok := header["cellsize"]
	if !ok || cellSize <= 0 {
		return nil, eris.New("grid: header missing positive cellsize")
	}

	rows, err := headerDim("nrows", nrows)
	if err != nil {
		return nil, err
	}
	cols, err := headerDim("ncols", ncols)
	if err != nil {
		return nil, err
	}
	if rows > MaxCells/cols {
		return nil, eris.Errorf("grid: %dx%d raster exceeds %d cells", rows, cols, MaxCells)
	}
	values := make([]float64, 0, rows*cols)
	parse := func(tok string) error {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return eris.Wrapf(err, "grid: cell %d", len(values))
		}
		values = append(values, v)
		return nil
	}
	if havePending {
		if err := parse(pending); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		if err := parse(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "grid: scan values")
	}

	g, err := New(rows, cols, values)
	if err != nil {
		return nil, err
	}
	g.Geo.CellSize = cellSize

	xll, yll := header["xllcorner"], header["yllcorner"]
	if v, ok := header["xllcenter"]; ok {
		xll = v - cellSize/2
	}
	if v, ok := header["yllcenter"]; ok {
		yll = v - cellSize/2
	}
	g.Geo.OriginX = xll
	g.Geo.OriginY = yll + float64(rows)*cellSize

	if nd, ok := header["nodata_value"]; ok {
		g.NoData, g.HasNoData = nd, true
	}
	return g, nil
}

// MaxCells bounds the rasters ReadASCII accepts.
const MaxCells = 1 << 28

// headerDim checks that a row or column count is a positive integer.
func headerDim(key string, v float64) (int, error) {
	if v != math.Trunc(v) || v < 1 || v > MaxCells {
		return 0, eris.Errorf("grid: header %s must be a positive integer, got %v", key, v)
	}
	return int(v), nil
}

func isHeaderKey(tok string) bool {
	switch strings.ToLower(tok) {
	case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter", "cellsize", "nodata_value":
		return true
	}
	return false
}

// WriteASCIIFile writes g to path as an ESRI ASCII grid.
func WriteASCIIFile(path string, g *Grid) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "grid: create %s", path)
	}
	if err := WriteASCII(f, g); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "grid: write %s", path)
	}
	return eris.Wrapf(f.Close(), "grid: close %s", path)
}

// WriteASCII encodes g as an ESRI ASCII grid with corner registration.
func WriteASCII(w io.Writer, g *Grid) error {
	bw := bufio.NewWriter(w)
	yll := g.Geo.OriginY - float64(g.Rows)*g.Geo.CellSize
	fmt.Fprintf(bw, "ncols %d\nnrows %d\n", g.Cols, g.Rows)
	fmt.Fprintf(bw, "xllcorner %s\nyllcorner %s\n", formatFloat(g.Geo.OriginX), formatFloat(yll))
	fmt.Fprintf(bw, "cellsize %s\n", formatFloat(g.Geo.CellSize))
	if g.HasNoData {
		fmt.Fprintf(bw, "NODATA_value %s\n", formatFloat(g.NoData))
	}
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			if c > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(formatFloat(g.Values[g.Index(r, c)]))
		}
		bw.WriteByte('\n')
	}
	return eris.Wrap(bw.Flush(), "grid: flush")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
