package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// shapefileSidecars are extracted alongside a .shp member when present.
var shapefileSidecars = []string{".shx", ".dbf", ".prj", ".cpg"}

// ExtractZIPMember extracts one member of a ZIP archive into destDir,
// keeping the member's relative directory. For a .shp member the sidecar
// files sharing its stem come along. Returns the extracted member path.
func ExtractZIPMember(zipPath, member, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	byName := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		byName[f.Name] = f
	}

	f, ok := byName[member]
	if !ok || f.FileInfo().IsDir() {
		return "", eris.Errorf("zip: file %q not found in archive", member)
	}
	out, err := extractZIPEntry(f, destDir)
	if err != nil {
		return "", err
	}

	if strings.EqualFold(path.Ext(member), ".shp") {
		stem := strings.TrimSuffix(member, path.Ext(member))
		for _, ext := range shapefileSidecars {
			for _, name := range []string{stem + ext, stem + strings.ToUpper(ext)} {
				if side, ok := byName[name]; ok {
					if _, err := extractZIPEntry(side, destDir); err != nil {
						return "", err
					}
					break
				}
			}
		}
	}
	return out, nil
}

// extractZIPEntry extracts a single zip.File to the destination directory.
// Returns the extracted file path, or empty string for directories.
func extractZIPEntry(f *zip.File, destDir string) (string, error) {
	// zip slip
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return "", eris.Wrap(err, "zip: create directory")
		}
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}
	return destPath, nil
}
