package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Resolver turns input references into local file paths.
//
// A reference is a local path, an http(s):// or ftp:// URL, or
// "<archive>.zip!<member>" where the archive is itself any of those.
// Remote objects land in CacheDir under a per-URL directory that keeps
// the object's parent directory name, so region names encoded in the
// directory survive the download.
type Resolver struct {
	CacheDir string
	HTTP     Fetcher
	FTP      Fetcher
	// Refresh forces a new download even when a cached copy exists.
	Refresh bool
}

// NewResolver creates a Resolver over the given fetchers. Nil fetchers get
// the defaults.
func NewResolver(cacheDir string, httpFetcher, ftpFetcher Fetcher) *Resolver {
	if httpFetcher == nil {
		httpFetcher = NewHTTPFetcher(HTTPOptions{})
	}
	if ftpFetcher == nil {
		ftpFetcher = NewFTPFetcher(FTPOptions{})
	}
	return &Resolver{CacheDir: cacheDir, HTTP: httpFetcher, FTP: ftpFetcher}
}

// Resolve returns a local path for ref. An empty ref resolves to "".
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", eris.Wrapf(err, "fetcher: resolve %s", ref)
	}

	archive, member, ok := splitArchive(ref)
	if !ok {
		return r.fetch(ctx, ref)
	}

	local, err := r.fetch(ctx, archive)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(r.cacheDir(), "zip", cacheKey(local))
	out, err := ExtractZIPMember(local, member, dest)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: extract %s from %s", member, archive)
	}
	zap.L().Debug("fetcher: extracted archive member",
		zap.String("archive", archive),
		zap.String("member", member),
		zap.String("path", out),
	)
	return out, nil
}

func (r *Resolver) cacheDir() string {
	if r.CacheDir == "" {
		return filepath.Join(os.TempDir(), "popdownscale")
	}
	return r.CacheDir
}

func (r *Resolver) fetch(ctx context.Context, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil || len(u.Scheme) <= 1 {
		// plain path (or a Windows drive letter)
		if _, err := os.Stat(ref); err != nil {
			return "", eris.Wrapf(err, "fetcher: input %s", ref)
		}
		return ref, nil
	}

	var f Fetcher
	switch strings.ToLower(u.Scheme) {
	case "file":
		if _, err := os.Stat(u.Path); err != nil {
			return "", eris.Wrapf(err, "fetcher: input %s", ref)
		}
		return u.Path, nil
	case "http", "https":
		f = r.HTTP
	case "ftp":
		f = r.FTP
	default:
		return "", eris.Errorf("fetcher: unsupported scheme %q in %s", u.Scheme, ref)
	}

	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return "", eris.Errorf("fetcher: no file name in %s", ref)
	}
	dest := filepath.Join(r.cacheDir(), cacheKey(ref), path.Base(path.Dir(u.Path)), base)

	if !r.Refresh {
		if info, err := os.Stat(dest); err == nil && !info.IsDir() {
			zap.L().Debug("fetcher: cache hit", zap.String("url", ref), zap.String("path", dest))
			return dest, nil
		}
	}

	n, err := downloadToFile(ctx, f, ref, dest)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: download %s", ref)
	}
	zap.L().Info("fetcher: downloaded input",
		zap.String("url", ref),
		zap.String("path", dest),
		zap.Int64("bytes", n),
	)
	return dest, nil
}

// splitArchive splits "<archive>.zip!<member>".
func splitArchive(ref string) (archive, member string, ok bool) {
	i := strings.LastIndex(ref, "!")
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	archive, member = ref[:i], ref[i+1:]
	if !strings.EqualFold(path.Ext(archive), ".zip") {
		return "", "", false
	}
	return archive, member, true
}

func cacheKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
