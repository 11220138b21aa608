package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

const (
	DefaultDir = "pkg/migrate/migrations"

	versionLayout = "20060102150405"
)

var (
	fileNameRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)
	slugRe     = regexp.MustCompile(`[^a-z0-9]+`)
)

// File is one goose SQL migration on disk.
type File struct {
	Version int64
	Name    string
	Path    string
}

// ListFiles returns the .sql migrations in dir ordered by version. Names
// that do not follow <version>_<slug>.sql are reported, not skipped.
func ListFiles(dir string) ([]File, error) {
	if dir == "" {
		return nil, fmt.Errorf("migrations dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %q: %w", dir, err)
	}

	var (
		files []File
		errs  error
	)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		m := fileNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: name must look like %s_slug.sql", e.Name(), versionLayout))
			continue
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		files = append(files, File{Version: version, Name: m[2], Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, errs
}

// Validate checks every migration in dir and reports all problems at once:
// bad names, repeated versions and files missing a goose Up or Down section.
func Validate(dir string) error {
	files, errs := ListFiles(dir)
	for i, f := range files {
		if i > 0 && files[i-1].Version == f.Version {
			errs = multierr.Append(errs, fmt.Errorf("version %d used by %s and %s", f.Version, files[i-1].Name, f.Name))
		}
		body, err := os.ReadFile(f.Path)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, checkSections(filepath.Base(f.Path), string(body)))
	}
	return errs
}

func checkSections(name, body string) error {
	up := strings.Index(body, "-- +goose Up")
	down := strings.Index(body, "-- +goose Down")
	switch {
	case up < 0:
		return fmt.Errorf("%s: no -- +goose Up section", name)
	case down < 0:
		return fmt.Errorf("%s: no -- +goose Down section", name)
	case down < up:
		return fmt.Errorf("%s: Down section comes before Up", name)
	}
	return nil
}

// NewFile writes an empty migration stamped with now and returns it.
func NewFile(dir, name string, now time.Time) (File, error) {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return File{}, fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return File{}, fmt.Errorf("create migrations dir: %w", err)
	}

	stamp := now.UTC().Format(versionLayout)
	version, _ := strconv.ParseInt(stamp, 10, 64)
	f := File{Version: version, Name: slug, Path: filepath.Join(dir, stamp+"_"+slug+".sql")}

	body := "-- +goose Up\n-- +goose StatementBegin\n\n-- +goose StatementEnd\n\n" +
		"-- +goose Down\n-- +goose StatementBegin\n\n-- +goose StatementEnd\n"
	out, err := os.OpenFile(f.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return File{}, fmt.Errorf("create %s: %w", f.Path, err)
	}
	if _, err := out.WriteString(body); err != nil {
		_ = out.Close()
		return File{}, err
	}
	return f, out.Close()
}
