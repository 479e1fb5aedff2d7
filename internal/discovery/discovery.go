// Package discovery locates a scenario on disk and enumerates its
// requirement files in a deterministic order.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"reqsync/internal/config"
	"reqsync/internal/logging"
)

var (
	ErrScenarioNotFound    = errors.New("scenario not found")
	ErrRequirementsMissing = errors.New("requirements folder missing")
)

// Error wraps configuration failures detected while locating a scenario.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// IndexFile is the registry entry point, always returned first.
const IndexFile = "index.json"

// File is one requirement file.
type File struct {
	// Path is the absolute, cleaned path.
	Path string
	// Rel is the forward-slash path relative to the scenario root
	// (e.g. "requirements/core.json"). Snapshots are keyed by Rel.
	Rel string
	// Index marks requirements/index.json.
	Index bool
}

// ResolveScenarioRoot finds the directory of the named scenario.
//
// Resolution order:
//  1. Walk upward from cwd. At each ancestor d accept d itself when it is
//     named after the scenario, then d/<name>, then d/scenarios/<name>; a
//     candidate must contain a test/ directory.
//  2. cwd/scenarios/<name> when it exists.
//  3. $REQSYNC_ROOT/scenarios/<name>, then $VROOLI_ROOT/scenarios/<name>.
func ResolveScenarioRoot(name, cwd string, getenv func(string) string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &Error{Kind: ErrScenarioNotFound, Msg: "scenario name is required"}
	}
	if cwd == "" {
		return "", &Error{Kind: ErrScenarioNotFound, Msg: "working directory is required"}
	}
	cwd = filepath.Clean(cwd)

	for dir := cwd; ; {
		candidates := []string{
			filepath.Join(dir, name),
			filepath.Join(dir, "scenarios", name),
		}
		if filepath.Base(dir) == name {
			candidates = append([]string{dir}, candidates...)
		}
		for _, c := range candidates {
			if isDir(filepath.Join(c, "test")) {
				return c, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if c := filepath.Join(cwd, "scenarios", name); isDir(c) {
		return c, nil
	}

	if getenv != nil {
		for _, key := range []string{config.EnvRoot, config.EnvLegacyRoot} {
			base := strings.TrimSpace(getenv(key))
			if base == "" {
				continue
			}
			if c := filepath.Join(base, "scenarios", name); isDir(c) {
				return c, nil
			}
		}
	}

	return "", &Error{Kind: ErrScenarioNotFound, Msg: name}
}

// CollectRequirementFiles enumerates every requirement file of a scenario:
// requirements/index.json (first), the files it imports, and every *.json
// found by a full walk of the requirements folder, de-duplicated by absolute
// path. Everything after the index is ordered by Rel.
func CollectRequirementFiles(root string, cfg config.Config, log *zap.Logger) ([]File, error) {
	log = logging.OrNop(log)
	reqDir := config.Resolve(root, cfg.RequirementsDir)
	if !isDir(reqDir) {
		return nil, &Error{Kind: ErrRequirementsMissing, Msg: reqDir}
	}

	seen := make(map[string]struct{})
	var index *File
	var rest []File

	add := func(abs string) error {
		abs = filepath.Clean(abs)
		if _, ok := seen[abs]; ok {
			return nil
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", abs, err)
		}
		seen[abs] = struct{}{}
		f := File{Path: abs, Rel: filepath.ToSlash(rel)}
		if abs == filepath.Join(reqDir, IndexFile) {
			f.Index = true
			index = &f
			return nil
		}
		rest = append(rest, f)
		return nil
	}

	indexPath := filepath.Join(reqDir, IndexFile)
	if isFile(indexPath) {
		if err := add(indexPath); err != nil {
			return nil, err
		}
		for _, imp := range readImports(indexPath, log) {
			p := imp
			if !filepath.IsAbs(p) {
				p = filepath.Join(reqDir, filepath.FromSlash(imp))
			}
			if !isFile(p) {
				log.Warn("index import not found", zap.String("import", imp))
				continue
			}
			if err := add(p); err != nil {
				return nil, err
			}
		}
	}

	err := filepath.WalkDir(reqDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if excluded(filepath.ToSlash(rel), cfg.ExcludeGlobs) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		return add(path)
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", reqDir, err)
	}

	sort.Slice(rest, func(i, j int) bool { return rest[i].Rel < rest[j].Rel })

	out := make([]File, 0, len(rest)+1)
	if index != nil {
		out = append(out, *index)
	}
	return append(out, rest...), nil
}

// readImports returns the "imports" list of the index file. Unreadable or
// malformed indexes yield no imports; the parser reports them later.
func readImports(path string, log *zap.Logger) []string {
	data, err := os.ReadFile(path)
	if err != nil || !gjson.ValidBytes(data) {
		return nil
	}
	var out []string
	for _, v := range gjson.GetBytes(data, "imports").Array() {
		s := strings.TrimSpace(v.String())
		if s == "" {
			log.Warn("ignoring empty index import")
			continue
		}
		out = append(out, s)
	}
	return out
}

func excluded(rel string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
