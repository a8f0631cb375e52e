package version

import (
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/vk/actiongraph/internal/action"
	"github.com/zeebo/blake3"
)

// sourceFile is one file included in an action's version.
type sourceFile struct {
	relPath string
	absPath string
}

// scanSources walks an action's base path and returns the files selected by
// its include/exclude globs, sorted by relative path. Project-wide ignore
// patterns take precedence over includes: a file matching an ignore pattern
// is excluded even when an include pattern names it explicitly.
func scanSources(spec *action.Spec, ignore []string) ([]sourceFile, error) {
	if spec.BasePath == "" {
		return nil, nil
	}

	var files []sourceFile
	err := filepath.WalkDir(spec.BasePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(spec.BasePath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !selectSource(rel, spec.Include, spec.Exclude, ignore) {
			return nil
		}
		files = append(files, sourceFile{relPath: rel, absPath: path})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].relPath < files[j].relPath })
	return files, nil
}

// OwnsPath reports whether a (possibly changed) file belongs to an action's
// source set, applying the same include/exclude/ignore rules as the version
// scan. Used by watch-mode invalidation.
func OwnsPath(spec *action.Spec, ignore []string, path string) bool {
	if spec.BasePath == "" {
		return false
	}
	rel, err := filepath.Rel(spec.BasePath, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return false
	}
	return selectSource(filepath.ToSlash(rel), spec.Include, spec.Exclude, ignore)
}

// selectSource applies the filtering rules to one relative path.
func selectSource(rel string, include, exclude, ignore []string) bool {
	for _, pattern := range ignore {
		if matchGlob(pattern, rel) {
			return false
		}
	}
	for _, pattern := range exclude {
		if matchGlob(pattern, rel) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pattern := range include {
		if matchGlob(pattern, rel) {
			return true
		}
	}
	return false
}

// matchGlob matches a path against a doublestar pattern. Invalid patterns
// match nothing.
func matchGlob(pattern, rel string) bool {
	ok, err := doublestar.Match(pattern, rel)
	return err == nil && ok
}

// hashFile returns the hex blake3 digest of a file's contents.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
