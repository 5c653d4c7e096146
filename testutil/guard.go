// Package testutil provides reusable testing helpers for enforcing
// architectural boundaries across the repository.
package testutil

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// ImportPredicate reports whether an import path is forbidden.
type ImportPredicate func(importPath string) bool

// InternalImportForbidden matches any txcore/internal package.
func InternalImportForbidden(path string) bool {
	return strings.HasPrefix(path, "txcore/internal/")
}

// BackendImportForbidden matches the concrete storage, blob and config
// packages that only hosts should select.
func BackendImportForbidden(path string) bool {
	for _, prefix := range []string{"txcore/internal/infra/", "txcore/internal/blob", "txcore/internal/config"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// AssertNoDirectImports parses every non-test .go file under dir (recursively
// when recursive is set) and fails if an import satisfies forbidden.
func AssertNoDirectImports(t testing.TB, dir string, recursive bool, forbidden ImportPredicate, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, recursive, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	failIfViolations(t, reason, viols)
}

func directImportViolations(dir string, recursive bool, forbidden ImportPredicate) ([]string, error) {
	fset := token.NewFileSet()
	var viols []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			return nil
		}
		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		for _, imp := range file.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+filepath.ToSlash(rel)+")")
			}
		}
		return nil
	})
	sort.Strings(viols)
	return viols, err
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden direct imports detected (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}
