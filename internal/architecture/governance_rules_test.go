package architecture_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const modulePath = "querydesk"

type layerRule struct {
	sourcePrefix string
	forbidden    []string
	hint         string
}

// architectureRules apply to production files. The composition root
// (internal/app and cmd) is the only place allowed to see every layer.
var architectureRules = []layerRule{
	{
		sourcePrefix: modulePath + "/internal/domain",
		forbidden: []string{
			modulePath + "/internal/api",
			modulePath + "/internal/app",
			modulePath + "/internal/service",
			modulePath + "/internal/db",
			modulePath + "/internal/engine",
			modulePath + "/internal/middleware",
			modulePath + "/internal/fingerprint",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "domain may only import domain",
	},
	{
		sourcePrefix: modulePath + "/internal/fingerprint",
		forbidden: []string{
			modulePath + "/internal",
		},
		hint: "fingerprint is a leaf package",
	},
	{
		sourcePrefix: modulePath + "/internal/service",
		forbidden: []string{
			modulePath + "/internal/api",
			modulePath + "/internal/app",
			modulePath + "/internal/db",
			modulePath + "/internal/engine",
			modulePath + "/internal/middleware",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "service should depend on domain and service-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/api",
		forbidden: []string{
			modulePath + "/internal/app",
			modulePath + "/internal/db",
			modulePath + "/internal/engine",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "api should depend on service/domain/api packages",
	},
	{
		sourcePrefix: modulePath + "/internal/db",
		forbidden: []string{
			modulePath + "/internal/api",
			modulePath + "/internal/app",
			modulePath + "/internal/service",
			modulePath + "/internal/engine",
			modulePath + "/internal/middleware",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "db should depend on domain and db-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/engine",
		forbidden: []string{
			modulePath + "/internal/api",
			modulePath + "/internal/app",
			modulePath + "/internal/service",
			modulePath + "/internal/db",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "engine should depend on domain and engine-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/middleware",
		forbidden: []string{
			modulePath + "/internal/app",
			modulePath + "/internal/service",
			modulePath + "/internal/db",
			modulePath + "/internal/engine",
		},
		hint: "middleware should depend on domain and middleware-local packages",
	},
	{
		sourcePrefix: modulePath + "/pkg/cli",
		forbidden: []string{
			modulePath + "/internal/api",
			modulePath + "/internal/app",
			modulePath + "/internal/service",
			modulePath + "/internal/db",
			modulePath + "/internal/engine",
		},
		hint: "the CLI talks to the server over HTTP and may only share domain types",
	},
}

func collectGoFiles(root string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "_examples" || d.Name() == "testdata" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, filepath.ToSlash(path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func repoRootDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func findRule(sourcePkg string) (layerRule, bool) {
	for _, rule := range architectureRules {
		if hasPathPrefix(sourcePkg, rule.sourcePrefix) {
			return rule, true
		}
	}
	return layerRule{}, false
}

func matchingForbiddenPrefix(importPath string, forbidden []string) string {
	for _, prefix := range forbidden {
		if hasPathPrefix(importPath, prefix) {
			return prefix
		}
	}
	return ""
}

func hasPathPrefix(value string, prefix string) bool {
	return value == prefix || strings.HasPrefix(value, prefix+"/")
}

// packageImportPath maps a file under the repo root to its package path.
func packageImportPath(file string) string {
	return modulePath + "/" + filepath.ToSlash(filepath.Dir(relToRepoRoot(file)))
}

func isTestFile(path string) bool {
	return strings.HasSuffix(filepath.Base(path), "_test.go")
}

func parseImports(t *testing.T, file string) []string {
	t.Helper()

	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
	require.NoErrorf(t, err, "parse imports for %s", file)

	imports := make([]string, 0, len(parsed.Imports))
	for _, imp := range parsed.Imports {
		imports = append(imports, strings.Trim(imp.Path.Value, "\""))
	}
	return imports
}

func relToRepoRoot(path string) string {
	rel, err := filepath.Rel(repoRootDir(), path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func TestArchitectureRules_AreWellFormed(t *testing.T) {
	for _, r := range architectureRules {
		require.NotEmptyf(t, r.forbidden, "rule for %s forbids nothing", r.sourcePrefix)
		require.NotEmptyf(t, r.hint, "rule for %s needs a hint", r.sourcePrefix)
		seen := make(map[string]bool, len(r.forbidden))
		for _, f := range r.forbidden {
			require.Falsef(t, seen[f], "rule for %s lists %s twice", r.sourcePrefix, f)
			seen[f] = true
		}
	}
	prefixes := make([]string, 0, len(architectureRules))
	for _, r := range architectureRules {
		prefixes = append(prefixes, r.sourcePrefix)
	}
	sorted := append([]string(nil), prefixes...)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		require.NotEqualf(t, sorted[i-1], sorted[i], "duplicate rule for %s", sorted[i])
	}
}
