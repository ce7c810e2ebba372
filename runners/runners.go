// Package runners contains the built-in language back-ends for the kernel
// agent, plus the registry that maps the CLI language argument to one.
package runners

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/buildkite/shellwords"
	"github.com/lablup/backend.ai-kernel-runner/agent"
)

// New returns the back-end for the given language name.
func New(lang string) (agent.Runner, error) {
	switch lang {
	case "app":
		return NewAppRunner(), nil
	case "golang", "go":
		return NewGoRunner(), nil
	case "c":
		return NewCRunner(), nil
	case "cpp", "c++":
		return NewCppRunner(), nil
	case "python":
		return NewPythonRunner(), nil
	default:
		return nil, fmt.Errorf("unknown language %q (supported: %s)",
			lang, strings.Join(Languages(), ", "))
	}
}

// Languages lists the supported language names.
func Languages() []string {
	return []string{"app", "c", "cpp", "golang", "python"}
}

// sourceFiles collects files with the given extension under the working
// directory, sorted for a stable command line.
func sourceFiles(ext string) []string {
	var files []string
	_ = filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ext {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files
}

// quoteAll shell-quotes every path for interpolation into a command line.
func quoteAll(paths []string) []string {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = shellwords.Quote(p)
	}
	return quoted
}
