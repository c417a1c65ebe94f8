package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/easystate/internal/harness"
)

// collectScenarioFiles expands each path into scenario files. A directory
// contributes its .yaml and .yml files; a file is taken as is. A non-empty
// filter is a glob matched against the file name without its extension.
func collectScenarioFiles(paths []string, filter string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("scenario path not found: %s", p))
		}

		var candidates []string
		if info.IsDir() {
			candidates, err = harness.ScenarioFiles(p)
			if err != nil {
				return nil, WrapExitError(ExitCommandError, "failed to list scenarios", err)
			}
		} else {
			candidates = []string{p}
		}

		for _, f := range candidates {
			ok, err := matchFilter(f, filter)
			if err != nil {
				return nil, err
			}
			if ok {
				files = append(files, f)
			}
		}
	}
	return files, nil
}

func matchFilter(path, filter string) (bool, error) {
	if filter == "" {
		return true, nil
	}
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	matched, err := filepath.Match(filter, name)
	if err != nil {
		return false, WrapExitError(ExitCommandError, "invalid filter pattern", err)
	}
	return matched, nil
}

// goldenFilePath returns the golden file kept beside a scenario:
// <dir>/golden/<name>.golden.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}
