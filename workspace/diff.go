package workspace

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/hupe1980/taskmesh/core"
)

// unifiedDiff renders a unified diff between two artifact versions.
func unifiedDiff(name string, from, to core.ArtifactVersion) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(from.Data)),
		B:        difflib.SplitLines(string(to.Data)),
		FromFile: fmt.Sprintf("%s@v%d", name, from.Version),
		ToFile:   fmt.Sprintf("%s@v%d", name, to.Version),
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("diff %s: %w", name, err)
	}
	return text, nil
}
