package arch_test

import (
	"path/filepath"
	"testing"
)

// layers orders pulsar's internal packages from foundation to entry points.
// A package may import only packages at its own layer or below.
var layers = map[string]int{
	// Pure data and algorithms.
	"dag":       0,
	"scoring":   0,
	"telemetry": 0,

	// Board model, storage and configuration.
	"board":  1,
	"config": 1,

	// Read side of the board and the hooks claimed items are handed to.
	"readiness": 2,
	"dispatch":  2,

	// Claim, release and stage transitions.
	"claim": 3,

	// Loops and presentation on top of the coordinator.
	"poller": 4,
	"ui":     4,
}

func TestDependencyLayering(t *testing.T) {
	t.Parallel()

	dir := internalDirPath(t)
	for _, pkg := range internalPackages(t) {
		layer, ok := layers[pkg]
		if !ok {
			t.Errorf("package %s has no entry in layers", pkg)
			continue
		}
		for _, imp := range importsOf(t, filepath.Join(dir, pkg)) {
			if l, ok := layers[imp]; ok && l > layer {
				t.Errorf("%s (layer %d) imports %s (layer %d)", pkg, layer, imp, l)
			}
		}
	}
}
