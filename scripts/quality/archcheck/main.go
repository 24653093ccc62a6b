// Command archcheck enforces the import layering of the mimic module.
//
// Run it from the repository root: go run ./scripts/quality/archcheck
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
)

const modulePrefix = "ex-mimic/"

type listedPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

// layerRule forbids packages under from importing anything under one of the to prefixes.
type layerRule struct {
	from   string
	to     []string
	reason string
}

var layerRules = []layerRule{
	{
		from:   "pkg/otogi",
		to:     []string{"internal/", "modules/", "cmd/"},
		reason: "pkg/otogi is the public contract and imports nothing in-module",
	},
	{
		from:   "internal/mimic",
		to:     []string{"pkg/", "internal/", "modules/"},
		reason: "internal/mimic is platform independent",
	},
	{
		from:   "internal/archive",
		to:     []string{"pkg/", "internal/mimic", "internal/kernel", "internal/driver", "modules/"},
		reason: "internal/archive stores opaque blobs",
	},
	{
		from:   "internal/kernel",
		to:     []string{"internal/driver", "internal/mimic", "internal/archive", "modules/"},
		reason: "internal/kernel only knows pkg/otogi",
	},
	{
		from:   "internal/driver",
		to:     []string{"internal/kernel", "internal/mimic", "internal/archive", "modules/"},
		reason: "drivers only translate platform traffic to pkg/otogi",
	},
	{
		from:   "internal/adminhttp",
		to:     []string{"pkg/", "internal/kernel", "internal/driver", "modules/"},
		reason: "the admin surface talks to the coordinator, not the runtime",
	},
	{
		from:   "modules/",
		to:     []string{"internal/kernel", "internal/driver", "internal/adminhttp", "cmd/"},
		reason: "modules reach the runtime only through pkg/otogi services",
	},
}

func main() {
	packages, err := listPackages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arch-check: %v\n", err)
		os.Exit(1)
	}

	violations := collectViolations(packages)
	if len(violations) == 0 {
		_, _ = fmt.Fprintf(os.Stdout, "arch-check: passed\n")
		return
	}

	_, _ = fmt.Fprintf(os.Stdout, "arch-check: %d architecture violations:\n", len(violations))
	for _, violation := range violations {
		_, _ = fmt.Fprintf(os.Stdout, "  - %s\n", violation)
	}
	os.Exit(1)
}

func listPackages() ([]listedPackage, error) {
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("go list -json -test ./...: %w", err)
	}

	return decodePackages(&stdout)
}

func decodePackages(r io.Reader) ([]listedPackage, error) {
	decoder := json.NewDecoder(r)
	result := make([]listedPackage, 0, 32)
	for {
		var pkg listedPackage
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath == "" {
			continue
		}
		result = append(result, pkg)
	}

	return result, nil
}

func collectViolations(packages []listedPackage) []string {
	found := make(map[string]struct{})
	for _, pkg := range packages {
		// go list -test reports "ex-mimic/x [ex-mimic/x.test]" variants
		importer, _, _ := strings.Cut(pkg.ImportPath, " ")
		for _, imported := range slices.Concat(pkg.Imports, pkg.TestImports, pkg.XTestImports) {
			imported, _, _ = strings.Cut(imported, " ")
			if reason := violationReason(importer, imported); reason != "" {
				found[fmt.Sprintf("%s -> %s (%s)", importer, imported, reason)] = struct{}{}
			}
		}
	}

	return slices.Sorted(maps.Keys(found))
}

func violationReason(importer, imported string) string {
	from, ok := strings.CutPrefix(importer, modulePrefix)
	if !ok {
		return ""
	}
	to, ok := strings.CutPrefix(imported, modulePrefix)
	if !ok || from == to {
		return ""
	}

	for _, rule := range layerRules {
		// a layer may import its own subpackages
		if !strings.HasPrefix(from, rule.from) || strings.HasPrefix(to, rule.from) {
			continue
		}
		for _, forbidden := range rule.to {
			if strings.HasPrefix(to, forbidden) {
				return rule.reason
			}
		}
	}

	return ""
}
