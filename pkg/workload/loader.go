package workload

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/a8m/envsubst"
	"gopkg.in/yaml.v3"

	"github.com/burrowhq/burrow/pkg/types"
)

// workloadFile is the on-disk document shape: one or more workloads.
type workloadFile struct {
	Workloads []*types.WorkloadSpec `yaml:"workloads"`
}

// LoadFile reads workload specs from a YAML file. ${VAR} references are
// substituted from the environment before parsing, so credentials never
// live in the file itself. Relative seed paths resolve against the file's
// directory. Every spec is validated; the first file-level error or the
// aggregated per-field validation errors are returned.
func LoadFile(path string) ([]*types.WorkloadSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workload file: %w", err)
	}

	substituted, err := envsubst.Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to substitute variables in %s: %w", path, err)
	}

	var file workloadFile
	if err := yaml.Unmarshal(substituted, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(file.Workloads) == 0 {
		// A file holding a single bare spec is also accepted.
		var single types.WorkloadSpec
		if err := yaml.Unmarshal(substituted, &single); err == nil && single.ID != "" {
			file.Workloads = []*types.WorkloadSpec{&single}
		}
	}
	if len(file.Workloads) == 0 {
		return nil, fmt.Errorf("no workloads found in %s", path)
	}

	baseDir := filepath.Dir(path)
	for _, w := range file.Workloads {
		resolveSeeds(w, baseDir)
		if err := Validate(w); err != nil {
			return nil, fmt.Errorf("workload %q: %w", w.ID, err)
		}
	}
	return file.Workloads, nil
}

// LoadDir loads every *.yaml / *.yml file in a directory.
func LoadDir(dir string) ([]*types.WorkloadSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workload dir: %w", err)
	}

	var all []*types.WorkloadSpec
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
		default:
			continue
		}
		specs, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		all = append(all, specs...)
	}
	return all, nil
}

// resolveSeeds makes relative seed paths absolute against the config file
// location.
func resolveSeeds(w *types.WorkloadSpec, baseDir string) {
	if w.Volumes == nil {
		return
	}
	fix := func(v *types.Volume) {
		if v != nil && v.Seed != "" && !filepath.IsAbs(v.Seed) {
			v.Seed = filepath.Join(baseDir, v.Seed)
		}
	}
	fix(w.Volumes.State)
	fix(w.Volumes.Secrets)
	fix(w.Volumes.Comm)
	for name, v := range w.Volumes.Custom {
		vv := v
		fix(&vv)
		w.Volumes.Custom[name] = vv
	}
}
