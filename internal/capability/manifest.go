// Package capability implements the lifecycle state machine, process
// supervisor, and NDJSON IPC contract for externally-spawned capability
// workers (spec §4.4). A capability arrives as a codegen artifact in a
// staging directory, watched by fsnotify (following the teacher's use of
// fsnotify for filesystem watch patterns); its manifest is a YAML
// document, consistent with the teacher's YAML config convention
// (internal/config) generalized to a per-capability descriptor instead of
// one process-wide file.
package capability

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"iris/internal/types"
)

// manifestYAML mirrors types.CapabilityManifest's wire shape on disk.
type manifestYAML struct {
	Name        string   `yaml:"name"`
	BinaryPath  string   `yaml:"binary_path"`
	Permissions []string `yaml:"permissions"`
	Keywords    []string `yaml:"keywords"`
	Limits      struct {
		MaxMemoryBytes int64 `yaml:"max_memory_bytes"`
		MaxCPUPercent  int   `yaml:"max_cpu_percent"`
		MaxWallSeconds int   `yaml:"max_wall_seconds"`
	} `yaml:"limits"`
}

// LoadManifest parses one capability manifest file.
func LoadManifest(path string) (types.CapabilityManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.CapabilityManifest{}, types.Tag(types.KindCapabilityFault, "capability.LoadManifest", err)
	}
	var raw manifestYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return types.CapabilityManifest{}, types.Tag(types.KindValidation, "capability.LoadManifest", err)
	}

	perms := make([]types.Permission, 0, len(raw.Permissions))
	for _, p := range raw.Permissions {
		perms = append(perms, types.Permission(p))
	}

	return types.CapabilityManifest{
		Name:        raw.Name,
		BinaryPath:  raw.BinaryPath,
		Permissions: perms,
		Keywords:    raw.Keywords,
		Limits: types.ResourceLimits{
			MaxMemoryBytes: raw.Limits.MaxMemoryBytes,
			MaxCPUPercent:  raw.Limits.MaxCPUPercent,
			MaxWallClock:   time.Duration(raw.Limits.MaxWallSeconds) * time.Second,
		},
	}, nil
}
