package trace

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Export writes rt to path as YAML.
func Export(rt *RunTrace, path string) error {
	data, err := yaml.Marshal(rt)
	if err != nil {
		return fmt.Errorf("marshal run trace: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run trace %s: %w", path, err)
	}
	return nil
}

// Load reads a run trace written by Export.
func Load(path string) (*RunTrace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run trace: %w", err)
	}
	var rt RunTrace
	if err := yaml.Unmarshal(data, &rt); err != nil {
		return nil, fmt.Errorf("parse run trace %s: %w", path, err)
	}
	return &rt, nil
}
