package optimizer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/rodgdutra/ptp-dal/core/trace"
)

// Filename returns the path of the window configuration for the dataset
// file. Without a dataset file, the name is derived from the current time.
func (o *Optimizer) Filename(file string) string {
	if file == "" {
		return filepath.Join(o.configDir,
			"runner-"+o.now().Format("20060102-150405")+"-config.json")
	}
	base := filepath.Base(file)
	for _, ext := range []string{".json", ".npz"} {
		if b, ok := strings.CutSuffix(base, ext); ok {
			base = b
			break
		}
	}
	return filepath.Join(o.configDir, base+"-config.json")
}

// Save writes the estimator configurations to the file named by Filename.
func (o *Optimizer) Save(file string) error {
	name := o.Filename(file)
	b, err := json.Marshal(o.est)
	if err != nil {
		return fmt.Errorf("failed to encode window configurations: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to create configuration directory: %w", err)
	}
	if err := os.WriteFile(name, b, 0o644); err != nil {
		return fmt.Errorf("failed to save window configurations: %w", err)
	}
	o.log.Info("saved window configurations", zap.String("file", name))
	return nil
}

// Load replaces the estimator configurations by those stored at path.
func (o *Optimizer) Load(path string) error {
	if path == "" {
		return fmt.Errorf("no window configuration file given: %w", trace.ErrInvalidArgument)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to load window configurations: %w", err)
	}
	est := make(map[string]EstimatorConfig)
	if err := json.Unmarshal(b, &est); err != nil {
		return fmt.Errorf("failed to decode window configurations %s: %w", path, err)
	}
	o.est = est
	o.log.Info("loaded window configurations", zap.String("file", path))
	return nil
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
