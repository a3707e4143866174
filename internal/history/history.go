package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/studiowebux/medprobe/internal/config"
	"github.com/studiowebux/medprobe/internal/e2e"
)

// Run is a stored end-to-end run
type Run struct {
	ID           int64             `json:"id" yaml:"id"`
	RunID        string            `json:"run_id" yaml:"run_id"`
	BaseURL      string            `json:"base_url" yaml:"base_url"`
	StartedAt    time.Time         `json:"started_at" yaml:"started_at"`
	Duration     time.Duration     `json:"duration" yaml:"duration"`
	Status       string            `json:"status" yaml:"status"`
	StagesTotal  int               `json:"stages_total" yaml:"stages_total"`
	StagesPassed int               `json:"stages_passed" yaml:"stages_passed"`
	Steps        []e2e.StageResult `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// Export writes report as indented JSON into dir, named
// e2e_{timestamp}_{run id prefix}.json, and returns the file path.
func Export(dir string, report *e2e.Report) (string, error) {
	if err := os.MkdirAll(dir, config.DirPermissions); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	short := report.RunID
	if len(short) > 8 {
		short = short[:8]
	}
	filename := fmt.Sprintf("e2e_%s_%s.json", report.StartedAt.Format("20060102_150405"), short)
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, data, config.FilePermissions); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return path, nil
}
