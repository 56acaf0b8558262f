package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/st3v3nmw/quorumcheck/internal/attest"
)

type reportFile struct {
	RunID     string           `yaml:"run_id"`
	Started   string           `yaml:"started"`
	Elapsed   string           `yaml:"elapsed"`
	Passed    bool             `yaml:"passed"`
	Scenarios []scenarioResult `yaml:"scenarios"`
}

type scenarioResult struct {
	Key     string   `yaml:"key"`
	Name    string   `yaml:"name"`
	Status  string   `yaml:"status"`
	Elapsed string   `yaml:"elapsed,omitempty"`
	Error   string   `yaml:"error,omitempty"`
	Cleanup []string `yaml:"cleanup,omitempty"`
}

func newReportFile(runID string, report *attest.Report) reportFile {
	rf := reportFile{
		RunID:   runID,
		Started: report.Started.Format(time.RFC3339),
		Elapsed: report.Elapsed.Round(time.Millisecond).String(),
		Passed:  report.Passed(),
	}

	for _, res := range report.Results {
		sr := scenarioResult{Key: res.Key, Name: res.Name}

		switch {
		case res.Skipped:
			sr.Status = "skipped"
		case res.Passed:
			sr.Status = "passed"
		default:
			sr.Status = "failed"
		}

		if !res.Skipped {
			sr.Elapsed = res.Elapsed.Round(time.Millisecond).String()
		}

		if res.Err != nil {
			if res.Err.Err != nil {
				sr.Error = res.Err.Err.Error()
			}
			for _, err := range res.Err.Cleanup {
				sr.Cleanup = append(sr.Cleanup, err.Error())
			}
		}

		rf.Scenarios = append(rf.Scenarios, sr)
	}

	return rf
}

func writeReport(path string, rf reportFile) error {
	bytes, err := yaml.Marshal(rf)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}

	if err := os.WriteFile(path, bytes, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}
