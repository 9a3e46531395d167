package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// StageSpec declares one external process run by the pipeline
type StageSpec struct {
	Name     string        `json:"name" mapstructure:"name"`
	Command  string        `json:"command" mapstructure:"command"`
	Args     []string      `json:"args,omitempty" mapstructure:"args"`
	Env      []string      `json:"env,omitempty" mapstructure:"env"`
	Dir      string        `json:"dir,omitempty" mapstructure:"dir"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
	Required bool          `json:"required" mapstructure:"required"`
}

// PipelineSpec is the ordered list of stages for one run
type PipelineSpec struct {
	Name   string      `json:"name" mapstructure:"name"`
	Stages []StageSpec `json:"stages" mapstructure:"stages"`
}

// Validate checks that the pipeline can be executed
func (p PipelineSpec) Validate() error {
	if p.Name == "" {
		return errors.New("pipeline name is required")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline %q has no stages", p.Name)
	}

	seen := make(map[string]struct{}, len(p.Stages))
	for i, stage := range p.Stages {
		if stage.Name == "" {
			return fmt.Errorf("stage %d: name is required", i)
		}
		if stage.Command == "" {
			return fmt.Errorf("stage %q: command is required", stage.Name)
		}
		if stage.Timeout < 0 {
			return fmt.Errorf("stage %q: timeout must not be negative", stage.Name)
		}
		if _, dup := seen[stage.Name]; dup {
			return fmt.Errorf("stage %q declared twice", stage.Name)
		}
		seen[stage.Name] = struct{}{}
	}

	return nil
}

// StageStatus constants
const (
	StageStatusSucceeded = "succeeded"
	StageStatusFailed    = "failed"
	StageStatusTimedOut  = "timed_out"
	StageStatusSkipped   = "skipped"
)

// StageResult is the outcome of a single stage
type StageResult struct {
	Name      string        `json:"name" db:"name"`
	Status    string        `json:"status" db:"status"`
	Required  bool          `json:"required" db:"required"`
	ExitCode  int           `json:"exit_code" db:"exit_code"`
	Stdout    string        `json:"stdout,omitempty" db:"stdout"`
	Stderr    string        `json:"stderr,omitempty" db:"stderr"`
	StartedAt time.Time     `json:"started_at" db:"started_at"`
	Duration  time.Duration `json:"duration" db:"duration"`
	Error     string        `json:"error,omitempty" db:"error"`
}

// Succeeded reports whether the stage completed successfully
func (s StageResult) Succeeded() bool {
	return s.Status == StageStatusSucceeded
}

// StageResults is a list of stage outcomes stored as JSON
type StageResults []StageResult

// Value implements driver.Valuer for database storage
func (sr StageResults) Value() (driver.Value, error) {
	return json.Marshal(sr)
}

// Scan implements sql.Scanner for database retrieval
func (sr *StageResults) Scan(value interface{}) error {
	if value == nil {
		*sr = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, sr)
	case string:
		return json.Unmarshal([]byte(v), sr)
	default:
		return fmt.Errorf("cannot scan %T into StageResults", value)
	}
}

// RunReport is returned by the pipeline runner once a run has finished
type RunReport struct {
	ID         string       `json:"id" db:"id"`
	Pipeline   string       `json:"pipeline" db:"pipeline"`
	StartedAt  time.Time    `json:"started_at" db:"started_at"`
	FinishedAt time.Time    `json:"finished_at" db:"finished_at"`
	Stages     StageResults `json:"stages" db:"stages"`
	Succeeded  bool         `json:"succeeded" db:"succeeded"`
	HaltedAt   string       `json:"halted_at,omitempty" db:"halted_at"`
}

// Duration returns the wall time of the run
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Stage returns the result for the named stage, or nil
func (r *RunReport) Stage(name string) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}
