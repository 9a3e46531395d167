package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStageResultsValue(t *testing.T) {
	results := StageResults{
		{Name: "generate", Status: StageStatusSucceeded, Required: true},
		{Name: "upload", Status: StageStatusSkipped},
	}

	value, err := results.Value()
	if err != nil {
		t.Fatalf("Failed to get value: %v", err)
	}

	var decoded []map[string]interface{}
	if err := json.Unmarshal(value.([]byte), &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	if len(decoded) != 2 {
		t.Fatalf("Expected 2 stages, got %d", len(decoded))
	}
	if decoded[0]["name"] != "generate" {
		t.Errorf("Expected name=generate, got %v", decoded[0]["name"])
	}
}

func TestStageResultsScan(t *testing.T) {
	var results StageResults
	if err := results.Scan([]byte(`[{"name":"normalize","status":"failed","exit_code":1}]`)); err != nil {
		t.Fatalf("Failed to scan: %v", err)
	}

	if len(results) != 1 || results[0].ExitCode != 1 {
		t.Errorf("Unexpected scan result: %+v", results)
	}

	if err := results.Scan(nil); err != nil {
		t.Fatalf("Failed to scan nil: %v", err)
	}
	if results != nil {
		t.Error("Expected nil results after scanning nil")
	}
}

func TestStageResultsScanText(t *testing.T) {
	var results StageResults
	if err := results.Scan(`[{"name":"publish","status":"succeeded"}]`); err != nil {
		t.Fatalf("Failed to scan text: %v", err)
	}
	if len(results) != 1 || results[0].Name != "publish" {
		t.Errorf("Unexpected scan result: %+v", results)
	}
}

func TestStageResultsScanRejectsUnknownType(t *testing.T) {
	results := StageResults{{Name: "generate"}}
	if err := results.Scan(42); err == nil {
		t.Fatal("Expected an error scanning an int")
	}
	if len(results) != 1 || results[0].Name != "generate" {
		t.Errorf("Results must be left untouched, got %+v", results)
	}
}

func TestPipelineSpecValidate(t *testing.T) {
	stage := StageSpec{Name: "generate", Command: "reelforge", Timeout: time.Minute}

	tests := []struct {
		name    string
		spec    PipelineSpec
		wantErr bool
	}{
		{name: "valid", spec: PipelineSpec{Name: "daily", Stages: []StageSpec{stage}}},
		{name: "missing name", spec: PipelineSpec{Stages: []StageSpec{stage}}, wantErr: true},
		{name: "no stages", spec: PipelineSpec{Name: "daily"}, wantErr: true},
		{
			name:    "missing command",
			spec:    PipelineSpec{Name: "daily", Stages: []StageSpec{{Name: "x"}}},
			wantErr: true,
		},
		{
			name:    "duplicate stage",
			spec:    PipelineSpec{Name: "daily", Stages: []StageSpec{stage, stage}},
			wantErr: true,
		},
		{
			name: "negative timeout",
			spec: PipelineSpec{Name: "daily", Stages: []StageSpec{
				{Name: "x", Command: "true", Timeout: -time.Second},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunReportStage(t *testing.T) {
	start := time.Now()
	report := &RunReport{
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		Stages:     StageResults{{Name: "a"}, {Name: "b", Status: StageStatusSucceeded}},
	}

	if report.Duration() != 3*time.Second {
		t.Errorf("Expected 3s duration, got %v", report.Duration())
	}
	if s := report.Stage("b"); s == nil || !s.Succeeded() {
		t.Errorf("Expected stage b to be found and succeeded, got %+v", s)
	}
	if report.Stage("missing") != nil {
		t.Error("Expected nil for unknown stage")
	}
}

func TestPlatformPreset(t *testing.T) {
	p := PlatformPreset("tiktok")
	if p == nil || p.Width != 720 || p.Height != 1280 {
		t.Fatalf("Unexpected tiktok preset: %+v", p)
	}

	if PlatformPreset("myspace") != nil {
		t.Error("Expected nil for unknown platform")
	}
}

func TestJobStateIsTerminal(t *testing.T) {
	terminal := []JobState{JobStateCompleted, JobStateFailed, JobStateTimedOut, JobStateDownloadFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}

	for _, s := range []JobState{JobStateSubmitting, JobStateBackoffWait, JobStatePolling} {
		if s.IsTerminal() {
			t.Errorf("Expected %s to be non-terminal", s)
		}
	}
}

func TestGeometryPlanPadded(t *testing.T) {
	plan := GeometryPlan{ScaleWidth: 720, ScaleHeight: 1280, FitWidth: 720, FitHeight: 404}
	if !plan.Padded() {
		t.Error("Expected plan to be padded")
	}

	plan.FitHeight = 1280
	if plan.Padded() {
		t.Error("Expected plan without padding")
	}
}
