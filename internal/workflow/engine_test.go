package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func twoStepWorkflow() *Workflow {
	return &Workflow{
		Name:    "test",
		Version: "1.0",
		Steps: []Step{
			{
				Name:            "first",
				Description:     "first step",
				Order:           1,
				Required:        true,
				Actions:         []string{"act"},
				ExpectedOutputs: []string{"a"},
			},
			{
				Name:            "second",
				Description:     "second step",
				Order:           2,
				Required:        false,
				Actions:         []string{"act"},
				ExpectedOutputs: []string{"b"},
			},
		},
	}
}

func okHandler(key string) Handler {
	return func(ctx context.Context, step Step, inputs map[string]any) (*HandlerResult, error) {
		return &HandlerResult{Outputs: map[string]any{key: true}}, nil
	}
}

func TestValidateWorkflow(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Workflow)
		message string
	}{
		{"valid", func(w *Workflow) {}, ""},
		{"no steps", func(w *Workflow) { w.Steps = nil }, "Workflow must have at least one step"},
		{"no required", func(w *Workflow) {
			for i := range w.Steps {
				w.Steps[i].Required = false
			}
		}, "Workflow must have at least one required step"},
		{"duplicate names", func(w *Workflow) { w.Steps[1].Name = "first" }, "Workflow steps must have unique names"},
		{"bad order", func(w *Workflow) { w.Steps[1].Order = 5 }, "Workflow steps must have consecutive order values starting from 1"},
		{"no description", func(w *Workflow) { w.Steps[0].Description = " " }, "Step 'first' must have a description"},
		{"no actions", func(w *Workflow) { w.Steps[0].Actions = nil }, "Step 'first' must have at least one action"},
		{"no outputs", func(w *Workflow) { w.Steps[1].ExpectedOutputs = nil }, "Step 'second' must have at least one expected output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := twoStepWorkflow()
			tt.mutate(w)
			errs := Validate(w)
			if tt.message == "" {
				if len(errs) != 0 {
					t.Errorf("unexpected errors: %v", errs)
				}
				return
			}
			found := false
			for _, e := range errs {
				if e == tt.message {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v missing %q", errs, tt.message)
			}
		})
	}
}

func TestConstructorRejectsDuplicateNames(t *testing.T) {
	w := twoStepWorkflow()
	w.Steps[1].Name = "first"
	_, err := NewEngine(w, EngineConfig{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "Workflow validation failed") ||
		!strings.Contains(err.Error(), "Workflow steps must have unique names") {
		t.Errorf("error = %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	e, err := NewEngine(twoStepWorkflow(), EngineConfig{})
	if err != nil {
		t.Fatal(err)
	}
	e.RegisterHandler("first", okHandler("a"))
	e.RegisterHandler("second", okHandler("b"))

	if _, err := e.ExecuteNextStep(context.Background(), nil); err == nil ||
		!strings.Contains(err.Error(), "Cannot execute step in status: not_started") {
		t.Errorf("execute before start: %v", err)
	}

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err == nil ||
		!strings.Contains(err.Error(), "Cannot start workflow in status: in_progress") {
		t.Errorf("double start: %v", err)
	}

	res, err := e.ExecuteNextStep(context.Background(), nil)
	if err != nil || res.Step != "first" || !res.Success {
		t.Fatalf("first step: res=%+v err=%v", res, err)
	}
	res, err = e.ExecuteNextStep(context.Background(), nil)
	if err != nil || res.Step != "second" {
		t.Fatalf("second step: res=%+v err=%v", res, err)
	}

	if st := e.State(); st.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", st.Status)
	}
	if _, err := e.ExecuteNextStep(context.Background(), nil); err == nil ||
		!strings.Contains(err.Error(), "All workflow steps have been completed") {
		t.Errorf("execute after completion: %v", err)
	}
}

func TestExecutionOrder(t *testing.T) {
	e, err := NewAuditWorkflowEngine(EngineConfig{})
	if err != nil {
		t.Fatal(err)
	}
	var executed []string
	for _, s := range DefaultAuditWorkflow().Steps {
		e.RegisterHandler(s.Name, func(ctx context.Context, step Step, inputs map[string]any) (*HandlerResult, error) {
			executed = append(executed, step.Name)
			outputs := make(map[string]any, len(step.ExpectedOutputs))
			for _, k := range step.ExpectedOutputs {
				outputs[k] = "x"
			}
			return &HandlerResult{Outputs: outputs}, nil
		})
	}

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	for range DefaultAuditWorkflow().Steps {
		if _, err := e.ExecuteNextStep(context.Background(), nil); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{StepInit, StepRepro, StepStatic, StepTests, StepDynamic, StepConform, StepTrace, StepVerdict}
	if len(executed) != len(want) {
		t.Fatalf("executed %v", executed)
	}
	for i := range want {
		if executed[i] != want[i] {
			t.Errorf("step %d = %s, want %s", i, executed[i], want[i])
		}
	}
}

func TestMissingRequiredOutput(t *testing.T) {
	e, err := NewEngine(twoStepWorkflow(), EngineConfig{})
	if err != nil {
		t.Fatal(err)
	}
	e.RegisterHandler("first", okHandler("wrong_key"))

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	_, err = e.ExecuteNextStep(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "Missing required output 'a'") {
		t.Errorf("err = %v", err)
	}
	if st := e.State(); st.Status != StatusFailed {
		t.Errorf("status = %s, want failed", st.Status)
	}
}

func TestContinueOnFailure(t *testing.T) {
	e, err := NewEngine(twoStepWorkflow(), EngineConfig{ContinueOnFailure: true})
	if err != nil {
		t.Fatal(err)
	}
	stepErr := errors.New("boom")
	e.RegisterHandler("first", func(ctx context.Context, step Step, inputs map[string]any) (*HandlerResult, error) {
		return nil, stepErr
	})
	e.RegisterHandler("second", okHandler("b"))

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	res, err := e.ExecuteNextStep(context.Background(), nil)
	if err != nil {
		t.Fatalf("continueOnFailure should not propagate: %v", err)
	}
	if res.Success || len(res.Errors) != 1 || res.Errors[0] != "boom" {
		t.Errorf("res = %+v", res)
	}

	res, err = e.ExecuteNextStep(context.Background(), nil)
	if err != nil || !res.Success {
		t.Fatalf("second step after failure: res=%+v err=%v", res, err)
	}

	st := e.State()
	if st.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", st.Status)
	}
	if len(st.Errors) != 1 {
		t.Errorf("state errors = %v", st.Errors)
	}
}

func TestSkipToStep(t *testing.T) {
	e, err := NewEngine(twoStepWorkflow(), EngineConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if err := e.SkipToStep("second"); err == nil ||
		!strings.Contains(err.Error(), "Step skipping is not allowed in current configuration") {
		t.Errorf("skip without allowSkipping: %v", err)
	}

	e2, err := NewEngine(twoStepWorkflow(), EngineConfig{AllowSkipping: true})
	if err != nil {
		t.Fatal(err)
	}
	e2.RegisterHandler("second", okHandler("b"))
	if err := e2.Start(); err != nil {
		t.Fatal(err)
	}
	if err := e2.SkipToStep("missing"); err == nil ||
		!strings.Contains(err.Error(), "Step 'missing' not found in workflow") {
		t.Errorf("skip to unknown: %v", err)
	}
	if err := e2.SkipToStep("second"); err != nil {
		t.Fatal(err)
	}
	res, err := e2.ExecuteNextStep(context.Background(), nil)
	if err != nil || res.Step != "second" {
		t.Errorf("res=%+v err=%v", res, err)
	}

	e3, err := NewEngine(twoStepWorkflow(), EngineConfig{AllowSkipping: true, EnforceOrder: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := e3.Start(); err != nil {
		t.Fatal(err)
	}
	if err := e3.SkipToStep("second"); err == nil ||
		!strings.Contains(err.Error(), "Step order violation") {
		t.Errorf("order violation: %v", err)
	}
}

func TestEvidenceAccumulation(t *testing.T) {
	e, err := NewEngine(twoStepWorkflow(), EngineConfig{})
	if err != nil {
		t.Fatal(err)
	}
	e.RegisterHandler("first", func(ctx context.Context, step Step, inputs map[string]any) (*HandlerResult, error) {
		return &HandlerResult{
			Outputs: map[string]any{"a": 1},
			Evidence: []EvidenceItem{
				{Type: "security", Severity: SeverityCritical, Description: "bad"},
				{Type: "style", Severity: SeverityMinor, Description: "meh"},
			},
		}, nil
	})
	e.RegisterHandler("second", func(ctx context.Context, step Step, inputs map[string]any) (*HandlerResult, error) {
		return &HandlerResult{
			Outputs:  map[string]any{"b": 1},
			Evidence: []EvidenceItem{{Type: "bug", Severity: SeverityMajor, Description: "hm"}},
		}, nil
	})

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	res, err := e.ExecuteNextStep(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NextActions) == 0 || !strings.Contains(res.NextActions[0], "1 critical") {
		t.Errorf("nextActions = %v", res.NextActions)
	}
	if _, err := e.ExecuteNextStep(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	if got := len(e.AllEvidence()); got != 3 {
		t.Errorf("allEvidence = %d, want 3", got)
	}
	if got := len(e.EvidenceBySeverity(SeverityCritical)); got != 1 {
		t.Errorf("critical = %d, want 1", got)
	}
	if got := len(e.EvidenceBySeverity(SeverityMajor)); got != 1 {
		t.Errorf("major = %d, want 1", got)
	}
}

func TestPanickingHandlerFailsStep(t *testing.T) {
	e, err := NewEngine(twoStepWorkflow(), EngineConfig{})
	if err != nil {
		t.Fatal(err)
	}
	e.RegisterHandler("first", func(ctx context.Context, step Step, inputs map[string]any) (*HandlerResult, error) {
		panic("handler bug")
	})
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	_, err = e.ExecuteNextStep(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "step handler panicked") {
		t.Errorf("err = %v", err)
	}
}

func TestNextActionsAlwaysNonEmpty(t *testing.T) {
	for _, evidence := range [][]EvidenceItem{nil, {{Severity: SeverityMinor}}} {
		if actions := nextActions(evidence); len(actions) == 0 {
			t.Errorf("nextActions(%v) empty", evidence)
		}
	}
}
