package agent

import (
	"testing"

	"github.com/haasonsaas/kira/internal/tools"
)

func pendingState() *State {
	return &State{
		PendingConfirmation:  true,
		PendingPlan:          []PlanStep{{Tool: "task_delete", Args: map[string]any{"id": "x"}}},
		ConfirmationQuestion: "Подтверди?",
	}
}

func TestUpdateClearsPendingTrioByDefault(t *testing.T) {
	s := pendingState()
	NewUpdate().Status(StatusExecuting).apply(s)

	if s.PendingConfirmation || s.PendingPlan != nil || s.ConfirmationQuestion != "" {
		t.Errorf("trio survived implicitly: %v %v %q",
			s.PendingConfirmation, s.PendingPlan, s.ConfirmationQuestion)
	}
	if s.Status != StatusExecuting {
		t.Errorf("status = %s", s.Status)
	}
}

func TestUpdateClearsConfirmedByDefault(t *testing.T) {
	s := &State{Confirmed: true}
	NewUpdate().Status(StatusExecuting).apply(s)

	if s.Confirmed {
		t.Error("approval survived an unrelated update")
	}

	NewUpdate().Confirmed().apply(s)
	if !s.Confirmed {
		t.Error("explicit approval not applied")
	}
	NewUpdate().Step(1).apply(s)
	if s.Confirmed {
		t.Error("approval survived the following node")
	}
}

func TestPreservePendingCarriesTrio(t *testing.T) {
	s := pendingState()
	NewUpdate().Response("q").PreservePending(s).apply(s)

	if !s.PendingConfirmation || len(s.PendingPlan) != 1 || s.ConfirmationQuestion != "Подтверди?" {
		t.Errorf("trio lost: %v %v %q",
			s.PendingConfirmation, s.PendingPlan, s.ConfirmationQuestion)
	}
}

func TestUpdateLeavesUnrelatedFieldsAlone(t *testing.T) {
	s := &State{Reasoning: "why", RetryCount: 1, StepsUsed: 3}
	NewUpdate().Status(StatusCompleted).apply(s)

	if s.Reasoning != "why" || s.RetryCount != 1 || s.StepsUsed != 3 {
		t.Errorf("unrelated fields changed: %+v", s)
	}
}

func TestAppendResultAccumulates(t *testing.T) {
	s := &State{}
	NewUpdate().AppendResult(&tools.Result{Tool: "task_list", Status: tools.StatusOK}).apply(s)
	NewUpdate().AppendResult(&tools.Result{Tool: "task_get", Status: tools.StatusError}).apply(s)

	if len(s.ToolResults) != 2 {
		t.Fatalf("results = %d", len(s.ToolResults))
	}
	if s.ToolResults[0].Tool != "task_list" || s.ToolResults[1].Tool != "task_get" {
		t.Errorf("order wrong: %+v", s.ToolResults)
	}
}

func TestUserMessageFindsNewest(t *testing.T) {
	s := &State{}
	if s.UserMessage() != "" {
		t.Error("empty state returned a message")
	}
}

func TestClassifyConfirmation(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"да", confirmAffirm},
		{"Да!", confirmAffirm},
		{"yes", confirmAffirm},
		{"подтверждаю", confirmAffirm},
		{"ok", confirmAffirm},
		{"давай", confirmAffirm},
		{"GO AHEAD", confirmAffirm},
		{"нет", confirmReject},
		{"no", confirmReject},
		{"отмена", confirmReject},
		{"cancel", confirmReject},
		{"стоп", confirmReject},
		{"List all tasks", confirmOther},
		{"да, но сначала покажи список", confirmOther},
		{"yesterday", confirmOther},
		{"", confirmOther},
	}
	for _, tc := range cases {
		if got := classifyConfirmation(tc.message); got != tc.want {
			t.Errorf("classifyConfirmation(%q) = %s, want %s", tc.message, got, tc.want)
		}
	}
}
