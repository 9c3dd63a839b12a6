package model

import (
	"testing"
	"time"
)

func TestRunStatus(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   string
	}{
		{RunStatusQueued, "queued"},
		{RunStatusPending, "pending"},
		{RunStatusRunning, "running"},
		{RunStatusCompleted, "completed"},
		{RunStatusError, "error"},
	}

	for _, tt := range tests {
		if string(tt.status) != tt.want {
			t.Errorf("RunStatus = %v, want %v", tt.status, tt.want)
		}
	}
}

func TestRunCanRetry(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   bool
	}{
		{RunStatusQueued, false},
		{RunStatusRunning, false},
		{RunStatusCompleted, false},
		{RunStatusError, true},
	}

	for _, tt := range tests {
		r := &Run{Status: tt.status}
		if got := r.CanRetry(); got != tt.want {
			t.Errorf("CanRetry(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestRunResetForRetry(t *testing.T) {
	now := time.Now()
	errMsg := "connector timeout"
	r := &Run{
		ID:          "run-1",
		Status:      RunStatusError,
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
		ThreadID:    "thread-old",
		Error:       &errMsg,
		Metadata:    &RunMetadata{Turns: 2},
		StartedAt:   &now,
		HeartbeatAt: &now,
	}

	r.ResetForRetry("thread-new", now)

	if r.Status != RunStatusQueued {
		t.Errorf("Status = %v, want queued", r.Status)
	}
	if len(r.Messages) != 0 || r.Messages == nil {
		t.Errorf("Messages = %v, want empty slice", r.Messages)
	}
	if r.Error != nil || r.Result != nil || r.Metadata != nil {
		t.Error("expected error, result and metadata to be cleared")
	}
	if r.ThreadID != "thread-new" {
		t.Errorf("ThreadID = %v, want thread-new", r.ThreadID)
	}
	if r.StartedAt != nil || r.HeartbeatAt != nil {
		t.Error("expected timestamps to be cleared")
	}
}

func TestScenarioFailureMode(t *testing.T) {
	s := &Scenario{}
	if s.FailureMode() != FailureEveryTurn {
		t.Errorf("default FailureMode = %v, want every_turn", s.FailureMode())
	}
	s.FailureCriteriaMode = FailureOnMaxMessages
	if s.FailureMode() != FailureOnMaxMessages {
		t.Errorf("FailureMode = %v, want on_max_messages", s.FailureMode())
	}
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{Input: 1, Output: 2, Total: 3}
	u.Add(TokenUsage{Input: 10, Output: 20, Total: 30})
	if u != (TokenUsage{Input: 11, Output: 22, Total: 33}) {
		t.Errorf("Add = %+v", u)
	}
}
