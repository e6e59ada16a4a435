package task

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
)

func TestAdmit_SingleFlightPerKind(t *testing.T) {
	r := NewRegistry(nil)

	first, err := r.Admit(KindAgentRun, nil)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	if _, err := r.Admit(KindAgentRun, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("second Admit: got %v, want ErrConflict", err)
	}

	// A different kind has its own slot.
	if _, err := r.Admit(KindDeepSearch, nil); err != nil {
		t.Fatalf("Admit deep_search: %v", err)
	}

	// The original task is unaffected by the rejected admission.
	got, err := r.Get(first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
}

func TestAdmit_AfterTerminalStartsNewTask(t *testing.T) {
	r := NewRegistry(nil)

	first, _ := r.Admit(KindAgentRun, nil)
	r.Complete(first.ID, []byte(`{"final_result":"done"}`))

	second, err := r.Admit(KindAgentRun, nil)
	if err != nil {
		t.Fatalf("Admit after terminal: %v", err)
	}
	if second.ID == first.ID {
		t.Errorf("new task reused id %s", first.ID)
	}

	// Old task remains queryable by its original id.
	old, err := r.Get(first.ID)
	if err != nil {
		t.Fatalf("Get old task: %v", err)
	}
	if old.Status != StatusCompleted {
		t.Errorf("old task Status = %q, want completed", old.Status)
	}
}

func TestGet_UnknownID(t *testing.T) {
	r := NewRegistry(nil)
	r.Admit(KindAgentRun, nil)
	r.Admit(KindDeepSearch, nil)

	if _, err := r.Get("task_999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get unknown: got %v, want ErrNotFound", err)
	}
}

func TestGet_TerminalPayloadIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	tk, _ := r.Admit(KindAgentRun, nil)
	r.Complete(tk.ID, []byte(`{"final_result":"R"}`))

	first, err := r.Get(tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Get(tk.ID)
		if err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
		if !reflect.DeepEqual(again.View(), first.View()) {
			t.Fatalf("poll #%d payload changed: %v vs %v", i, again.View(), first.View())
		}
	}
}

func TestRequestStop_NoRunningTask(t *testing.T) {
	r := NewRegistry(nil)
	other, _ := r.Admit(KindAgentRun, nil)

	if _, err := r.RequestStop(KindDeepSearch); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RequestStop idle kind: got %v, want ErrNotFound", err)
	}

	// The unrelated task is untouched.
	got, _ := r.Get(other.ID)
	if got.Status != StatusRunning {
		t.Errorf("unrelated task Status = %q, want running", got.Status)
	}
}

func TestRequestStop_CancelsAndStaysNonTerminal(t *testing.T) {
	r := NewRegistry(nil)

	ctx, cancel := context.WithCancel(context.Background())
	tk, _ := r.Admit(KindAgentRun, cancel)

	id, err := r.RequestStop(KindAgentRun)
	if err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	if id != tk.ID {
		t.Errorf("RequestStop id = %q, want %q", id, tk.ID)
	}
	if ctx.Err() == nil {
		t.Error("expected backend context to be cancelled")
	}

	// Stop does not itself set a terminal state; the poll still says running.
	got, _ := r.Get(tk.ID)
	if got.Status != StatusStopRequested {
		t.Errorf("Status = %q, want stop_requested", got.Status)
	}
	if got.View()["status"] != "running" {
		t.Errorf("View status = %v, want running", got.View()["status"])
	}

	// The backend must still drive the task to exactly one terminal state.
	r.Fail(tk.ID, "cancelled")
	got, _ = r.Get(tk.ID)
	if got.Status != StatusFailed {
		t.Errorf("Status after Fail = %q, want failed", got.Status)
	}
	view := got.View()
	if view["status"] != "failed" || view["errors"] != "cancelled" {
		t.Errorf("View = %v, want status=failed errors=cancelled", view)
	}
}

func TestComplete_RunningToCompleted(t *testing.T) {
	r := NewRegistry(nil)
	tk, _ := r.Admit(KindAgentRun, nil)

	// Immediate poll before completion.
	got, _ := r.Get(tk.ID)
	if !reflect.DeepEqual(got.View(), map[string]any{"status": "running"}) {
		t.Errorf("running View = %v", got.View())
	}

	result, _ := json.Marshal(AgentResult{
		FinalResult:  "example.com visited",
		ModelActions: `[{"go_to_url":{"url":"https://example.com"}}]`,
	})
	r.Complete(tk.ID, result)

	got, _ = r.Get(tk.ID)
	view := got.View()
	if view["status"] != "completed" {
		t.Errorf("status = %v, want completed", view["status"])
	}
	if view["final_result"] != "example.com visited" {
		t.Errorf("final_result = %v", view["final_result"])
	}

	// A new admission is allowed once the slot is free.
	if _, err := r.Admit(KindAgentRun, nil); err != nil {
		t.Fatalf("Admit after Complete: %v", err)
	}
}

func TestFinish_DoubleCompletionIgnored(t *testing.T) {
	r := NewRegistry(nil)
	tk, _ := r.Admit(KindDeepSearch, nil)

	r.Complete(tk.ID, []byte(`{"markdown_content":"# report"}`))
	r.Fail(tk.ID, "late failure")   // must not overwrite
	r.Complete(tk.ID, []byte(`{}`)) // must not overwrite

	got, _ := r.Get(tk.ID)
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.View()["markdown_content"] != "# report" {
		t.Errorf("result overwritten: %v", got.View())
	}
}

func TestFinish_UnknownTaskIsNoOp(t *testing.T) {
	r := NewRegistry(nil)
	r.Complete("task_404", []byte(`{}`))
	r.Fail("task_404", "boom")
	if _, err := r.Get("task_404"); !errors.Is(err, ErrNotFound) {
		t.Fatal("finish must not create tasks")
	}
}

func TestRegistry_NotifyOnTransitions(t *testing.T) {
	r := NewRegistry(nil)

	var mu sync.Mutex
	var seen []Status
	r.SetNotify(func(t Task) {
		mu.Lock()
		seen = append(seen, t.Status)
		mu.Unlock()
	})

	tk, _ := r.Admit(KindAgentRun, func() {})
	r.RequestStop(KindAgentRun)
	r.Fail(tk.ID, "cancelled")

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusRunning, StatusStopRequested, StatusFailed}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("transitions = %v, want %v", seen, want)
	}
}

func TestRegistry_ConcurrentPollers(t *testing.T) {
	r := NewRegistry(nil)
	tk, _ := r.Admit(KindAgentRun, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := r.Get(tk.ID); err != nil {
					t.Errorf("Get: %v", err)
					return
				}
			}
		}()
	}
	r.Complete(tk.ID, []byte(`{"final_result":"ok"}`))
	wg.Wait()
}

func TestDeepSearchIDsUseSearchPrefix(t *testing.T) {
	r := NewRegistry(nil)
	tk, _ := r.Admit(KindDeepSearch, nil)
	if tk.ID != "search_1" {
		t.Errorf("ID = %q, want search_1", tk.ID)
	}
	at, _ := r.Admit(KindAgentRun, nil)
	if at.ID != "task_1" {
		t.Errorf("ID = %q, want task_1", at.ID)
	}
}
