package task

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestTask() *Task {
	return New(1, GenerateRequest{TaskType: TypeGenerate, Instruction: "x"}, context.Background(), time.Now().Add(time.Second))
}

func TestMarkStartedOnlySucceedsOnce(t *testing.T) {
	tk := newTestTask()
	if !tk.MarkStarted("worker-1") {
		t.Fatalf("first MarkStarted should succeed")
	}
	if tk.MarkStarted("worker-2") {
		t.Fatalf("second MarkStarted should fail once already started")
	}
	if tk.WorkerID != "worker-1" {
		t.Fatalf("WorkerID = %q, want worker-1", tk.WorkerID)
	}
}

func TestMarkStartedFailsAfterSettle(t *testing.T) {
	tk := newTestTask()
	tk.Settle(StatusCancelled, Result{})
	if tk.MarkStarted("worker-1") {
		t.Fatalf("MarkStarted should fail on an already-settled task")
	}
}

func TestSettleLatchesExactlyOnce(t *testing.T) {
	tk := newTestTask()
	if !tk.Settle(StatusCompleted, Result{Output: "first"}) {
		t.Fatalf("first Settle should succeed")
	}
	if tk.Settle(StatusFailed, Result{Output: "second"}) {
		t.Fatalf("second Settle should be a no-op")
	}
	if tk.View().Result.Output != "first" {
		t.Fatalf("Settle's second call must not overwrite the first result")
	}
	select {
	case <-tk.Done():
	default:
		t.Fatalf("Done() should be closed after Settle")
	}
}

func TestSettleConcurrentRaceLatchesOnce(t *testing.T) {
	tk := newTestTask()
	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = tk.Settle(StatusCompleted, Result{Output: "race"})
		}()
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one concurrent Settle call should win, got %d", wins)
	}
}

func TestTimedOutFlagOnlySetByTimeoutStatus(t *testing.T) {
	tk := newTestTask()
	tk.Settle(StatusFailed, Result{})
	if tk.TimedOut() {
		t.Fatalf("TimedOut should be false for a non-timeout settle")
	}

	tk2 := newTestTask()
	tk2.Settle(StatusTimedOut, Result{})
	if !tk2.TimedOut() {
		t.Fatalf("TimedOut should be true after a StatusTimedOut settle")
	}
}

func TestCancelIsSafeBeforeAndAfterSettle(t *testing.T) {
	tk := newTestTask()
	tk.Cancel()
	tk.Settle(StatusCancelled, Result{})
	tk.Cancel() // must not panic
	if tk.Context().Err() == nil {
		t.Fatalf("Context should be done after Cancel")
	}
}

func TestViewReturnsIndependentCopy(t *testing.T) {
	tk := newTestTask()
	tk.Settle(StatusCompleted, Result{Output: "snapshot"})
	snap := tk.View()
	snap.Result.Output = "mutated locally"
	if tk.View().Result.Output != "snapshot" {
		t.Fatalf("mutating a Snapshot must not affect the Task's own state")
	}
}

func TestIsValidRejectsUnknownType(t *testing.T) {
	if Type("bogus").IsValid() {
		t.Fatalf("bogus task type should not be valid")
	}
	for _, v := range ValidTypes {
		if !v.IsValid() {
			t.Fatalf("%q should be valid", v)
		}
	}
}
