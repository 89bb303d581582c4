package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoointerview/config"
)

type fakePasses struct {
	mu    sync.Mutex
	calls []string
	fail  string
}

func (f *fakePasses) record(name string, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if limit != 25 {
		return 0, errors.New("unexpected batch size")
	}
	if name == f.fail {
		return 0, errors.New("boom")
	}
	return 1, nil
}

func (f *fakePasses) SweepExpired(ctx context.Context, limit int) (int, error) {
	return f.record("sweep", limit)
}
func (f *fakePasses) RetryPending(ctx context.Context, limit int) (int, error) {
	return f.record("retry", limit)
}
func (f *fakePasses) ApplyStoredResults(ctx context.Context, limit int) (int, error) {
	return f.record("apply", limit)
}
func (f *fakePasses) FlagOverdue(ctx context.Context, limit int) (int, error) {
	return f.record("overdue", limit)
}

func (f *fakePasses) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestRunOnceRunsEveryPassInOrder(t *testing.T) {
	f := &fakePasses{}
	job := NewReconcileJob(f, f, config.JobSettings{BatchSize: 25}, quiet())

	job.RunOnce(context.Background())

	got := f.snapshot()
	want := []string{"sweep", "retry", "apply", "overdue"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestReconcileContinuesAfterFailingStep(t *testing.T) {
	f := &fakePasses{fail: "retry"}
	job := NewReconcileJob(f, f, config.JobSettings{BatchSize: 25}, quiet())

	job.Reconcile(context.Background())

	if got := f.snapshot(); len(got) != 3 || got[2] != "overdue" {
		t.Fatalf("expected all three steps to run, got %v", got)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	f := &fakePasses{}
	job := NewReconcileJob(f, f, config.JobSettings{ReconcileSchedule: "not a schedule"}, quiet())
	if err := job.Start(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestStartRunsOnSchedule(t *testing.T) {
	f := &fakePasses{}
	job := NewReconcileJob(f, f, config.JobSettings{SweepSchedule: "@every 1s", BatchSize: 25}, quiet())
	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer job.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.snapshot()) > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("sweep never ran")
}
