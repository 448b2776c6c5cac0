package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/queue"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos/testutil"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

func testOrchestrator(t *testing.T) (*Orchestrator, repos.JobRepo, *queue.RedisBroker) {
	t.Helper()
	log := testutil.Logger(t)
	repo := repos.NewJobRepo(testutil.DB(t), log)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	broker := queue.NewRedisBrokerFromClient(log, rdb, queue.RedisBrokerOptions{
		PollInterval: 5 * time.Millisecond,
	})

	return New(repo, broker, log), repo, broker
}

func TestCreateEnqueuesByJobID(t *testing.T) {
	orc, _, broker := testOrchestrator(t)
	ctx := context.Background()

	job, err := orc.Create(ctx, CreateInput{
		Type:       types.JobTypeGeocoding,
		Payload:    map[string]any{"dynamic": true},
		TotalItems: 0,
		IsDynamic:  true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.Status != types.JobStatusPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}

	d, err := broker.Claim(ctx, queue.QueueGeocode, "w1", 100*time.Millisecond)
	if err != nil || d == nil {
		t.Fatalf("claim: %v %+v", err, d)
	}
	if d.JobKey != job.ID.String() {
		t.Fatalf("broker key = %s, want %s", d.JobKey, job.ID)
	}
}

func TestStartCASWinsOnce(t *testing.T) {
	orc, _, _ := testOrchestrator(t)
	ctx := context.Background()

	job, err := orc.Create(ctx, CreateInput{Type: types.JobTypeGeocoding, SkipEnqueue: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	started, err := orc.Start(ctx, job.ID)
	if err != nil || !started {
		t.Fatalf("first start = (%v, %v), want (true, nil)", started, err)
	}
	// Redelivery: CAS refuses without error.
	started, err = orc.Start(ctx, job.ID)
	if err != nil {
		t.Fatalf("second start errored: %v", err)
	}
	if started {
		t.Fatal("second start must not win")
	}
}

func TestCompleteStoresOutputStats(t *testing.T) {
	orc, repo, _ := testOrchestrator(t)
	ctx := context.Background()

	job, _ := orc.Create(ctx, CreateInput{Type: types.JobTypeGeocoding, SkipEnqueue: true})
	if _, err := orc.Start(ctx, job.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	stats := map[string]int{"processedCount": 7}
	if err := orc.Complete(ctx, job.ID, stats); err != nil {
		t.Fatalf("complete: %v", err)
	}

	row, err := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row.Status != types.JobStatusCompleted {
		t.Fatalf("status = %s", row.Status)
	}
	if row.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	var got map[string]int
	if err := json.Unmarshal(row.OutputStats, &got); err != nil {
		t.Fatalf("output stats: %v", err)
	}
	if got["processedCount"] != 7 {
		t.Fatalf("output stats = %v", got)
	}
}

func TestCompleteRefusedWhenNotProcessing(t *testing.T) {
	orc, _, _ := testOrchestrator(t)
	ctx := context.Background()

	job, _ := orc.Create(ctx, CreateInput{Type: types.JobTypeGeocoding, SkipEnqueue: true})
	err := orc.Complete(ctx, job.ID, nil)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("complete from pending = %v, want ErrIllegalTransition", err)
	}
}

func TestPausePendingEvictsBroker(t *testing.T) {
	orc, repo, broker := testOrchestrator(t)
	ctx := context.Background()

	job, err := orc.Create(ctx, CreateInput{Type: types.JobTypeGeocoding})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := orc.Pause(ctx, job.ID, "operator request"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	row, _ := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	if row.Status != types.JobStatusPaused {
		t.Fatalf("status = %s, want paused", row.Status)
	}
	d, err := broker.Claim(ctx, queue.QueueGeocode, "w1", 30*time.Millisecond)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if d != nil {
		t.Fatalf("paused job still claimable: %+v", d)
	}
}

func TestResumeReenqueues(t *testing.T) {
	orc, repo, broker := testOrchestrator(t)
	ctx := context.Background()

	job, _ := orc.Create(ctx, CreateInput{Type: types.JobTypeGeocoding})
	if err := orc.Pause(ctx, job.ID, ""); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := orc.Resume(ctx, job.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	row, _ := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	if row.Status != types.JobStatusPending {
		t.Fatalf("status = %s, want pending", row.Status)
	}
	d, err := broker.Claim(ctx, queue.QueueGeocode, "w1", 100*time.Millisecond)
	if err != nil || d == nil {
		t.Fatalf("claim after resume: %v %+v", err, d)
	}
}

func TestResumeRefusedUnlessPaused(t *testing.T) {
	orc, _, _ := testOrchestrator(t)
	ctx := context.Background()

	job, _ := orc.Create(ctx, CreateInput{Type: types.JobTypeGeocoding, SkipEnqueue: true})
	err := orc.Resume(ctx, job.ID)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("resume from pending = %v, want ErrIllegalTransition", err)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	orc, _, _ := testOrchestrator(t)
	ctx := context.Background()

	job, _ := orc.Create(ctx, CreateInput{Type: types.JobTypeGeocoding})
	status, err := orc.Cancel(ctx, job.ID, "first")
	if err != nil || status != types.JobStatusCancelled {
		t.Fatalf("first cancel = (%s, %v)", status, err)
	}
	status, err = orc.Cancel(ctx, job.ID, "second")
	if err != nil || status != types.JobStatusCancelled {
		t.Fatalf("second cancel = (%s, %v)", status, err)
	}
}

func TestCancelCompletedReportsCompleted(t *testing.T) {
	orc, _, _ := testOrchestrator(t)
	ctx := context.Background()

	job, _ := orc.Create(ctx, CreateInput{Type: types.JobTypeGeocoding, SkipEnqueue: true})
	if _, err := orc.Start(ctx, job.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := orc.Complete(ctx, job.ID, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	status, err := orc.Cancel(ctx, job.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if status != types.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", status)
	}
}

func TestFailAppendsFinalError(t *testing.T) {
	orc, repo, _ := testOrchestrator(t)
	ctx := context.Background()

	job, _ := orc.Create(ctx, CreateInput{Type: types.JobTypeGeocoding, SkipEnqueue: true})
	if _, err := orc.Start(ctx, job.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := orc.Fail(ctx, job.ID, "provider exploded"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	row, _ := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	if row.Status != types.JobStatusFailed {
		t.Fatalf("status = %s", row.Status)
	}
	var entries []types.JobErrorEntry
	if err := json.Unmarshal(row.ErrorLog, &entries); err != nil {
		t.Fatalf("error log: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "provider exploded" {
		t.Fatalf("error log = %+v", entries)
	}
}

func TestErrorLogDropsOldestPastCap(t *testing.T) {
	orc, repo, _ := testOrchestrator(t)
	ctx := context.Background()

	job, _ := orc.Create(ctx, CreateInput{Type: types.JobTypeGeocoding, SkipEnqueue: true})

	// Seed a full log directly, then push one more through the orchestrator.
	entries := make([]types.JobErrorEntry, ErrorLogCap)
	for i := range entries {
		entries[i] = types.JobErrorEntry{Timestamp: time.Now(), Message: "old"}
	}
	raw, _ := json.Marshal(entries)
	if err := repo.UpdateFields(dbctx.Context{Ctx: ctx}, job.ID, map[string]interface{}{"error_log": raw}); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	if err := orc.AppendError(ctx, job.ID, "newest"); err != nil {
		t.Fatalf("append: %v", err)
	}
	row, _ := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	var got []types.JobErrorEntry
	if err := json.Unmarshal(row.ErrorLog, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != ErrorLogCap {
		t.Fatalf("log len = %d, want %d", len(got), ErrorLogCap)
	}
	if got[len(got)-1].Message != "newest" {
		t.Fatalf("last entry = %q", got[len(got)-1].Message)
	}
}

func TestUpdateProgressSkipsTerminalRows(t *testing.T) {
	orc, repo, _ := testOrchestrator(t)
	ctx := context.Background()

	job, _ := orc.Create(ctx, CreateInput{Type: types.JobTypeGeocoding, SkipEnqueue: true})
	if _, err := orc.Start(ctx, job.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := orc.Complete(ctx, job.ID, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	total := 50
	if err := orc.UpdateProgress(ctx, job.ID, 10, &total); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	row, _ := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	if row.ProcessedItems != 0 || row.TotalItems != 0 {
		t.Fatalf("terminal row mutated: processed=%d total=%d", row.ProcessedItems, row.TotalItems)
	}
}
