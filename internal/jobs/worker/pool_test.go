package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/orchestrator"
	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/runtime"
	"github.com/Spinnernicholas/cocoa-canvas/internal/queue"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos/testutil"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

type fakeHandler struct {
	jobType string
	run     func(jc *runtime.Context) (any, error)
}

func (h *fakeHandler) Type() string                         { return h.jobType }
func (h *fakeHandler) Run(jc *runtime.Context) (any, error) { return h.run(jc) }

type poolFixture struct {
	db       *gorm.DB
	orc      *orchestrator.Orchestrator
	repo     repos.JobRepo
	broker   *queue.RedisBroker
	registry *runtime.Registry
}

func newPoolFixture(t *testing.T) *poolFixture {
	t.Helper()
	log := testutil.Logger(t)
	db := testutil.DB(t)
	repo := repos.NewJobRepo(db, log)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	broker := queue.NewRedisBrokerFromClient(log, rdb, queue.RedisBrokerOptions{
		PollInterval: 5 * time.Millisecond,
	})

	return &poolFixture{
		db:       db,
		orc:      orchestrator.New(repo, broker, log),
		repo:     repo,
		broker:   broker,
		registry: runtime.NewRegistry(),
	}
}

func (f *poolFixture) startPool(t *testing.T, queueName string, size int) {
	t.Helper()
	p := NewPool(queueName, size, f.broker, f.orc, f.registry, testutil.Logger(t))
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		cancel()
		p.Stop()
	})
}

func (f *poolFixture) waitForStatus(t *testing.T, id uuid.UUID, want string) *types.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := f.orc.Get(context.Background(), id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := f.orc.Get(context.Background(), id)
	t.Fatalf("job never reached %s, last seen %+v", want, job)
	return nil
}

func TestPoolRunsJobToCompletion(t *testing.T) {
	f := newPoolFixture(t)
	ran := make(chan struct{}, 1)
	if err := f.registry.Register(&fakeHandler{
		jobType: types.JobTypeGeocoding,
		run: func(jc *runtime.Context) (any, error) {
			ran <- struct{}{}
			return map[string]int{"processedCount": 3}, nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.startPool(t, queue.QueueGeocode, 1)

	job, err := f.orc.Create(context.Background(), orchestrator.CreateInput{Type: types.JobTypeGeocoding})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never ran")
	}
	row := f.waitForStatus(t, job.ID, types.JobStatusCompleted)

	var stats map[string]int
	if err := json.Unmarshal(row.OutputStats, &stats); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["processedCount"] != 3 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestPoolFailsJobOnHandlerError(t *testing.T) {
	f := newPoolFixture(t)
	if err := f.registry.Register(&fakeHandler{
		jobType: types.JobTypeGeocoding,
		run: func(jc *runtime.Context) (any, error) {
			return nil, fmt.Errorf("boom")
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.startPool(t, queue.QueueGeocode, 1)

	job, err := f.orc.Create(context.Background(), orchestrator.CreateInput{Type: types.JobTypeGeocoding})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	row := f.waitForStatus(t, job.ID, types.JobStatusFailed)

	var entries []types.JobErrorEntry
	if err := json.Unmarshal(row.ErrorLog, &entries); err != nil {
		t.Fatalf("error log: %v", err)
	}
	if len(entries) == 0 || entries[len(entries)-1].Message != "boom" {
		t.Fatalf("error log = %+v", entries)
	}
}

func TestPoolFailsJobOnPanic(t *testing.T) {
	f := newPoolFixture(t)
	if err := f.registry.Register(&fakeHandler{
		jobType: types.JobTypeGeocoding,
		run: func(jc *runtime.Context) (any, error) {
			panic("handler bug")
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.startPool(t, queue.QueueGeocode, 1)

	job, err := f.orc.Create(context.Background(), orchestrator.CreateInput{Type: types.JobTypeGeocoding})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.waitForStatus(t, job.ID, types.JobStatusFailed)
}

func TestPoolFailsUnregisteredType(t *testing.T) {
	f := newPoolFixture(t)
	f.startPool(t, queue.QueueGeocode, 1)

	job, err := f.orc.Create(context.Background(), orchestrator.CreateInput{Type: types.JobTypeGeocoding})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.waitForStatus(t, job.ID, types.JobStatusFailed)
}

func TestPoolYieldLeavesPausedStatus(t *testing.T) {
	f := newPoolFixture(t)
	if err := f.registry.Register(&fakeHandler{
		jobType: types.JobTypeGeocoding,
		run: func(jc *runtime.Context) (any, error) {
			// Pause mid-run the way a control request would, then observe it at
			// the next suspension point.
			if err := f.orc.Pause(jc.Ctx, jc.Job.ID, "test"); err != nil {
				return nil, err
			}
			return nil, jc.CheckInterrupted()
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.startPool(t, queue.QueueGeocode, 1)

	job, err := f.orc.Create(context.Background(), orchestrator.CreateInput{Type: types.JobTypeGeocoding})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	row := f.waitForStatus(t, job.ID, types.JobStatusPaused)
	if row.Status != types.JobStatusPaused {
		t.Fatalf("status = %s", row.Status)
	}
}
