package importer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/orchestrator"
	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/runtime"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/queue"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos/testutil"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

type runnerFixture struct {
	db     *gorm.DB
	voters repos.VoterRepo
	orc    *orchestrator.Orchestrator
	runner *Runner
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	log := testutil.Logger(t)
	db := testutil.DB(t)

	households := repos.NewHouseholdRepo(db, log)
	voters := repos.NewVoterRepo(db, log, households)
	jobRepo := repos.NewJobRepo(db, log)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	broker := queue.NewRedisBrokerFromClient(log, rdb, queue.RedisBrokerOptions{
		PollInterval: 5 * time.Millisecond,
	})

	reg := NewRegistry()
	if err := reg.Register(NewSimpleCSVImporter()); err != nil {
		t.Fatalf("register: %v", err)
	}

	return &runnerFixture{
		db:     db,
		voters: voters,
		orc:    orchestrator.New(jobRepo, broker, log),
		runner: NewRunner(reg, voters, log),
	}
}

func (f *runnerFixture) spoolFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return path
}

func (f *runnerFixture) runImport(t *testing.T, path string) (ImportStats, *types.Job) {
	t.Helper()
	ctx := context.Background()
	job, err := f.orc.Create(ctx, orchestrator.CreateInput{
		Type: types.JobTypeVoterImport,
		Payload: ImportPayload{
			FilePath: path,
			FileName: filepath.Base(path),
			FormatID: "simple_csv",
		},
		IsDynamic:   true,
		SkipEnqueue: true,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if started, err := f.orc.Start(ctx, job.ID); err != nil || !started {
		t.Fatalf("start = (%v, %v)", started, err)
	}
	job, _ = f.orc.Get(ctx, job.ID)
	jc := runtime.NewContext(ctx, job, f.orc, testutil.Logger(t))

	result, err := f.runner.Run(jc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	row, _ := f.orc.Get(ctx, job.ID)
	return result.(ImportStats), row
}

const importCSV = `county_voter_id,first_name,last_name,party,address,city,state,zip,phone
CV100,Alma,Nguyen,DEM,123 Oak St,Concord,CA,94520,925-555-0101
CV101,Ben,Reyes,REP,123 Oak St,Concord,CA,94520,
CV102,Carla,Ito,NPP,456 Pine Ave,Martinez,CA,94553,
`

func TestRunnerCreatesRecords(t *testing.T) {
	f := newRunnerFixture(t)
	path := f.spoolFile(t, importCSV)

	stats, _ := f.runImport(t, path)
	if stats.Processed != 3 || stats.Created != 3 || stats.Updated != 0 || stats.Errors != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	v, err := f.voters.FindVoterByCountyID(dbctx.Context{Ctx: context.Background()}, "CV101")
	if err != nil || v == nil {
		t.Fatalf("CV101 lookup: %v %v", v, err)
	}
	if v.Party != "REP" {
		t.Fatalf("party = %q", v.Party)
	}

	// Two voters on the same address share one household.
	var count int64
	if err := f.db.Model(&types.Household{}).Count(&count).Error; err != nil {
		t.Fatalf("count households: %v", err)
	}
	if count != 2 {
		t.Fatalf("households = %d, want 2", count)
	}

	// The upload is removed once the job finishes.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("upload still present: %v", err)
	}
}

func TestRunnerReimportUpdatesInPlace(t *testing.T) {
	f := newRunnerFixture(t)
	stats, _ := f.runImport(t, f.spoolFile(t, importCSV))
	if stats.Created != 3 {
		t.Fatalf("first import stats = %+v", stats)
	}

	updated := `county_voter_id,first_name,last_name,party
CV100,Alma,Nguyen,NPP
CV103,Dev,Shah,DEM
`
	stats, _ = f.runImport(t, f.spoolFile(t, updated))
	if stats.Created != 1 || stats.Updated != 1 {
		t.Fatalf("second import stats = %+v", stats)
	}

	v, err := f.voters.FindVoterByCountyID(dbctx.Context{Ctx: context.Background()}, "CV100")
	if err != nil || v == nil {
		t.Fatalf("CV100 lookup: %v %v", v, err)
	}
	if v.Party != "NPP" {
		t.Fatalf("party after update = %q", v.Party)
	}

	var persons int64
	if err := f.db.Model(&types.Person{}).Count(&persons).Error; err != nil {
		t.Fatalf("count persons: %v", err)
	}
	if persons != 4 {
		t.Fatalf("persons = %d, want 4 (no duplicates)", persons)
	}
}

func TestRunnerRecordsLineErrors(t *testing.T) {
	f := newRunnerFixture(t)
	bad := `county_voter_id,first_name,last_name
CV100,Alma,Nguyen
CV101,NoSurname,
CV102,Carla,Ito
`
	stats, row := f.runImport(t, f.spoolFile(t, bad))
	// The bad line counts as processed: processed covers every consumed line,
	// imported or not.
	if stats.Processed != 3 || stats.Created != 2 || stats.Skipped != 1 || stats.Errors != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	var entries []types.JobErrorEntry
	if err := json.Unmarshal(row.ErrorLog, &entries); err != nil {
		t.Fatalf("error log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("error log = %+v", entries)
	}
}

func TestRunnerCancelledImportRemovesUpload(t *testing.T) {
	f := newRunnerFixture(t)
	path := f.spoolFile(t, importCSV)
	ctx := context.Background()

	job, err := f.orc.Create(ctx, orchestrator.CreateInput{
		Type: types.JobTypeVoterImport,
		Payload: ImportPayload{
			FilePath: path,
			FileName: filepath.Base(path),
			FormatID: "simple_csv",
		},
		SkipEnqueue: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if started, err := f.orc.Start(ctx, job.ID); err != nil || !started {
		t.Fatalf("start = (%v, %v)", started, err)
	}
	if _, err := f.orc.Cancel(ctx, job.ID, "operator cancel"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	job, _ = f.orc.Get(ctx, job.ID)
	jc := runtime.NewContext(ctx, job, f.orc, testutil.Logger(t))

	if _, err := f.runner.Run(jc); !errors.Is(err, runtime.ErrYield) {
		t.Fatalf("run = %v, want yield", err)
	}

	// Cancel is terminal: the job never resumes, so the upload goes with it.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("upload still present after cancel: %v", err)
	}
}

func TestRunnerPausedImportKeepsUpload(t *testing.T) {
	f := newRunnerFixture(t)
	path := f.spoolFile(t, importCSV)
	ctx := context.Background()

	job, err := f.orc.Create(ctx, orchestrator.CreateInput{
		Type: types.JobTypeVoterImport,
		Payload: ImportPayload{
			FilePath: path,
			FileName: filepath.Base(path),
			FormatID: "simple_csv",
		},
		SkipEnqueue: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if started, err := f.orc.Start(ctx, job.ID); err != nil || !started {
		t.Fatalf("start = (%v, %v)", started, err)
	}
	if err := f.orc.Pause(ctx, job.ID, "operator pause"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	job, _ = f.orc.Get(ctx, job.ID)
	jc := runtime.NewContext(ctx, job, f.orc, testutil.Logger(t))

	if _, err := f.runner.Run(jc); !errors.Is(err, runtime.ErrYield) {
		t.Fatalf("run = %v, want yield", err)
	}

	// A paused import resumes from the same file, so it must survive.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("upload missing after pause: %v", err)
	}
}

func TestRunnerRejectsUnknownImportType(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	job, err := f.orc.Create(ctx, orchestrator.CreateInput{
		Type: types.JobTypeVoterImport,
		Payload: ImportPayload{
			FilePath:   "/nowhere",
			FileName:   "x.csv",
			FormatID:   "simple_csv",
			ImportType: "weekly",
		},
		SkipEnqueue: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.orc.Start(ctx, job.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	jc := runtime.NewContext(ctx, job, f.orc, testutil.Logger(t))
	if _, err := f.runner.Run(jc); err == nil {
		t.Fatal("expected error for unknown import type")
	}
}

func TestRunnerUnknownFormatFails(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	job, err := f.orc.Create(ctx, orchestrator.CreateInput{
		Type:        types.JobTypeVoterImport,
		Payload:     ImportPayload{FilePath: "/nowhere", FileName: "x.csv", FormatID: "nope"},
		SkipEnqueue: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.orc.Start(ctx, job.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	jc := runtime.NewContext(ctx, job, f.orc, testutil.Logger(t))
	if _, err := f.runner.Run(jc); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
