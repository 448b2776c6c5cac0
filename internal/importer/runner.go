package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/runtime"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

const progressEvery = 100

// Import modes. A full import loads a whole voter file; an incremental import
// applies a partial export on top of existing records and is only valid for
// formats whose records carry a stable county voter id.
const (
	ImportTypeFull        = "full"
	ImportTypeIncremental = "incremental"
)

// ImportPayload is the durable state of one voter-import job. Imports carry
// no checkpoint: they restart from the file, and the county-voter-id upsert
// makes the replay idempotent.
type ImportPayload struct {
	FilePath   string `json:"filePath"`
	FileName   string `json:"fileName"`
	FormatID   string `json:"formatId"`
	ImportType string `json:"importType,omitempty"`
}

// ImportStats is the terminal output_stats shape.
type ImportStats struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Runner is the voter-import job handler: it streams the uploaded file
// through the format's parser and upserts each record by county voter id.
type Runner struct {
	registry *Registry
	voters   repos.VoterRepo
	log      *logger.Logger
}

func NewRunner(registry *Registry, voters repos.VoterRepo, baseLog *logger.Logger) *Runner {
	return &Runner{
		registry: registry,
		voters:   voters,
		log:      baseLog.With("component", "ImportRunner"),
	}
}

func (r *Runner) Type() string { return types.JobTypeVoterImport }

func (r *Runner) Run(jc *runtime.Context) (any, error) {
	var payload ImportPayload
	if err := jc.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	// Re-validate: the format set and the filesystem may have changed between
	// enqueue and dispatch (or across a restart).
	imp, ok := r.registry.Get(payload.FormatID)
	if !ok {
		return nil, fmt.Errorf("unknown import format: %s", payload.FormatID)
	}
	switch payload.ImportType {
	case "", ImportTypeFull:
	case ImportTypeIncremental:
		if !imp.SupportsIncremental() {
			return nil, fmt.Errorf("format %s does not support incremental imports", payload.FormatID)
		}
	default:
		return nil, fmt.Errorf("unknown import type: %s", payload.ImportType)
	}
	if payload.FilePath == "" {
		return nil, fmt.Errorf("payload has no file path")
	}
	if ext := strings.ToLower(filepath.Ext(payload.FileName)); ext != "" && !extSupported(imp, ext) {
		jc.Log.Warn("File extension unusual for format", "format", payload.FormatID, "ext", ext)
	}

	f, err := os.Open(payload.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	log := jc.Log.With("job_id", jc.Job.ID, "format", payload.FormatID, "file", payload.FileName)
	stats := ImportStats{}
	dbc := dbctx.Context{Ctx: jc.Ctx}

	emit := func(line int, rec *repos.VoterRecord) error {
		if stats.Processed%progressEvery == 0 {
			if err := jc.CheckInterrupted(); err != nil {
				return err
			}
			jc.Progress(stats.Processed, nil)
		}
		stats.Processed++

		existing, err := r.voters.FindVoterByCountyID(dbc, rec.Voter.CountyVoterID)
		if err != nil {
			return fmt.Errorf("line %d: lookup: %w", line, err)
		}
		if existing == nil {
			if err := r.voters.CreateRecord(dbc, rec); err != nil {
				jc.AppendError(fmt.Sprintf("line %d: create: %v", line, err))
				stats.Errors++
				stats.Skipped++
				return nil
			}
			stats.Created++
			return nil
		}
		if err := r.voters.UpdateRecord(dbc, existing, rec); err != nil {
			jc.AppendError(fmt.Sprintf("line %d: update: %v", line, err))
			stats.Errors++
			stats.Skipped++
			return nil
		}
		stats.Updated++
		return nil
	}

	onError := func(line int, msg string) {
		jc.AppendError(fmt.Sprintf("line %d: %s", line, msg))
		// A bad line is still a consumed line.
		stats.Processed++
		stats.Errors++
		stats.Skipped++
	}

	parseErr := imp.Parse(jc.Ctx, f, emit, onError)

	// The upload is single-use: remove it once the job reaches a terminal
	// outcome. A pause or process shutdown keeps the file so the resumed run
	// can re-read it; a cancel is terminal and releases it like any other end.
	keepFile := false
	if parseErr != nil {
		var yieldErr *runtime.YieldError
		switch {
		case errors.As(parseErr, &yieldErr):
			keepFile = yieldErr.Status == types.JobStatusPaused
		case errors.Is(parseErr, context.Canceled), errors.Is(parseErr, context.DeadlineExceeded):
			keepFile = true
		}
	}
	if !keepFile {
		f.Close()
		if rmErr := os.Remove(payload.FilePath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn("Removing upload failed", "path", payload.FilePath, "error", rmErr)
		}
	}
	if parseErr != nil {
		return nil, parseErr
	}

	jc.Progress(stats.Processed, &stats.Processed)
	log.Info("Import finished",
		"processed", stats.Processed,
		"created", stats.Created,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
	)
	return stats, nil
}

func extSupported(imp Importer, ext string) bool {
	for _, e := range imp.SupportedExtensions() {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
