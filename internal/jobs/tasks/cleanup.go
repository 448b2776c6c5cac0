package tasks

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/runtime"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/utils"
)

const TypeUploadCleanup = "upload_cleanup"

// CleanupStats is the terminal output_stats shape for an upload_cleanup run.
type CleanupStats struct {
	Scanned int `json:"scanned"`
	Removed int `json:"removed"`
}

// UploadCleanup is the scheduled task that sweeps the upload directory for
// files older than the retention window. Files are normally removed by the
// import runner at terminal status; this catches uploads whose jobs never
// dispatched (enqueue races, manual deletes, crashed processes).
type UploadCleanup struct {
	dir    string
	maxAge time.Duration
	log    *logger.Logger
}

func NewUploadCleanup(dir string, baseLog *logger.Logger) *UploadCleanup {
	log := baseLog.With("component", "UploadCleanup")
	hours := utils.GetEnvAsInt("UPLOAD_TTL_HOURS", 24, log)
	if hours < 1 {
		hours = 1
	}
	return &UploadCleanup{
		dir:    dir,
		maxAge: time.Duration(hours) * time.Hour,
		log:    log,
	}
}

func (t *UploadCleanup) Type() string { return TypeUploadCleanup }

func (t *UploadCleanup) Run(jc *runtime.Context) (any, error) {
	cutoff := time.Now().Add(-t.maxAge)
	stats := CleanupStats{}

	entries, err := os.ReadDir(t.dir)
	if os.IsNotExist(err) {
		return stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read upload dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stats.Scanned++
		info, err := entry.Info()
		if err != nil {
			jc.AppendError(fmt.Sprintf("stat %s: %v", entry.Name(), err))
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(t.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			jc.AppendError(fmt.Sprintf("remove %s: %v", entry.Name(), err))
			continue
		}
		stats.Removed++
	}

	t.log.Info("Upload sweep complete", "scanned", stats.Scanned, "removed", stats.Removed)
	return stats, nil
}
