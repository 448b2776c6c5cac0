package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Spinnernicholas/cocoa-canvas/internal/importer"
	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/orchestrator"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

const maxUploadBytes = 512 << 20

type VoterImportHandler struct {
	orc       *orchestrator.Orchestrator
	formats   *importer.Registry
	uploadDir string
	log       *logger.Logger
}

func NewVoterImportHandler(orc *orchestrator.Orchestrator, formats *importer.Registry, uploadDir string, baseLog *logger.Logger) *VoterImportHandler {
	return &VoterImportHandler{
		orc:       orc,
		formats:   formats,
		uploadDir: uploadDir,
		log:       baseLog.With("handler", "VoterImportHandler"),
	}
}

// GET /api/import-formats
func (h *VoterImportHandler) ListFormats(c *gin.Context) {
	type formatView struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Extensions  []string `json:"extensions"`
		Incremental bool     `json:"incremental"`
	}
	out := make([]formatView, 0)
	for _, id := range h.formats.Formats() {
		imp, _ := h.formats.Get(id)
		out = append(out, formatView{
			ID:          imp.FormatID(),
			Name:        imp.FormatName(),
			Extensions:  imp.SupportedExtensions(),
			Incremental: imp.SupportsIncremental(),
		})
	}
	RespondOK(c, gin.H{"formats": out})
}

// POST /api/voter-import-jobs
//
// Multipart: "format" and optional "importType" fields plus the "file" part.
// The upload is spooled to the upload directory and the job payload points at
// it; the import runner removes the file when the job reaches a terminal
// status.
func (h *VoterImportHandler) CreateImportJob(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	formatID := c.PostForm("format")
	imp, ok := h.formats.Get(formatID)
	if !ok {
		RespondError(c, http.StatusBadRequest, "unknown_format",
			fmt.Errorf("unknown import format %q", formatID))
		return
	}
	importType := c.DefaultPostForm("importType", importer.ImportTypeFull)
	switch importType {
	case importer.ImportTypeFull:
	case importer.ImportTypeIncremental:
		if !imp.SupportsIncremental() {
			RespondError(c, http.StatusBadRequest, "incremental_unsupported",
				fmt.Errorf("format %s does not support incremental imports", formatID))
			return
		}
	default:
		RespondError(c, http.StatusBadRequest, "invalid_import_type",
			fmt.Errorf("importType must be %s or %s", importer.ImportTypeFull, importer.ImportTypeIncremental))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !extensionAllowed(imp, ext) {
		RespondError(c, http.StatusBadRequest, "unsupported_extension",
			fmt.Errorf("format %s does not accept %q files", formatID, ext))
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		RespondError(c, http.StatusInternalServerError, "upload_dir_failed", err)
		return
	}
	dstName := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), sanitizeFilename(fileHeader.Filename))
	dstPath := filepath.Join(h.uploadDir, dstName)
	if err := c.SaveUploadedFile(fileHeader, dstPath); err != nil {
		RespondError(c, http.StatusInternalServerError, "upload_save_failed", err)
		return
	}

	job, err := h.orc.Create(c.Request.Context(), orchestrator.CreateInput{
		Type:      types.JobTypeVoterImport,
		CreatedBy: callerID(c),
		Payload: importer.ImportPayload{
			FilePath:   dstPath,
			FileName:   fileHeader.Filename,
			FormatID:   formatID,
			ImportType: importType,
		},
		IsDynamic: true,
	})
	if err != nil {
		// Nothing will ever read the spooled file now.
		if rmErr := os.Remove(dstPath); rmErr != nil {
			h.log.Warn("Removing orphaned upload failed", "path", dstPath, "error", rmErr)
		}
		RespondError(c, http.StatusInternalServerError, "create_failed", err)
		return
	}
	RespondAccepted(c, gin.H{"jobId": job.ID, "job": viewOf(job)})
}

func extensionAllowed(imp importer.Importer, ext string) bool {
	if ext == "" {
		return false
	}
	for _, e := range imp.SupportedExtensions() {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// sanitizeFilename strips path separators and anything else that could break
// out of the upload directory.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "upload"
	}
	return b.String()
}
