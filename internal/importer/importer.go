package importer

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
)

// RecordFunc receives one parsed record with its 1-based line number. A
// returned error aborts the whole parse; per-line problems go through the
// error callback instead.
type RecordFunc func(line int, rec *repos.VoterRecord) error

// ErrorFunc receives a recoverable per-line problem. The parser consumes the
// line without emitting it, so every data line reaches exactly one of the two
// callbacks.
type ErrorFunc func(line int, msg string)

// Importer parses one voter-file format into records. Parsing is streaming;
// implementations must not buffer the whole file.
type Importer interface {
	FormatID() string
	FormatName() string
	SupportedExtensions() []string
	// SupportsIncremental reports whether records carry a county voter id
	// that upserts can key on. Formats without one always create.
	SupportsIncremental() bool
	Parse(ctx context.Context, r io.Reader, emit RecordFunc, onError ErrorFunc) error
}

// Registry maps format ids to importers. Registration happens once at
// composition time; lookups are concurrent.
type Registry struct {
	mu      sync.RWMutex
	formats map[string]Importer
}

func NewRegistry() *Registry {
	return &Registry{formats: make(map[string]Importer)}
}

func (r *Registry) Register(imp Importer) error {
	if imp == nil || imp.FormatID() == "" {
		return fmt.Errorf("invalid importer")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.formats[imp.FormatID()]; exists {
		return fmt.Errorf("importer already registered: %s", imp.FormatID())
	}
	r.formats[imp.FormatID()] = imp
	return nil
}

func (r *Registry) Get(formatID string) (Importer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	imp, ok := r.formats[formatID]
	return imp, ok
}

// Formats lists registered format ids in stable order.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.formats))
	for id := range r.formats {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
