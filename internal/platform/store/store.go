// Package store persists assembled patient bundles.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/ehr/bulk-measure/internal/platform/fhir"
)

// ErrInvalidPatientID is returned for ids that are empty or would escape the
// output directory.
var ErrInvalidPatientID = errors.New("invalid patient id")

// Sink receives one bundle per patient.
type Sink interface {
	Save(ctx context.Context, patientID string, bundle *fhir.Bundle) error
}

// FileName is the name a bundle is written under.
func FileName(patientID string) string {
	return "Patient-" + patientID + ".json"
}

func validID(patientID string) error {
	if patientID == "" || strings.ContainsAny(patientID, `/\`) || patientID == "." || patientID == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidPatientID, patientID)
	}
	return nil
}

// DirSink writes each bundle as indented JSON into Dir.
type DirSink struct {
	Dir    string
	Logger zerolog.Logger
}

func NewDirSink(dir string, logger zerolog.Logger) *DirSink {
	return &DirSink{Dir: dir, Logger: logger}
}

func (s *DirSink) Save(ctx context.Context, patientID string, bundle *fhir.Bundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validID(patientID); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bundle for Patient/%s: %w", patientID, err)
	}
	path := filepath.Join(s.Dir, FileName(patientID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	s.Logger.Debug().
		Str("patient_id", patientID).
		Str("file", path).
		Int("entries", len(bundle.Entry)).
		Msg("bundle written")
	return nil
}

// Execer is implemented by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const upsertBundle = `INSERT INTO patient_bundle (patient_id, bundle, entry_count, assembled_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (patient_id) DO UPDATE
SET bundle = EXCLUDED.bundle, entry_count = EXCLUDED.entry_count, assembled_at = EXCLUDED.assembled_at`

// PGSink upserts bundles into the patient_bundle table.
type PGSink struct {
	db     Execer
	logger zerolog.Logger
}

func NewPGSink(db Execer, logger zerolog.Logger) *PGSink {
	return &PGSink{db: db, logger: logger}
}

func (s *PGSink) Save(ctx context.Context, patientID string, bundle *fhir.Bundle) error {
	if patientID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPatientID)
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle for Patient/%s: %w", patientID, err)
	}
	if _, err := s.db.Exec(ctx, upsertBundle, patientID, data, len(bundle.Entry)); err != nil {
		return fmt.Errorf("store bundle for Patient/%s: %w", patientID, err)
	}
	s.logger.Debug().
		Str("patient_id", patientID).
		Int("entries", len(bundle.Entry)).
		Msg("bundle stored")
	return nil
}

// Multi saves to every sink in order and stops at the first failure.
type Multi []Sink

func (m Multi) Save(ctx context.Context, patientID string, bundle *fhir.Bundle) error {
	for _, s := range m {
		if err := s.Save(ctx, patientID, bundle); err != nil {
			return err
		}
	}
	return nil
}

// NDJSONSink appends every bundle as one line of a single NDJSON stream, the
// shape bulk import endpoints accept. Close flushes the stream.
type NDJSONSink struct {
	mu sync.Mutex
	w  *fhir.NDJSONWriter
	c  io.Closer
}

// NewNDJSONSink creates or truncates path.
func NewNDJSONSink(path string) (*NDJSONSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &NDJSONSink{w: fhir.NewNDJSONWriter(f), c: f}, nil
}

func (s *NDJSONSink) Save(ctx context.Context, patientID string, bundle *fhir.Bundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.WriteResource(bundle); err != nil {
		return fmt.Errorf("write bundle for Patient/%s: %w", patientID, err)
	}
	return nil
}

// Count is the number of bundles written.
func (s *NDJSONSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Count()
}

func (s *NDJSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		s.c.Close()
		return err
	}
	return s.c.Close()
}
