// Package ndjson reads directories of bulk-export output: one NDJSON file per
// resource type, optionally sharing the directory with an export log file.
package ndjson

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ehr/bulk-measure/internal/platform/fhir"
)

// Ext is the file extension of bulk-export output files.
const Ext = ".ndjson"

// DefaultLogFileName is the export log written next to the data files.
const DefaultLogFileName = "log.ndjson"

// ErrNoPatientData is returned when no file in a directory holds Patient
// resources.
var ErrNoPatientData = errors.New("No files containing patient data were found in the directory.")

// LineError reports a line that could not be decoded as a JSON object.
type LineError struct {
	File string
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Each decodes every non-empty line of the file at path, in order, and calls
// fn with its 1-based line number. A malformed line aborts the read with a
// *LineError; an error from fn is returned as is.
func Each(path string, fn func(line int, r fhir.Resource) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return each(f, filepath.Base(path), fn)
}

func each(src io.Reader, name string, fn func(line int, r fhir.Resource) error) error {
	br := bufio.NewReader(src)
	line := 0
	for {
		raw, readErr := br.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			raw = bytes.TrimSpace(raw)
			if len(raw) > 0 {
				r, err := fhir.ParseResource(raw)
				if err != nil {
					return &LineError{File: name, Line: line, Err: err}
				}
				if err := fn(line, r); err != nil {
					return err
				}
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read %s: %w", name, readErr)
		}
	}
}

// ReadFile decodes every resource in the file at path.
func ReadFile(path string) ([]fhir.Resource, error) {
	var out []fhir.Resource
	err := Each(path, func(_ int, r fhir.Resource) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SniffType returns the resourceType of the first non-empty line of the
// file at path, or "" for a file without records.
func SniffType(path string) (string, error) {
	var rt string
	errStop := errors.New("stop")
	err := Each(path, func(_ int, r fhir.Resource) error {
		rt = r.ResourceType()
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return "", err
	}
	return rt, nil
}

// Load returns every resource of the given type found in dir. The second
// argument is either a resource type, resolved with ResolveFiles, or an exact
// file name. A missing file yields an empty result; a missing directory is an
// error.
func Load(dir, typeOrFilename string) ([]fhir.Resource, error) {
	paths, err := ResolveFiles(dir, typeOrFilename)
	if err != nil {
		return nil, err
	}
	out := []fhir.Resource{}
	for _, p := range paths {
		rs, err := ReadFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return out, nil
}
