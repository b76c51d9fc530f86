package ndjson

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// TypeFromFilename derives a resource type from an export file name:
// "Encounter.ndjson" and "1.Encounter.ndjson" both give "Encounter".
func TypeFromFilename(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), Ext)
	if prefix, rest, ok := strings.Cut(base, "."); ok && isDigits(prefix) {
		return rest
	}
	return base
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// filePrefix returns the numeric prefix of a "<n>.<Type>.ndjson" name, or -1.
func filePrefix(name string) int {
	prefix, _, ok := strings.Cut(name, ".")
	if !ok || !isDigits(prefix) {
		return -1
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return -1
	}
	return n
}

// ResolveFiles returns the paths in dir holding resources of the given type.
// An argument ending in ".ndjson" names one file exactly. Otherwise
// "<Type>.ndjson" comes first, followed by the numbered "<n>.<Type>.ndjson"
// parts in ascending order. No match yields an empty slice.
func ResolveFiles(dir, typeOrFilename string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	if strings.HasSuffix(typeOrFilename, Ext) {
		for _, e := range entries {
			if !e.IsDir() && e.Name() == typeOrFilename {
				return []string{filepath.Join(dir, e.Name())}, nil
			}
		}
		return []string{}, nil
	}

	var plain string
	type part struct {
		n    int
		name string
	}
	var parts []part
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, Ext) {
			continue
		}
		if name == typeOrFilename+Ext {
			plain = name
			continue
		}
		if n := filePrefix(name); n >= 0 && TypeFromFilename(name) == typeOrFilename {
			parts = append(parts, part{n: n, name: name})
		}
	}
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].n < parts[j].n })

	out := []string{}
	if plain != "" {
		out = append(out, filepath.Join(dir, plain))
	}
	for _, p := range parts {
		out = append(out, filepath.Join(dir, p.name))
	}
	return out, nil
}

// File is one data file of an export directory.
type File struct {
	Name string
	Path string
	// NameType is the resource type implied by the file name.
	NameType string
	// RecordType is the resourceType of the first record, "" if the file is
	// empty.
	RecordType string
}

// ResourceType is the type used for compartment matching. The first record
// wins over the file name.
func (f File) ResourceType() string {
	if f.RecordType != "" {
		return f.RecordType
	}
	return f.NameType
}

// ScanDir lists every NDJSON file in dir except logFileName, in file name
// order, and sniffs the first record of each. Files whose name and first
// record disagree on the resource type are logged and kept.
func ScanDir(dir, logFileName string, logger zerolog.Logger) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var files []File
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, Ext) || name == logFileName {
			continue
		}
		path := filepath.Join(dir, name)
		recordType, err := SniffType(path)
		if err != nil {
			return nil, err
		}
		f := File{
			Name:       name,
			Path:       path,
			NameType:   TypeFromFilename(name),
			RecordType: recordType,
		}
		if f.RecordType != "" && f.RecordType != f.NameType {
			logger.Warn().
				Str("file", name).
				Str("name_type", f.NameType).
				Str("resource_type", f.RecordType).
				Msg("file name and first record disagree on resource type")
		}
		files = append(files, f)
	}
	return files, nil
}

// PatientFiles returns the names of the files whose first record is a
// Patient, or ErrNoPatientData when there are none.
func PatientFiles(files []File) ([]string, error) {
	var out []string
	for _, f := range files {
		if f.RecordType == "Patient" {
			out = append(out, f.Name)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoPatientData
	}
	return out, nil
}

// FindPatientFiles scans dir and returns the names of its Patient files.
func FindPatientFiles(dir, logFileName string) ([]string, error) {
	files, err := ScanDir(dir, logFileName, zerolog.Nop())
	if err != nil {
		return nil, err
	}
	return PatientFiles(files)
}
