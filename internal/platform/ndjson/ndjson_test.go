package ndjson

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestTypeFromFilename(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Encounter.ndjson", "Encounter"},
		{"1.Encounter.ndjson", "Encounter"},
		{"12.MedicationRequest.ndjson", "MedicationRequest"},
		{"/tmp/export/Patient.ndjson", "Patient"},
		{"log.ndjson", "log"},
		{"v2.Encounter.ndjson", "v2.Encounter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TypeFromFilename(tt.name); got != tt.want {
				t.Errorf("TypeFromFilename(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestLoad_NamingConventions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Encounter.ndjson", `{"resourceType":"Encounter","id":"e1"}`+"\n")
	writeFile(t, dir, "1.Condition.ndjson", `{"resourceType":"Condition","id":"c1"}`+"\n")
	writeFile(t, dir, "2.Condition.ndjson", `{"resourceType":"Condition","id":"c2"}`+"\n")

	enc, err := Load(dir, "Encounter")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(enc) != 1 || enc[0].ID() != "e1" {
		t.Errorf("expected encounter e1, got %v", enc)
	}

	cond, err := Load(dir, "Condition")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cond) != 2 || cond[0].ID() != "c1" || cond[1].ID() != "c2" {
		t.Errorf("expected conditions c1,c2 in part order, got %v", cond)
	}
}

func TestLoad_ExactFilename(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Patient.ndjson", `{"resourceType":"Patient","id":"p1"}`+"\n"+`{"resourceType":"Patient","id":"p2"}`+"\n")

	got, err := Load(dir, "Patient.ndjson")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 patients, got %d", len(got))
	}

	missing, err := Load(dir, "Other.ndjson")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("expected empty result for missing file, got %d", len(missing))
	}
}

func TestLoad_MissingTypeIsEmpty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Patient.ndjson", `{"resourceType":"Patient","id":"p1"}`+"\n")

	got, err := Load(dir, "DiagnosticReport")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected non-nil empty slice, got %#v", got)
	}
}

func TestLoad_MissingDirectory(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope"), "Patient"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestLoad_MalformedLine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Encounter.ndjson", `{"resourceType":"Encounter","id":"e1"}`+"\n\n"+`{"resourceType":`+"\n")

	_, err := Load(dir, "Encounter")
	var lineErr *LineError
	if !errors.As(err, &lineErr) {
		t.Fatalf("expected *LineError, got %v", err)
	}
	if lineErr.File != "Encounter.ndjson" || lineErr.Line != 3 {
		t.Errorf("expected Encounter.ndjson:3, got %s:%d", lineErr.File, lineErr.Line)
	}
}

func TestLoad_SkipsBlankLinesAndHandlesMissingTrailingNewline(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Observation.ndjson", "\n"+`{"resourceType":"Observation","id":"o1"}`+"\r\n   \n"+`{"resourceType":"Observation","id":"o2"}`)

	got, err := Load(dir, "Observation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].ID() != "o2" {
		t.Errorf("expected o1,o2, got %v", got)
	}
}

func TestSniffType(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "Patient.ndjson", "\n"+`{"resourceType":"Patient","id":"p1"}`+"\n"+`not json`+"\n")
	rt, err := SniffType(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt != "Patient" {
		t.Errorf("expected Patient, got %q", rt)
	}

	empty := writeFile(t, dir, "Empty.ndjson", "")
	rt, err = SniffType(empty)
	if err != nil || rt != "" {
		t.Errorf("expected empty type without error, got %q, %v", rt, err)
	}
}

func TestFindPatientFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Patient.ndjson", `{"resourceType":"Patient","id":"p1"}`+"\n")
	writeFile(t, dir, "Encounter.ndjson", `{"resourceType":"Encounter","id":"e1"}`+"\n")
	writeFile(t, dir, "Condition.ndjson", `{"resourceType":"Condition","id":"c1"}`+"\n")
	writeFile(t, dir, DefaultLogFileName, `{"exportId":"x","eventId":"kickoff"}`+"\n")

	got, err := FindPatientFiles(dir, DefaultLogFileName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "Patient.ndjson" {
		t.Errorf("expected [Patient.ndjson], got %v", got)
	}
}

func TestFindPatientFiles_IgnoresFileName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "1.export.ndjson", `{"resourceType":"Patient","id":"p1"}`+"\n")
	writeFile(t, dir, "Patient.ndjson", `{"resourceType":"Encounter","id":"e1"}`+"\n")

	got, err := FindPatientFiles(dir, DefaultLogFileName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "1.export.ndjson" {
		t.Errorf("expected [1.export.ndjson], got %v", got)
	}
}

func TestFindPatientFiles_NoPatientData(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Encounter.ndjson", `{"resourceType":"Encounter","id":"e1"}`+"\n")

	_, err := FindPatientFiles(dir, DefaultLogFileName)
	if !errors.Is(err, ErrNoPatientData) {
		t.Fatalf("expected ErrNoPatientData, got %v", err)
	}
	if err.Error() != "No files containing patient data were found in the directory." {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestScanDir_TypeMismatchPrefersRecord(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Encounter.ndjson", `{"resourceType":"Condition","id":"c1"}`+"\n")
	writeFile(t, dir, "Empty.ndjson", "")
	if err := os.Mkdir(filepath.Join(dir, "sub.ndjson"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "report.html", "<html></html>")

	var buf strings.Builder
	logger := zerolog.New(&buf)

	files, err := ScanDir(dir, DefaultLogFileName, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	// ReadDir order: Empty.ndjson, Encounter.ndjson
	if files[0].ResourceType() != "Empty" {
		t.Errorf("expected empty file to fall back to name type, got %q", files[0].ResourceType())
	}
	if files[1].ResourceType() != "Condition" {
		t.Errorf("expected first record to win, got %q", files[1].ResourceType())
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) || !strings.Contains(buf.String(), "Encounter.ndjson") {
		t.Errorf("expected a warning naming the file, got %s", buf.String())
	}
}
