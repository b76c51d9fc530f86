package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/bulk-measure/internal/assembler"
	"github.com/ehr/bulk-measure/internal/exportparams"
	"github.com/ehr/bulk-measure/internal/platform/compartment"
	"github.com/ehr/bulk-measure/internal/platform/db"
	"github.com/ehr/bulk-measure/internal/platform/fhir"
	"github.com/ehr/bulk-measure/internal/platform/ndjson"
	"github.com/ehr/bulk-measure/internal/platform/store"
	"github.com/ehr/bulk-measure/internal/synth"
)

func writeExport(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"Patient.ndjson": `{"resourceType":"Patient","id":"p1"}` + "\n" +
			`{"resourceType":"Patient","id":"p2"}` + "\n",
		"Encounter.ndjson": `{"resourceType":"Encounter","id":"e1","subject":{"reference":"Patient/p2"}}` + "\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRunBundle_All(t *testing.T) {
	dir := writeExport(t)
	out := filepath.Join(t.TempDir(), "bundles")
	asm := assembler.New(compartment.Default(), zerolog.Nop())

	n, err := runBundle(context.Background(), asm, store.NewDirSink(out, zerolog.Nop()), dir, "", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 bundles, got %d", n)
	}

	data, err := os.ReadFile(filepath.Join(out, "Patient-p2.json"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := fhir.ParseBundle(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Entry) != 2 {
		t.Errorf("expected Patient and Encounter for p2, got %d entries", len(b.Entry))
	}
	if _, err := os.Stat(filepath.Join(out, "Patient-p1.json")); err != nil {
		t.Errorf("expected bundle for p1: %v", err)
	}
}

func TestRunBundle_SinglePatient(t *testing.T) {
	dir := writeExport(t)
	out := t.TempDir()
	asm := assembler.New(compartment.Default(), zerolog.Nop())

	n, err := runBundle(context.Background(), asm, store.NewDirSink(out, zerolog.Nop()), dir, "p1", 1)
	if err != nil || n != 1 {
		t.Fatalf("expected one bundle, got %d, %v", n, err)
	}
	entries, _ := os.ReadDir(out)
	if len(entries) != 1 || entries[0].Name() != "Patient-p1.json" {
		t.Errorf("expected only Patient-p1.json, got %v", entries)
	}

	if _, err := runBundle(context.Background(), asm, store.NewDirSink(out, zerolog.Nop()), dir, "nobody", 1); !errors.Is(err, assembler.ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestRunBundle_NoPatientData(t *testing.T) {
	out := t.TempDir()
	asm := assembler.New(compartment.Default(), zerolog.Nop())
	_, err := runBundle(context.Background(), asm, store.NewDirSink(out, zerolog.Nop()), t.TempDir(), "", 1)
	if !errors.Is(err, ndjson.ErrNoPatientData) {
		t.Fatalf("expected ErrNoPatientData, got %v", err)
	}
	if entries, _ := os.ReadDir(out); len(entries) != 0 {
		t.Errorf("expected no output, got %d files", len(entries))
	}
}

func TestRunParams(t *testing.T) {
	lib := `{
		"resourceType": "Library",
		"dataRequirement": [
			{"type": "Procedure", "codeFilter": [{"path": "type", "valueSet": "TEST_VALUE_SET"}]},
			{"type": "Encounter"}
		]
	}`

	var buf bytes.Buffer
	if err := runParams(&buf, []byte(lib), true, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got exportparams.ExportQueryParams
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := exportparams.ExportQueryParams{Type: "Procedure,Encounter", TypeFilter: "Procedure?type:in=TEST_VALUE_SET"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if err := runParams(&buf, []byte(`{"resourceType":"Library"}`), true, false); !errors.Is(err, exportparams.ErrNoDataRequirements) {
		t.Errorf("expected ErrNoDataRequirements, got %v", err)
	}
}

func TestPrintStatus(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_patient_bundle.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_next.sql"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and two rows, got %q", buf.String())
	}
	if !strings.Contains(lines[2], "applied") || !strings.Contains(lines[2], "2024-03-01 12:00:00") {
		t.Errorf("unexpected applied row %q", lines[2])
	}
	if !strings.Contains(lines[3], "pending") {
		t.Errorf("unexpected pending row %q", lines[3])
	}
}

func TestRunBundle_SyntheticExport(t *testing.T) {
	dir := t.TempDir()
	cfg := synth.DefaultConfig()
	cfg.Patients = 3
	cfg.PartSize = 4
	cfg.Seed = 7
	res, err := synth.Write(context.Background(), dir, cfg)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "bundles.ndjson")
	sink, err := store.NewNDJSONSink(path)
	if err != nil {
		t.Fatal(err)
	}
	asm := assembler.New(compartment.Default(), zerolog.Nop())
	n, err := runBundle(context.Background(), asm, sink, dir, "", 2)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if n != res.Patients || sink.Count() != res.Patients {
		t.Errorf("expected %d bundles, got %d (sink %d)", res.Patients, n, sink.Count())
	}
}
