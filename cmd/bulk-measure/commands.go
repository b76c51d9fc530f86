package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ehr/bulk-measure/internal/assembler"
	"github.com/ehr/bulk-measure/internal/config"
	"github.com/ehr/bulk-measure/internal/exportparams"
	"github.com/ehr/bulk-measure/internal/platform/db"
	"github.com/ehr/bulk-measure/internal/platform/httpclient"
	"github.com/ehr/bulk-measure/internal/platform/store"
	"github.com/ehr/bulk-measure/internal/report"
	"github.com/ehr/bulk-measure/internal/synth"
	"github.com/ehr/bulk-measure/migrations"
)

func bundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Assemble one collection bundle per patient from an export directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			out, _ := cmd.Flags().GetString("out")
			patientID, _ := cmd.Flags().GetString("patient")
			ndjsonPath, _ := cmd.Flags().GetString("ndjson")
			if dir == "" {
				dir = cfg.NDJSONDir
			}
			if out == "" {
				out = cfg.OutputDir
			}

			ctx := cmd.Context()
			asm, err := newAssembler(ctx, cfg, httpclient.New(logger, remoteFetchTimeout), logger)
			if err != nil {
				return err
			}
			sink, _, closePool, err := newSink(ctx, cfg, out, logger)
			if err != nil {
				return err
			}
			defer closePool()

			var stream *store.NDJSONSink
			if ndjsonPath != "" {
				if stream, err = store.NewNDJSONSink(ndjsonPath); err != nil {
					return err
				}
				sink = append(sink, stream)
			}

			n, err := runBundle(ctx, asm, sink, dir, patientID, cfg.Workers)
			if stream != nil {
				if cerr := stream.Close(); err == nil {
					err = cerr
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bundle(s) to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Export directory (default NDJSON_DIR)")
	cmd.Flags().String("out", "", "Output directory (default OUTPUT_DIR)")
	cmd.Flags().String("patient", "", "Only assemble the bundle for this patient id")
	cmd.Flags().String("ndjson", "", "Also write every bundle as one line of this NDJSON file")
	return cmd
}

// runBundle assembles every patient in dir, or only patientID, and saves each
// bundle. Nothing is saved when assembly fails.
func runBundle(ctx context.Context, asm *assembler.Assembler, sink store.Sink, dir, patientID string, workers int) (int, error) {
	if patientID != "" {
		src, err := asm.LoadSource(ctx, dir)
		if err != nil {
			return 0, err
		}
		patient, err := src.Patient(patientID)
		if err != nil {
			return 0, err
		}
		b, err := src.Bundle(patient)
		if err != nil {
			return 0, err
		}
		return 1, sink.Save(ctx, patientID, b)
	}

	results, err := asm.AssembleAll(ctx, dir, workers)
	if err != nil {
		return 0, err
	}
	for i, r := range results {
		if err := sink.Save(ctx, r.PatientID, r.Bundle); err != nil {
			return i, err
		}
	}
	return len(results), nil
}

func paramsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params <requirements.json>",
		Short: "Print the _type and _typeFilter parameters for a measure's data requirements",
		Long: "The input may be a DataRequirement array, a Library resource, or a Bundle " +
			"containing the measure's module-definition Library.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			autoType := cfg.AutoType
			if cmd.Flags().Changed("auto-type") {
				autoType, _ = cmd.Flags().GetBool("auto-type")
			}
			autoTypeFilter := cfg.AutoTypeFilter
			if cmd.Flags().Changed("auto-type-filter") {
				autoTypeFilter, _ = cmd.Flags().GetBool("auto-type-filter")
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return runParams(cmd.OutOrStdout(), data, autoType, autoTypeFilter)
		},
	}
	cmd.Flags().Bool("auto-type", true, "Derive _type from the requirement types (default AUTO_TYPE)")
	cmd.Flags().Bool("auto-type-filter", false, "Derive _typeFilter from code and date filters (default AUTO_TYPE_FILTER)")
	return cmd
}

func runParams(w io.Writer, data []byte, autoType, autoTypeFilter bool) error {
	reqs, err := exportparams.ParseRequirements(data)
	if err != nil {
		return err
	}
	params, err := exportparams.Build(reqs, autoType, autoTypeFilter)
	if err != nil {
		return err
	}
	return writeJSON(w, params)
}

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report [log-file]",
		Short: "Summarise the most recent export in an export event log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.NDJSONDir, cfg.LogFileName)
			if len(args) == 1 {
				path = args[0]
			}
			rep, err := report.ParseFile(path)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rep)
		},
	}
}

func seedCmd() *cobra.Command {
	defaults := synth.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write a synthetic bulk export directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = cfg.NDJSONDir
			}
			sc := defaults
			sc.LogFileName = cfg.LogFileName
			sc.Patients, _ = cmd.Flags().GetInt("patients")
			sc.EncountersPerPatient, _ = cmd.Flags().GetInt("encounters")
			sc.ObservationsPerEncounter, _ = cmd.Flags().GetInt("observations")
			sc.ConditionsPerPatient, _ = cmd.Flags().GetInt("conditions")
			sc.PartSize, _ = cmd.Flags().GetInt("part-size")
			sc.Seed, _ = cmd.Flags().GetInt64("seed")

			res, err := synth.Write(cmd.Context(), out, sc)
			if err != nil {
				return err
			}
			logger.Info().
				Str("export_id", res.ExportID).
				Int("files", len(res.Files)).
				Int("resources", res.Resources).
				Msg("synthetic export written")
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d resource(s) for %d patient(s) to %s\n", res.Resources, res.Patients, out)
			return nil
		},
	}
	cmd.Flags().String("out", "", "export directory (default NDJSON_DIR)")
	cmd.Flags().Int("patients", defaults.Patients, "number of patients")
	cmd.Flags().Int("encounters", defaults.EncountersPerPatient, "encounters per patient")
	cmd.Flags().Int("observations", defaults.ObservationsPerEncounter, "observations per encounter")
	cmd.Flags().Int("conditions", defaults.ConditionsPerPatient, "conditions per patient")
	cmd.Flags().Int("part-size", 0, "split files into numbered parts of this many lines")
	cmd.Flags().Int64("seed", 0, "random seed (0 picks one)")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres bundle store schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(m *db.Migrator) error {
				count, err := m.Up(cmd.Context())
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(m *db.Migrator) error {
				statuses, err := m.Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, fn func(*db.Migrator) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if !cfg.HasDatabase() {
		return errors.New("DATABASE_URL is required for migrations")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(db.NewMigrator(pool, migrations.Files))
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
