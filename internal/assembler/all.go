package assembler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ehr/bulk-measure/internal/platform/fhir"
	"github.com/ehr/bulk-measure/internal/platform/ndjson"
)

// Result is one assembled patient bundle.
type Result struct {
	PatientID string
	Bundle    *fhir.Bundle
}

// AssembleAll builds a bundle for every patient in dir using up to workers
// goroutines. Results follow patient file then line order. The first failure
// cancels the remaining work and is returned without partial results.
func (a *Assembler) AssembleAll(ctx context.Context, dir string, workers int) ([]Result, error) {
	start := time.Now()

	src, err := a.LoadSource(ctx, dir)
	if err != nil {
		return nil, err
	}
	patients := src.Patients()
	if len(patients) == 0 {
		return nil, ndjson.ErrNoPatientData
	}

	if workers < 1 {
		workers = 1
	}
	results := make([]Result, len(patients))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range patients {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := src.Bundle(p)
			if err != nil {
				return fmt.Errorf("assemble Patient/%s: %w", p.ID(), err)
			}
			results[i] = Result{PatientID: p.ID(), Bundle: b}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.Logger.Info().
		Str("dir", dir).
		Int("patients", len(results)).
		Int("records", src.Records()).
		Dur("latency", time.Since(start)).
		Msg("assembled patient bundles")
	return results, nil
}
