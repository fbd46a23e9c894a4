package pipeline

import (
	"context"
	"fmt"

	"github.com/c360studio/tripleforge/chunkvalidate"
)

// Validate runs the chunked validation driver over input, a grouped entity
// file. The returned summary conforms only when every chunk passed.
func (rc *RunContext) Validate(ctx context.Context, input string) (*chunkvalidate.Summary, error) {
	v := rc.Config.Validation
	if v.Shapes == "" {
		return nil, fmt.Errorf("validation shapes file is required")
	}
	d := chunkvalidate.NewDriver(rc.validationRunner(), chunkvalidate.Options{
		ChunkSize: v.ChunkSize,
		OutputDir: v.OutputDir,
		Shapes:    v.Shapes,
	}, rc.Logger)

	var sum *chunkvalidate.Summary
	err := rc.timed(StepValidate, func() error {
		var err error
		sum, err = d.Run(ctx, input)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", input, err)
	}

	for _, res := range sum.Results {
		rc.Metrics.ObserveChunk(res.Status)
	}
	rc.Metrics.MarkRun(sum.FinishedAt)
	rc.writeMetrics()
	if err := rc.Notifier.ValidationCompleted(ctx, sum); err != nil {
		rc.Logger.Warn("Failed to publish validation event", "error", err)
	}
	return sum, nil
}
