package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/tripleforge/config"
)

type validateFlags struct {
	input     string
	shapes    string
	outputDir string
	command   string
	chunkSize int
	timeout   time.Duration
}

func validateCmd(g *globalFlags) *cobra.Command {
	var f validateFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a grouped entity file chunk by chunk",
		Long: `Validate walks a subject-grouped entity file, cuts it into chunks of whole
subject groups, and runs the external validator on each chunk with a
timeout. The command fails unless every chunk conforms.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), g.logLevel)
			app, err := loadApp(g, logger, func(cfg *config.Config) {
				f.apply(cmd, cfg)
			})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Close()

			input := f.input
			if input == "" {
				input = app.cfg.Paths.EntityOut
			}
			sum, err := app.rc.Validate(ctx, input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d chunks: %d passed, %d failed, %d timed out\n",
				sum.Chunks, sum.Passed, sum.Failed, sum.TimedOut)
			if !sum.Conforms {
				return fmt.Errorf("validation failed: %d of %d chunks did not conform", sum.Failed+sum.TimedOut, sum.Chunks)
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.input, "input", "i", "", "Grouped entity file (default: the configured entity output)")
	fl.StringVar(&f.shapes, "shapes", "", "Shapes file passed to the validator")
	fl.StringVar(&f.outputDir, "output-dir", "", "Directory for chunk files, reports and the validation summary")
	fl.StringVar(&f.command, "command", "", "Validator command template with {data} and {shapes} placeholders")
	fl.IntVar(&f.chunkSize, "chunk-size", 0, "Distinct subjects per chunk")
	fl.DurationVar(&f.timeout, "timeout", 0, "Per-chunk validator timeout")

	return cmd
}

// apply overrides cfg with the flags that were set on the command line.
func (f *validateFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("shapes") {
		cfg.Validation.Shapes = f.shapes
	}
	if changed("output-dir") {
		cfg.Validation.OutputDir = f.outputDir
	}
	if changed("command") {
		cfg.Validation.Command = f.command
	}
	if changed("chunk-size") {
		cfg.Validation.ChunkSize = f.chunkSize
	}
	if changed("timeout") {
		cfg.Validation.Timeout = f.timeout
	}
}
