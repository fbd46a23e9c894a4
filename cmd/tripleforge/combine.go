package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/tripleforge/config"
)

type combineFlags struct {
	entityOut        string
	relOut           string
	combinedOut      string
	threshold        int64
	entityPredicates []string
	inputs           []string
	preserveOrder    bool
	dropRelTypes     bool
	skipSanitize     bool
	skipDiagnostics  bool
	watch            bool
}

func combineCmd(g *globalFlags) *cobra.Command {
	var f combineFlags

	cmd := &cobra.Command{
		Use:   "combine",
		Short: "Partition, group and combine stage fragments",
		Long: `Combine discovers stage fragments (from --input or the configured stage
slots), splits their statements into entity and relationship partitions,
groups the entity partition by subject, optionally writes a single combined
artifact, and records a run summary in the logs directory.`,
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

			if f.watch {
				return app.rc.Watch(ctx, f.inputs)
			}
			out, err := app.rc.Combine(ctx, f.inputs)
			if err != nil {
				return err
			}
			t := out.Summary.Totals
			fmt.Fprintf(cmd.OutOrStdout(), "%d fragments, %d entity, %d relationship, %d malformed; summary %s\n",
				t.Fragments, t.Entity, t.Relationship, t.Malformed, out.SummaryPath)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.entityOut, "entity-out", "", "Entity partition output path")
	fl.StringVar(&f.relOut, "rel-out", "", "Relationship partition output path")
	fl.StringVar(&f.combinedOut, "combined-out", "", "Also write a single combined artifact to this path")
	fl.Int64Var(&f.threshold, "threshold", 0, "Fragment size in bytes at which the line parser replaces the accurate parser")
	fl.StringArrayVar(&f.entityPredicates, "entity-predicate", nil, "Predicate whose statements stay with the entity (repeatable)")
	fl.StringArrayVarP(&f.inputs, "input", "i", nil, "Input file, directory or glob (repeatable)")
	fl.BoolVar(&f.preserveOrder, "preserve-order", false, "Skip subject grouping of the entity partition")
	fl.BoolVar(&f.dropRelTypes, "drop-rel-types", false, "Drop kind statements from the relationship output")
	fl.BoolVar(&f.skipSanitize, "skip-sanitize", false, "Disable literal repair and continuation merging")
	fl.BoolVar(&f.skipDiagnostics, "skip-diagnostics", false, "Skip the post-run structural and completeness scans")
	fl.BoolVar(&f.watch, "watch", false, "Rerun whenever a stage fragment changes")

	return cmd
}

// apply overrides cfg with the flags that were set on the command line.
func (f *combineFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("entity-out") {
		cfg.Paths.EntityOut = f.entityOut
	}
	if changed("rel-out") {
		cfg.Paths.RelationshipOut = f.relOut
	}
	if changed("combined-out") {
		cfg.Paths.CombinedOut = f.combinedOut
	}
	if changed("threshold") {
		cfg.Partition.HeuristicThreshold = f.threshold
	}
	if changed("entity-predicate") {
		cfg.Partition.EntityPredicates = f.entityPredicates
	}
	if changed("preserve-order") {
		cfg.Grouping.PreserveOrder = f.preserveOrder
	}
	if changed("drop-rel-types") {
		cfg.Partition.DropRelationshipTypes = f.dropRelTypes
	}
	if changed("skip-sanitize") {
		cfg.Sanitizer.Skip = f.skipSanitize
	}
	if changed("skip-diagnostics") {
		cfg.Diagnostics.Skip = f.skipDiagnostics
	}
}
