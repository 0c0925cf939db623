package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabimport/internal/core"
)

type importOptions struct {
	tenant string
	dryRun bool
	mf     mappingFlags
}

// importReport is printed by import.
type importReport struct {
	Entity  string                     `json:"entity"`
	Tenant  string                     `json:"tenant"`
	Invalid int                        `json:"invalid"`
	Errors  []*core.RowValidationError `json:"validation_errors,omitempty"`
	Batch   *core.ImportBatchResult    `json:"batch,omitempty"`
	Preview *core.PreviewResponse      `json:"preview,omitempty"`
}

func newImportCmd(c *cli) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <entity> <file>",
		Short: "Import the valid rows of a file into the configured store",
		Long: `Import maps the file's columns, validates every row and commits the valid
ones to the store selected by STORE_DRIVER. Invalid rows are reported and
never written. Rows whose natural key already exists for the tenant are
updated. Interrupting the command stops between rows; committed rows stay.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runImport(ctx, c, cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.tenant, "tenant", "", "Tenant the records belong to (required)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report new and updated rows without writing")
	opts.mf.register(cmd)
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runImport(ctx context.Context, c *cli, cmd *cobra.Command, opts importOptions, entity, path string) error {
	app, err := c.openApp(ctx)
	if err != nil {
		return userError(err)
	}
	defer app.Close()
	svc := app.Service

	if _, err := svc.Schema(entity); err != nil {
		return userError(withCode(exitUsage, err))
	}
	table, err := c.readTable(path)
	if err != nil {
		return userError(err)
	}
	mappings, err := opts.mf.resolve(svc, entity, table)
	if err != nil {
		return userError(err)
	}

	report := importReport{Entity: entity, Tenant: opts.tenant}

	if opts.dryRun {
		preview, err := svc.Preview(ctx, opts.tenant, entity, table, mappings)
		if err != nil {
			return userError(err)
		}
		report.Preview = preview
		report.Invalid = preview.Summary.ErrorRows
		return printImportReport(c, cmd, report)
	}

	rows, err := svc.Validate(entity, mappings, table)
	if err != nil {
		return userError(withCode(exitUsage, err))
	}
	report.Errors = core.RowErrors(rows)
	report.Invalid = len(report.Errors)

	logger := c.logger.With("tenant", opts.tenant, "entity", entity, "file", path)
	lastStep := -1
	batch, err := svc.Import(ctx, opts.tenant, entity, rows, func(p core.Progress) {
		if step := p.Percent() / 10; step != lastStep {
			lastStep = step
			logger.Info("import progress", "processed", p.Processed, "total", p.Total, "percent", p.Percent())
		}
	})
	report.Batch = &batch
	if err != nil && !batch.Cancelled {
		return userError(err)
	}
	if perr := printImportReport(c, cmd, report); perr != nil {
		return perr
	}

	switch {
	case batch.Cancelled:
		return withCode(exitFailure, fmt.Errorf("import interrupted after %d of %d rows", batch.Processed(), batch.Total))
	case batch.Diagnostic != "":
		return userError(core.ErrInsufficientPermission)
	case batch.Failed > 0:
		return withCode(exitFailure, fmt.Errorf("%d rows failed to import", batch.Failed))
	}
	return nil
}

func printImportReport(c *cli, cmd *cobra.Command, r importReport) error {
	if c.jsonOut {
		return printJSON(cmd, r)
	}

	out := cmd.OutOrStdout()
	if p := r.Preview; p != nil {
		fmt.Fprintf(out, "%s (dry run): %d rows, %d new, %d updates, %d invalid, %d duplicate keys in file\n",
			r.Entity, p.Summary.TotalRows, p.Summary.NewRows, p.Summary.UpdateRows, p.Summary.ErrorRows, p.Summary.DuplicateInFile)
		for _, e := range p.ErrorSamples {
			fmt.Fprintf(out, "  line %d: %v\n", e.LineNumber, e.Errors)
		}
		return nil
	}

	if b := r.Batch; b != nil {
		fmt.Fprintf(out, "%s: %d added, %d updated, %d failed, %d invalid (%s)\n",
			r.Entity, b.Added, b.Updated, b.Failed, r.Invalid, b.Duration.Round(time.Millisecond))
		if b.Diagnostic != "" {
			fmt.Fprintf(out, "  %s (%d rows)\n", b.Diagnostic, b.Failed)
		}
		for _, f := range b.Failures {
			fmt.Fprintf(out, "  line %d (%s): %s\n", f.Row+2, f.NaturalKey, f.Error)
		}
	}
	for _, e := range r.Errors {
		fmt.Fprintf(out, "  line %d: invalid: %v\n", e.Row+2, e.Messages)
	}
	return nil
}
