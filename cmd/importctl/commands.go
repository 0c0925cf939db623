package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabimport/internal/core"
	"github.com/JonMunkholm/tabimport/internal/schema"
)

func newEntitiesCmd(c *cli) *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "entities [entity]",
		Short: "List entities, or show the fields of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.offlineService()
			if err != nil {
				return userError(err)
			}

			schemas := svc.Entities()
			if len(args) == 1 {
				sc, err := svc.Schema(args[0])
				if err != nil {
					return userError(withCode(exitUsage, err))
				}
				schemas = []*schema.Schema{sc}
			}

			if asYAML {
				data, err := schema.Marshal(schemas...)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if c.jsonOut {
				defs := make([]schema.Definition, len(schemas))
				for i, sc := range schemas {
					defs[i] = sc.Definition()
				}
				return printJSON(cmd, defs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if len(args) == 1 {
				sc := schemas[0]
				fmt.Fprintf(tw, "KEY\tLABEL\tTYPE\tREQUIRED\tALIASES\n")
				for _, f := range sc.Fields() {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", f.Key, f.Label, f.Type, f.Required, strings.Join(f.Aliases, ", "))
				}
			} else {
				fmt.Fprintf(tw, "ENTITY\tLABEL\tNATURAL KEY\tFIELDS\n")
				for _, sc := range schemas {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", sc.Entity(), sc.Label(), sc.NaturalKey(), len(sc.Fields()))
				}
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print schemas in schema file format")
	return cmd
}

func newTemplateCmd(c *cli) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "template <entity>",
		Short: "Write the CSV template for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.offlineService()
			if err != nil {
				return userError(err)
			}
			data, fileName, err := svc.Template(args[0])
			if err != nil {
				return userError(withCode(exitUsage, err))
			}

			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if output == "." {
				output = fileName
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write template: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", `Write to this file instead of stdout ("." uses <entity>_template.csv)`)
	return cmd
}

func newMapCmd(c *cli) *cobra.Command {
	var auto bool

	cmd := &cobra.Command{
		Use:   "map <entity> <file>",
		Short: "Suggest how the columns of a file map to entity fields",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, path := args[0], args[1]

			svc, err := c.offlineService()
			if err != nil {
				return userError(err)
			}
			sc, err := svc.Schema(entity)
			if err != nil {
				return userError(withCode(exitUsage, err))
			}
			table, err := c.readTable(path)
			if err != nil {
				return userError(err)
			}

			var mappings []core.ColumnMapping
			if auto {
				mappings, err = svc.AutoMap(entity, table)
			} else {
				mappings, err = svc.SuggestMappings(entity, table)
			}
			if err != nil {
				return userError(err)
			}

			if c.jsonOut {
				return printJSON(cmd, mappings)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "COLUMN\tFIELD\tCONFIDENCE\tSAMPLES\n")
			for _, m := range mappings {
				field := "-"
				if m.Mapped() {
					field = m.TargetField
				}
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", m.SourceColumn, field, m.Confidence, strings.Join(m.SampleValues, " | "))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			var incomplete *core.MappingIncompleteError
			if errors.As(core.CheckMapping(sc, mappings), &incomplete) {
				fmt.Fprintf(cmd.OutOrStdout(), "\nunmapped required fields: %s\n", strings.Join(incomplete.Labels, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&auto, "auto", false, "Use the lower bulk auto-map threshold")
	return cmd
}

// validateReport is printed by validate.
type validateReport struct {
	Entity   string                     `json:"entity"`
	Total    int                        `json:"total"`
	Valid    int                        `json:"valid"`
	Invalid  int                        `json:"invalid"`
	Mappings []core.ColumnMapping       `json:"mappings"`
	Errors   []*core.RowValidationError `json:"validation_errors,omitempty"`
}

func newValidateCmd(c *cli) *cobra.Command {
	var (
		mf     mappingFlags
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "validate <entity> <file>",
		Short: "Check every row of a file without importing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, path := args[0], args[1]

			svc, err := c.offlineService()
			if err != nil {
				return userError(err)
			}
			if _, err := svc.Schema(entity); err != nil {
				return userError(withCode(exitUsage, err))
			}
			table, err := c.readTable(path)
			if err != nil {
				return userError(err)
			}
			mappings, err := mf.resolve(svc, entity, table)
			if err != nil {
				return userError(err)
			}
			rows, err := svc.Validate(entity, mappings, table)
			if err != nil {
				return userError(withCode(exitUsage, err))
			}

			valid := len(core.ValidSubset(rows))
			report := validateReport{
				Entity:   entity,
				Total:    len(rows),
				Valid:    valid,
				Invalid:  len(rows) - valid,
				Mappings: mappings,
				Errors:   core.RowErrors(rows),
			}

			if c.jsonOut {
				err = printJSON(cmd, report)
			} else {
				err = printValidateReport(cmd, report)
			}
			if err != nil {
				return err
			}

			if strict && report.Invalid > 0 {
				return withCode(exitInvalidRows, fmt.Errorf("%d of %d rows are invalid", report.Invalid, report.Total))
			}
			return nil
		},
	}

	mf.register(cmd)
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit with status 3 when any row is invalid")
	return cmd
}

func printValidateReport(cmd *cobra.Command, r validateReport) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d rows, %d valid, %d invalid\n", r.Entity, r.Total, r.Valid, r.Invalid)
	for _, e := range r.Errors {
		// Line numbers count the header row.
		fmt.Fprintf(out, "  line %d: %s\n", e.Row+2, strings.Join(e.Messages, "; "))
	}
	return nil
}
