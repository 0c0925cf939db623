package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabimport/internal/admin"
	"github.com/JonMunkholm/tabimport/internal/core"
)

func newArchiveCmd(c *cli) *cobra.Command {
	var (
		tenant   string
		keysFile string
	)

	cmd := &cobra.Command{
		Use:   "archive <entity> [key...]",
		Short: "Archive records by natural key",
		Long: `Archive soft-deletes the tenant's live records with the given natural keys.
Archived records are kept but no longer matched on import, so importing the
same key again creates a new record. Keys can also be read from a file with
one key per line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := args[1:]
			if keysFile != "" {
				fromFile, err := readKeys(keysFile)
				if err != nil {
					return withCode(exitUsage, err)
				}
				keys = append(keys, fromFile...)
			}
			if len(keys) == 0 {
				return withCode(exitUsage, fmt.Errorf("no keys given"))
			}

			app, err := c.openApp(cmd.Context())
			if err != nil {
				return userError(err)
			}
			defer app.Close()

			if _, err := app.Service.Schema(args[0]); err != nil {
				return userError(withCode(exitUsage, err))
			}

			scope := core.Scope{Tenant: tenant, Entity: args[0]}
			result, err := admin.ArchiveKeys(cmd.Context(), app.Store, scope, keys)
			if err != nil {
				return userError(err)
			}

			if c.jsonOut {
				return printJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], result)
			if len(result.Missing) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "not found: %s\n", strings.Join(result.Missing, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant the records belong to (required)")
	cmd.Flags().StringVar(&keysFile, "from-file", "", "Read keys from this file, one per line")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func readKeys(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read --from-file: %w", err)
	}
	defer f.Close()

	var keys []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if k := strings.TrimSpace(sc.Text()); k != "" {
			keys = append(keys, k)
		}
	}
	return keys, sc.Err()
}
