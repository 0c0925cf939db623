package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabimport/internal/application"
	"github.com/JonMunkholm/tabimport/internal/config"
	"github.com/JonMunkholm/tabimport/internal/core"
	"github.com/JonMunkholm/tabimport/internal/logging"
	"github.com/JonMunkholm/tabimport/internal/source"
	"github.com/JonMunkholm/tabimport/internal/store/memory"
)

// cli holds state shared by all commands.
type cli struct {
	envFile  string
	logLevel string
	jsonOut  bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "importctl",
		Short:         "Map, validate and import spreadsheet files into entity records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&c.envFile, "env-file", "", "Load environment from this file (default: .env if present)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: LOG_LEVEL)")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "Print results as JSON")

	root.AddCommand(
		newEntitiesCmd(c),
		newTemplateCmd(c),
		newMapCmd(c),
		newValidateCmd(c),
		newImportCmd(c),
		newArchiveCmd(c),
	)
	return root
}

// setup loads the environment and configuration. Logs go to stderr so
// stdout only carries command output.
func (c *cli) setup(cmd *cobra.Command) error {
	if c.envFile != "" {
		if err := godotenv.Overload(c.envFile); err != nil {
			return withCode(exitUsage, fmt.Errorf("load --env-file: %w", err))
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		return withCode(exitUsage, err)
	}
	c.cfg = cfg

	level := cfg.Logging.Level
	if c.logLevel != "" {
		level = c.logLevel
	}
	c.logger = logging.New(cmd.ErrOrStderr(), level, cfg.Logging.Format)
	return nil
}

// offlineService returns a service backed by an in-memory store, for
// commands that never write records.
func (c *cli) offlineService() (*core.Service, error) {
	registry, err := application.LoadRegistry(c.cfg.Import.SchemaFile)
	if err != nil {
		return nil, err
	}
	return core.NewService(registry, memory.New(), application.ServiceConfig(c.cfg.Import), core.WithLogger(c.logger))
}

// openApp wires the service against the configured store.
func (c *cli) openApp(ctx context.Context) (*application.App, error) {
	return application.New(ctx, c.cfg, application.WithLogger(c.logger))
}

// readTable decodes a spreadsheet file from disk.
func (c *cli) readTable(path string) (*core.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &core.FileParseError{FileName: path, Err: err}
	}
	defer f.Close()

	return source.Decode(path, f, c.cfg.Import.MaxFileSize)
}

// mappingFlags are shared by validate and import.
type mappingFlags struct {
	mappingFile string
	overrides   []string
}

func (m *mappingFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&m.mappingFile, "mapping", "", "JSON file with the complete column mapping (as printed by map --json)")
	cmd.Flags().StringArrayVar(&m.overrides, "override", nil, `Override one column, as "Column=field" ("Column=" unmaps it)`)
}

func (m *mappingFlags) resolve(svc *core.Service, entity string, table *core.Table) ([]core.ColumnMapping, error) {
	var explicit []core.ColumnMapping
	if m.mappingFile != "" {
		data, err := os.ReadFile(m.mappingFile)
		if err != nil {
			return nil, withCode(exitUsage, fmt.Errorf("read --mapping: %w", err))
		}
		if err := json.Unmarshal(data, &explicit); err != nil {
			return nil, withCode(exitUsage, fmt.Errorf("%w: --mapping is not a JSON array: %v", core.ErrInvalidOverride, err))
		}
		if explicit == nil {
			explicit = []core.ColumnMapping{}
		}
	}

	overrides := make(map[string]string, len(m.overrides))
	for _, o := range m.overrides {
		col, field, ok := strings.Cut(o, "=")
		if !ok {
			return nil, withCode(exitUsage, fmt.Errorf("%w: %q is not Column=field", core.ErrInvalidOverride, o))
		}
		overrides[strings.TrimSpace(col)] = strings.TrimSpace(field)
	}

	mappings, err := svc.ResolveMappings(entity, table, explicit, overrides)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	return mappings, nil
}

// printJSON writes v as indented JSON to the command's stdout.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// userError turns err into the mapped user message plus support code,
// keeping its exit code.
func userError(err error) error {
	msg := core.MapError(err)
	text := fmt.Sprintf("%s (%s)", msg.Message, msg.Code)
	if msg.Action != "" {
		text += ": " + msg.Action
	}
	return withCode(exitCode(err), fmt.Errorf("%s\n  detail: %w", text, err))
}
