package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/config-generator/pkg/backup"
	"github.com/yourorg/config-generator/pkg/batch"
	"github.com/yourorg/config-generator/pkg/db"
	"github.com/yourorg/config-generator/pkg/ingest"
	"github.com/yourorg/config-generator/pkg/render"
	"github.com/yourorg/config-generator/pkg/variables"
)

var (
	migrateStatus bool

	renderTemplate string
	renderVars     string
	renderOutput   string

	generateInput  string
	generateSheet  string
	generateBundle bool
	generateOutput string

	exportOut    string
	exportFormat string

	importIn      string
	importReplace bool
)

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "print the migration status instead of migrating")

	renderCmd.Flags().StringVarP(&renderTemplate, "template", "t", "", "template file (required)")
	renderCmd.Flags().StringVarP(&renderVars, "vars", "v", "", "variables file as JSON, YAML or key=value lines")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "-", "output file")
	_ = renderCmd.MarkFlagRequired("template")

	generateCmd.Flags().StringVarP(&generateInput, "input", "i", "", "rows as .xlsx, .json or .yaml (required)")
	generateCmd.Flags().StringVar(&generateSheet, "sheet", "", "sheet of an .xlsx input (default first sheet)")
	generateCmd.Flags().BoolVar(&generateBundle, "bundle", false, "write the successful configs as one text document")
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "-", "output file")
	_ = generateCmd.MarkFlagRequired("input")

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "-", "output file, format taken from the extension")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "json or yaml, overrides the extension")

	importCmd.Flags().StringVarP(&importIn, "in", "i", "", "backup file (required)")
	importCmd.Flags().BoolVar(&importReplace, "replace", false, "delete all templates and catalog entries first")
	_ = importCmd.MarkFlagRequired("in")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrations(cmd.Context(), cmd.OutOrStdout())
	},
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a template file against a variables file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRender(cmd.Context())
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate configurations from a batch of rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGenerate(cmd.Context())
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export templates and catalogs to a backup file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd.Context())
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import templates and catalogs from a backup file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd.Context(), cmd.OutOrStdout())
	},
}

func runMigrations(ctx context.Context, out io.Writer) error {
	if !migrateStatus {
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		a.close()
		return nil
	}

	a, err := open()
	if err != nil {
		return err
	}
	defer a.close()

	status, err := db.NewMigrationRunner(a.conn.DB(), a.logger, db.SchemaMigrations()...).Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
	for _, s := range status {
		applied := "pending"
		if s.AppliedAt != nil {
			applied = s.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Version, s.Name, applied)
	}
	return w.Flush()
}

// runRender needs no database
func runRender(ctx context.Context) error {
	a, err := loadConfig()
	if err != nil {
		return err
	}
	defer a.close()

	source, err := os.ReadFile(renderTemplate)
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}

	vars := map[string]any{}
	if renderVars != "" {
		data, err := os.ReadFile(renderVars)
		if err != nil {
			return fmt.Errorf("failed to read variables: %w", err)
		}
		if vars, err = variables.Parse(string(data)); err != nil {
			return err
		}
	}

	output, err := a.engine().Render(ctx, string(source), vars)
	if err != nil {
		return fmt.Errorf("%s: %s", render.Kind(err), render.Message(err))
	}
	return writeOutput(renderOutput, func(w io.Writer) error {
		_, err := io.WriteString(w, output)
		return err
	})
}

func runGenerate(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	rows, err := readRowsFile(generateInput, generateSheet)
	if err != nil {
		return err
	}

	generator := batch.NewGenerator(a.templates(), a.engine(), nil, a.cfg.Batch, a.logger)
	result, err := generator.Generate(ctx, rows)
	if err != nil {
		return err
	}

	for _, o := range result.Results {
		if !o.Success {
			a.logger.Warn("row failed",
				zap.Int("row", o.RowIndex),
				zap.String("template", o.TemplateName),
				zap.String("error", o.Error))
		}
	}

	if !generateBundle {
		return writeOutput(generateOutput, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		})
	}

	text, err := batch.Bundle(result.Results)
	if err != nil {
		return err
	}
	if text == "" {
		return fmt.Errorf("no configuration was generated: %d failed, %d skipped", result.FailedCount, result.SkippedCount)
	}
	return writeOutput(generateOutput, func(w io.Writer) error {
		_, err := io.WriteString(w, text)
		return err
	})
}

// readRowsFile reads rows from a workbook or from a JSON or YAML list of
// objects.
func readRowsFile(path, sheet string) ([]batch.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []batch.Row
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ingest.ReadSheet(f, sheet)
	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(&rows)
	default:
		err = json.NewDecoder(f).Decode(&rows)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode rows from %s: %w", path, err)
	}
	return rows, nil
}

func runExport(ctx context.Context) error {
	format := backup.FormatFromPath(exportOut)
	if exportFormat != "" {
		var err error
		if format, err = backup.ParseFormat(exportFormat); err != nil {
			return err
		}
	}

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	snap, err := backup.NewService(a.conn.DB(), a.logger).Export(ctx)
	if err != nil {
		return err
	}
	return writeOutput(exportOut, func(w io.Writer) error {
		return backup.Encode(w, snap, format)
	})
}

func runImport(ctx context.Context, out io.Writer) error {
	f, err := os.Open(importIn)
	if err != nil {
		return err
	}
	defer f.Close()

	snap, err := backup.Decode(f, backup.FormatFromPath(importIn))
	if err != nil {
		return err
	}

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := backup.NewService(a.conn.DB(), a.logger).Import(ctx, snap, backup.Options{Replace: importReplace})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d templates, %d versions, %d fields, %d catalog entries\n",
		stats.Templates, stats.Versions, stats.Fields, stats.CatalogAdded)
	return nil
}

// writeOutput writes to stdout for "-" and to the named file otherwise
func writeOutput(path string, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
