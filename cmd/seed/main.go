// Command seed loads reference tables and knowledge documents into the
// assistant's SQLite database.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rc-assistant/backend/internal/ingestion"
	"github.com/rc-assistant/backend/internal/storage/sqlite"
	"github.com/rc-assistant/backend/pkg/config"
	appLogger "github.com/rc-assistant/backend/pkg/logger"
)

var (
	dbPath string
	meta   ingestion.DocumentMeta
)

var rootCmd = &cobra.Command{
	Use:           "seed",
	Short:         "Load reference data and knowledge documents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
			return err
		}
		if dbPath == "" {
			dbPath = cfg.SQLite.Path
		}
		return nil
	},
}

var journalsCmd = &cobra.Command{
	Use:   "journals [file.csv...]",
	Short: "Import journal impact metrics",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProcessor(cmd.Context(), func(ctx context.Context, p *ingestion.Processor) error {
			return eachFile(args, func(f *os.File) (int, error) { return p.ImportJournals(ctx, f) })
		})
	},
}

var institutionsCmd = &cobra.Command{
	Use:   "institutions [file.csv...]",
	Short: "Import institution rankings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProcessor(cmd.Context(), func(ctx context.Context, p *ingestion.Processor) error {
			return eachFile(args, func(f *os.File) (int, error) { return p.ImportInstitutions(ctx, f) })
		})
	},
}

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge [file.html...]",
	Short: "Import knowledge documents, one entry per h2 section",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProcessor(cmd.Context(), func(ctx context.Context, p *ingestion.Processor) error {
			return eachFile(args, func(f *os.File) (int, error) {
				content, err := io.ReadAll(f)
				if err != nil {
					return 0, err
				}
				return p.ProcessDocument(ctx, string(content), meta)
			})
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (defaults to sqlite.path from config)")

	knowledgeCmd.Flags().StringVar(&meta.Department, "department", "", "owning department")
	knowledgeCmd.Flags().StringVar(&meta.Category, "category", "", "entry category")
	knowledgeCmd.Flags().StringVar(&meta.Priority, "priority", "standard", "critical, high or standard")
	knowledgeCmd.Flags().StringSliceVar(&meta.AccessLevels, "access", []string{"public"}, "access levels allowed to read the entries")
	knowledgeCmd.Flags().StringSliceVar(&meta.Tags, "tags", nil, "tags applied to every section")

	rootCmd.AddCommand(journalsCmd, institutionsCmd, knowledgeCmd)
}

func withProcessor(ctx context.Context, fn func(context.Context, *ingestion.Processor) error) error {
	db, err := sqlite.NewClient(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		return err
	}

	return fn(ctx, ingestion.NewProcessor(db))
}

func eachFile(patterns []string, fn func(*os.File) (int, error)) error {
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("no files match %s", pattern)
		}

		for _, path := range matches {
			if err := importFile(path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func importFile(path string, fn func(*os.File) (int, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	n, err := fn(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	appLogger.Info("Imported file", zap.String("path", path), zap.Int("records", n))
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %s\n", strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
