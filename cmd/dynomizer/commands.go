package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/kjschiroo/dynomizer/migrate"
	"github.com/kjschiroo/dynomizer/schema"
	"github.com/kjschiroo/dynomizer/state"
)

func runMigrate() error {
	cfg := LoadConfig()
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)

	var (
		table  = fs.String("table", "", "table to migrate (required)")
		to     = fs.Int64("to", 0, "target model version (required)")
		models = fs.String("models", cfg.Models, "glob pattern for model YAML files")
	)
	addStateFlags(fs, &cfg)

	fs.Usage = func() {
		fmt.Println(`dynomizer migrate - Apply model versions to a live table

Usage:
  dynomizer migrate --table <name> --to <version> [flags]

Flags:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *table == "" || *to == 0 {
		fs.Usage()
		return fmt.Errorf("--table and --to are required")
	}
	if *models == "" {
		return fmt.Errorf("no model files configured; pass --models or set models in dynomizer.yaml")
	}

	ctx := context.Background()
	admin, tracker, cleanup, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	m := migrate.NewMigrator(schema.DirSource{Pattern: *models}, admin, tracker, migrate.WithLogger(logger))

	rec, err := m.Migrate(ctx, *table, *to)
	if err != nil {
		return err
	}
	fmt.Printf("table %s is at version %d (%s)\n", *table, rec.Version, rec.Status)
	return nil
}

func runStatus() error {
	cfg := LoadConfig()
	fs := flag.NewFlagSet("status", flag.ExitOnError)

	table := fs.String("table", "", "table to inspect (required)")
	addStateFlags(fs, &cfg)

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *table == "" {
		return fmt.Errorf("--table is required")
	}

	ctx := context.Background()
	_, tracker, cleanup, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	rec, ok, err := tracker.Status(ctx, *table)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("table %s has never been migrated\n", *table)
		return nil
	}
	fmt.Printf("table %s: version %d, status %s, updated %s\n", rec.Table, rec.Version, rec.Status, rec.Updated.Format("2006-01-02 15:04:05"))
	if rec.LastError != "" {
		fmt.Printf("last error: %s\n", rec.LastError)
	}
	return nil
}

func runReset() error {
	cfg := LoadConfig()
	fs := flag.NewFlagSet("reset", flag.ExitOnError)

	table := fs.String("table", "", "table whose state record to drop (required)")
	addStateFlags(fs, &cfg)

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *table == "" {
		return fmt.Errorf("--table is required")
	}

	ctx := context.Background()
	_, tracker, cleanup, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := tracker.Reset(ctx, *table); err != nil {
		return err
	}
	fmt.Printf("migration state for table %s dropped\n", *table)
	return nil
}

func addStateFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.StateTable, "state-table", defaultString(cfg.StateTable, "dynomizer-state"), "DynamoDB table holding migration state")
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "local state directory (BadgerDB) instead of a state table")
	fs.StringVar(&cfg.Region, "region", cfg.Region, "AWS region override")
}

// wire builds the SDK client and state tracker from config. cleanup
// closes the local state store when one is used.
func wire(ctx context.Context, cfg Config) (*dynamodb.Client, *state.Tracker, func(), error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg)

	if cfg.StateDir != "" {
		store, err := state.NewBadgerStore(state.BadgerStoreOptions{Path: cfg.StateDir})
		if err != nil {
			return nil, nil, nil, err
		}
		return client, state.NewTracker(store), func() { store.Close() }, nil
	}
	store := state.NewDynamoStore(client, cfg.StateTable)
	return client, state.NewTracker(store), func() {}, nil
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
