package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

const migrateUsage = `Database Migration Commands

Usage:
  agentfleet migrate <subcommand> [options] [argument]

` + migration.Usage + `

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  agentfleet migrate up
  agentfleet migrate up --config /etc/agentfleet/config.yaml
  agentfleet migrate status --db-type sqlite --db-url sqlite:///var/lib/agentfleet/stats.db
  agentfleet migrate goto 1
  agentfleet migrate steps -- -1
  agentfleet migrate force 0`

// runMigrate 解析 migrate 子命令与参数并执行，输出写到 out
func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		fmt.Fprintln(out, migrateUsage)
		return fmt.Errorf("missing subcommand")
	}
	subcommand := args[0]
	if subcommand == "help" || subcommand == "-h" || subcommand == "--help" {
		fmt.Fprintln(out, migrateUsage)
		return nil
	}

	fs := flag.NewFlagSet("migrate "+subcommand, flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	migrator, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(out)
	if err := cli.Run(ctx, subcommand, fs.Args()); err != nil {
		return err
	}
	return nil
}

// createMigrator 优先使用命令行给出的数据库，否则读取配置文件
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, zap.NewNop())
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}

	return migration.NewMigratorFromDatabaseConfig(cfg.Database, initLogger(cfg.Log))
}
