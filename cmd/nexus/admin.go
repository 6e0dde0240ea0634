package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/term"

	"github.com/nexus-tt/nexus/internal/adapter/postgres"
	"github.com/nexus-tt/nexus/internal/config"
	"github.com/nexus-tt/nexus/internal/service"
)

// runMigrate applies, rolls back or reports schema migrations.
func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to YAML config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	cmd := "up"
	if len(rest) > 0 {
		cmd = rest[0]
	}
	switch cmd {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Migrations applied")
	case "down":
		steps := 1
		if len(rest) > 1 {
			steps, err = strconv.Atoi(rest[1])
			if err != nil || steps < 1 {
				return fmt.Errorf("invalid step count: %q", rest[1])
			}
		}
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, steps); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", steps)
	case "version":
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Println(v)
	default:
		return fmt.Errorf("unknown migrate command: %s (want up, down [n] or version)", cmd)
	}
	return nil
}

// runAdmin dispatches admin subcommands (hash-key, purge-conversations).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-key":
		return runAdminHashKey(args[1:])
	case "purge-conversations":
		return runAdminPurgeConversations(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: nexus admin <command> [options]

Commands:
  hash-key              Hash an admin key for guard.admin_key_hash
  purge-conversations   Delete every conversation of a user
  help                  Show this help message

Examples:
  nexus admin hash-key
  nexus admin purge-conversations --user u-123
`)
}

func runAdminHashKey(args []string) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := promptPassword("Admin key: ")
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	confirm, err := promptPassword("Confirm admin key: ")
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	if key != confirm {
		return fmt.Errorf("keys do not match")
	}
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}

	hash, err := service.HashAdminKey(key)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Println(hash)
	fmt.Fprintln(os.Stderr, "Set NEXUS_ADMIN_KEY_HASH or guard.admin_key_hash to the value above.")
	return nil
}

func runAdminPurgeConversations(args []string) error {
	fs := flag.NewFlagSet("purge-conversations", flag.ContinueOnError)
	userID := fs.String("user", "", "user id whose conversations are deleted (required)")
	configPath := fs.String("config", config.DefaultConfigFile, "path to YAML config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("--user is required")
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	svc := service.NewConversationService(postgres.NewStore(pool))
	n, err := svc.PurgeUser(ctx, *userID)
	if err != nil {
		return fmt.Errorf("purge conversations: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Deleted %d conversation(s) for %s\n", n, *userID)
	return nil
}

// promptPassword reads a secret from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
