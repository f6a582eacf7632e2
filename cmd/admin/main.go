package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"classroom/internal/app"
	"classroom/internal/config"
	"classroom/internal/identity"
	"classroom/internal/logging"
	"classroom/internal/store"
)

const envPrefix = "CLASSROOM"

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cli := &commandLine{cfg: cfg, log: logger, out: os.Stdout}
	if err := cli.run(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type commandLine struct {
	cfg config.App
	log *zap.Logger
	out io.Writer
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	rootFlags := flag.NewFlagSet("classroom-admin", flag.ContinueOnError)
	rootFlags.StringVar(&cli.cfg.StoreBackend, "store", cli.cfg.StoreBackend, "storage backend: postgres or memory")
	rootFlags.StringVar(&cli.cfg.DatabaseURL, "database-url", cli.cfg.DatabaseURL, "postgres connection string")

	migrateCmd := &ffcli.Command{
		Name:       "migrate",
		ShortUsage: "classroom-admin migrate",
		ShortHelp:  "create or update the database schema",
		Exec: func(ctx context.Context, _ []string) error {
			return cli.migrate(ctx)
		},
	}

	adminFlags := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	email := adminFlags.String("email", "", "admin email address")
	password := adminFlags.String("password", "", "admin password, at least 6 characters")
	name := adminFlags.String("name", "Administrator", "display name")
	createAdminCmd := &ffcli.Command{
		Name:       "create-admin",
		ShortUsage: "classroom-admin create-admin -email EMAIL -password PASSWORD [-name NAME]",
		ShortHelp:  "create an admin account",
		FlagSet:    adminFlags,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envPrefix + "_ADMIN")},
		Exec: func(ctx context.Context, _ []string) error {
			if *email == "" || *password == "" {
				return errors.Wrap(flag.ErrHelp, "email and password are required")
			}
			return cli.createAdmin(ctx, *email, *password, *name)
		},
	}

	root := &ffcli.Command{
		ShortUsage:  "classroom-admin [flags] <subcommand>",
		FlagSet:     rootFlags,
		Options:     []ff.Option{ff.WithEnvVarPrefix(envPrefix)},
		Subcommands: []*ffcli.Command{migrateCmd, createAdminCmd},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}
	root.FlagSet.SetOutput(cli.out)
	adminFlags.SetOutput(cli.out)
	return root.ParseAndRun(ctx, args)
}

func (cli *commandLine) migrate(ctx context.Context) error {
	if cli.cfg.StoreBackend != "postgres" {
		return errors.Errorf("migrate needs the postgres store, got %q", cli.cfg.StoreBackend)
	}
	db, err := store.NewDB(ctx, cli.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(ctx, db.Client); err != nil {
		return err
	}
	fmt.Fprintln(cli.out, "schema up to date")
	return nil
}

func (cli *commandLine) createAdmin(ctx context.Context, email, password, name string) error {
	cfg := cli.cfg
	cfg.QueueBackend = "memory"
	c, err := app.New(ctx, cfg, cli.log)
	if err != nil {
		return err
	}
	defer c.Close()

	u, err := c.Identity.CreateUser(ctx, identity.NewUser{
		Email:    email,
		Password: password,
		Name:     name,
		Role:     identity.RoleAdmin,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created admin %s (%s)\n", u.Email, u.ID)
	return nil
}
