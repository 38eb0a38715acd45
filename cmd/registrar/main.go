// Command registrar runs maintenance tasks against the registrar database:
// schema migrations, status reconciliation and clearance lookups.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	registrar "github.com/goliatone/go-registrar"
	"github.com/goliatone/go-registrar/activitymap"
	"github.com/goliatone/go-registrar/config"
	"github.com/goliatone/go-registrar/logging"
	"github.com/goliatone/go-registrar/ratelimit"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const usage = `usage: registrar [flags] <command>

commands:
  migrate            apply pending schema migrations
  migrate-down       roll back every applied migration
  migrate-status     list applied and pending migrations
  reconcile          repair account statuses (see --dry-run)
  clearance-status   print the clearance summary of --account
  password-reset     send a reset link to --email

flags:
`

type options struct {
	configPath string
	dsn        string
	redisAddr  string
	logLevel   string
	pretty     bool
	dryRun     bool
	account    string
	email      string
}

func main() {
	opts := options{}
	flags := pflag.NewFlagSet("registrar", pflag.ContinueOnError)
	flags.StringVarP(&opts.configPath, "config", "c", "registrar.yaml", "path to the YAML config file")
	flags.StringVar(&opts.dsn, "dsn", "", "database DSN, overrides the config file")
	flags.StringVar(&opts.redisAddr, "redis", "", "redis address used for throttling")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flags.BoolVar(&opts.pretty, "pretty", false, "human readable logs")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "report reconcile actions without writing")
	flags.StringVar(&opts.account, "account", "", "account ID")
	flags.StringVar(&opts.email, "email", "", "account email")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags.Arg(0), opts); err != nil {
		fmt.Fprintln(os.Stderr, print.MaybePrettyJSON(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, opts options) error {
	settings, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.dsn != "" {
		settings.Database.DSN = opts.dsn
	}
	if opts.redisAddr != "" {
		settings.Redis.Addr = opts.redisAddr
	}
	if opts.logLevel != "" {
		settings.Logging.Level = opts.logLevel
	}

	logger := logging.New("registrar", logging.Options{
		Level:  settings.Logging.Level,
		Pretty: opts.pretty || settings.Logging.Pretty,
		Output: os.Stderr,
	})

	db, err := openDB(settings.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	switch command {
	case "migrate":
		if err := registrar.CreateSchema(ctx, db); err != nil {
			return err
		}
		logger.Info("schema created")
		return nil
	case "migrate-down":
		if err := registrar.DropSchema(ctx, db); err != nil {
			return err
		}
		logger.Info("schema dropped")
		return nil
	case "migrate-status":
		applied, pending, err := registrar.SchemaStatus(ctx, db)
		if err != nil {
			return err
		}
		fmt.Println(print.MaybePrettyJSON(map[string][]string{
			"applied": applied,
			"pending": pending,
		}))
		return nil
	}

	lifecycle := newLifecycle(db, settings, logger)
	defer lifecycle.Close()

	switch command {
	case "reconcile":
		report, err := lifecycle.Reconciler().Run(ctx, opts.dryRun)
		if err != nil {
			return err
		}
		fmt.Println(print.MaybePrettyJSON(report))
	case "clearance-status":
		accountID, err := uuid.Parse(opts.account)
		if err != nil {
			return fmt.Errorf("invalid --account %q: %w", opts.account, err)
		}
		summary, err := lifecycle.ClearanceSummary(ctx, accountID)
		if err != nil {
			return err
		}
		fmt.Println(print.MaybePrettyJSON(summary))
	case "password-reset":
		if opts.email == "" {
			return fmt.Errorf("--email is required")
		}
		return lifecycle.RequestPasswordReset(ctx, opts.email)
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	return nil
}

func openDB(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func newLifecycle(db *bun.DB, settings *config.Settings, logger *logging.Zerolog) *registrar.StudentLifecycle {
	events := logging.NewZerolog(logger.Zerolog().With().Str("stream", "activity").Logger())
	sink := activitymap.NewSink(func(_ context.Context, n activitymap.Normalized) error {
		events.Info("%s %s/%s by %s", n.Verb, n.ObjectType, n.ObjectID, n.ActorID)
		return nil
	})

	opts := []registrar.LifecycleOption{
		registrar.WithConfig(settings),
		registrar.WithLogger(logger),
		registrar.WithActivitySink(sink),
		registrar.WithNotifier(registrar.LogNotifier{Logger: logger}),
	}

	if settings.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:        settings.Redis.Addr,
			DialTimeout: 2 * time.Second,
		})
		opts = append(opts, registrar.WithThrottle(ratelimit.New(client, ratelimit.Config{
			MaxAttempts: settings.Redis.MaxAttempts,
			Window:      time.Duration(settings.Redis.Window),
		})))
	}

	return registrar.NewStudentLifecycle(registrar.NewRepositoryManager(db), opts...)
}
