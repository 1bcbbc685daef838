package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erazemk/zaloga/internal/api"
	"github.com/erazemk/zaloga/internal/auth"
	"github.com/erazemk/zaloga/internal/clock"
	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/fulfillment"
	"github.com/erazemk/zaloga/internal/inventory"
	"github.com/erazemk/zaloga/internal/metrics"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/serial"
	"github.com/erazemk/zaloga/internal/store"
)

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// setupLogger installs the default logger. With a log path every level is
// also appended to that file; the returned func closes it.
func setupLogger(logPath string) (func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var cleanup func()
	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	slog.SetDefault(slog.New(&levelRouter{
		stdout: slog.NewTextHandler(stdoutW, opts),
		stderr: slog.NewTextHandler(stderrW, opts),
	}))
	return cleanup, nil
}

type options struct {
	dbPath            string
	addr              string
	adminUser         string
	logPath           string
	lockTimeout       time.Duration
	stockInAnywhere   bool
	allowOverApproval bool
	mixedApproval     bool
	fulfillWorkers    int
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("zaloga", flag.ContinueOnError)

	var o options
	fs.StringVar(&o.dbPath, "db", "zaloga.sqlite3", "")
	fs.StringVar(&o.dbPath, "d", "zaloga.sqlite3", "")
	fs.StringVar(&o.addr, "addr", ":8080", "")
	fs.StringVar(&o.addr, "a", ":8080", "")
	fs.StringVar(&o.adminUser, "user", "Admin", "")
	fs.StringVar(&o.adminUser, "u", "Admin", "")
	fs.StringVar(&o.logPath, "log", "", "")
	fs.StringVar(&o.logPath, "l", "", "")
	fs.DurationVar(&o.lockTimeout, "lock-timeout", inventory.DefaultLockTimeout, "")
	fs.BoolVar(&o.stockInAnywhere, "stock-in-anywhere", false, "")
	fs.BoolVar(&o.allowOverApproval, "allow-over-approval", false, "")
	fs.BoolVar(&o.mixedApproval, "mixed-approval", false, "")
	fs.IntVar(&o.fulfillWorkers, "fulfill-concurrency", fulfillment.DefaultFulfillConcurrency, "")

	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: zaloga [flags]

Flags:
  -d, -db <path>             SQLite database path (default: zaloga.sqlite3)
  -a, -addr <host:port>      listen address (default: :8080)
  -u, -user <name>           admin username on first run (default: Admin)
  -l, -log <path>            log file path (default: no file, stdout/stderr only)
  -lock-timeout <duration>   how long a movement waits for contended stock (default: 2s)
  -stock-in-anywhere         accept receipts at facilities, not only at stores
  -allow-over-approval       allow approving more than was requested
  -mixed-approval            derive request status from approved lines only
  -fulfill-concurrency <n>   request lines delivered at once by fulfill-all (default: 4)
  -h, -help                  show this help and exit
`)
	}

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return o, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if o.lockTimeout <= 0 {
		return o, fmt.Errorf("lock timeout must be positive, got %s", o.lockTimeout)
	}
	if o.fulfillWorkers <= 0 {
		return o, fmt.Errorf("fulfill concurrency must be positive, got %d", o.fulfillWorkers)
	}
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err == flag.ErrHelp {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	closeLog, err := setupLogger(o.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if closeLog != nil {
		defer closeLog()
	}

	if err := run(o); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(o options) error {
	// First run: create the database and print the admin credentials once.
	if _, err := os.Stat(o.dbPath); os.IsNotExist(err) {
		database, password, err := initDatabase(o.dbPath, o.adminUser)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		database.Close()

		printInitResult(o.dbPath, o.adminUser, password)
		fmt.Println()
	}

	database, err := db.Open(o.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	slog.Info("database ready", "path", o.dbPath)

	jwtSecret, err := store.GetJWTSecret(context.Background(), database)
	if err != nil {
		return fmt.Errorf("loading JWT secret: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	clk := clock.System{}
	inv := inventory.New(database, inventory.Config{
		LockTimeout:     o.lockTimeout,
		StockInAnywhere: o.stockInAnywhere,
	}, clk, m)
	requests := fulfillment.NewService(database, inv.Coordinator, inv.Directory, clk, m, fulfillment.Config{
		AllowOverApproval:  o.allowOverApproval,
		MixedApproval:      o.mixedApproval,
		FulfillConcurrency: o.fulfillWorkers,
	})
	serials := serial.NewTracker(database, inv.Directory, clk, m, o.lockTimeout)

	router := api.NewRouter(api.Deps{
		DB:        database,
		Issuer:    auth.NewIssuer(jwtSecret, auth.DefaultTTL, clk),
		Clock:     clk,
		Inventory: inv,
		Requests:  requests,
		Serials:   serials,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:              o.addr,
		Handler:           api.LoggingMiddleware(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", o.addr, "lock_timeout", o.lockTimeout,
		"stock_in_anywhere", o.stockInAnywhere, "allow_over_approval", o.allowOverApproval,
		"mixed_approval", o.mixedApproval)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}

	slog.Info("server stopped, closing database")
	return nil
}

// initDatabase creates a new database with the schema and an admin user.
func initDatabase(path, adminUsername string) (*sql.DB, string, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, "", err
	}

	fail := func(err error) (*sql.DB, string, error) {
		database.Close()
		os.Remove(path)
		return nil, "", err
	}

	if err := db.Migrate(database); err != nil {
		return fail(fmt.Errorf("migrating schema: %w", err))
	}

	password, err := generatePassword(16)
	if err != nil {
		return fail(fmt.Errorf("generating password: %w", err))
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fail(err)
	}

	if _, err := store.CreateUser(context.Background(), database, adminUsername, hash, model.RoleAdmin); err != nil {
		return fail(fmt.Errorf("creating admin user: %w", err))
	}

	return database, password, nil
}

func printInitResult(dbPath, username, password string) {
	fmt.Printf("Database created: %s\n", dbPath)
	fmt.Println()
	fmt.Println("Admin account created:")
	fmt.Printf("  Username: %s\n", username)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("The admin can change it after logging in.")
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
