// Package main provides the one-shot maintenance CLI for the local sync store.
//
//	core [-data-dir DIR] <command>
//
// Commands: pending, stats, versions, drain, retry-abandoned, clear-cache, quarantine, version.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/config"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/db"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/logging"
	syncpkg "github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/transport"
)

// Version is set at build time
var Version = "0.1.0"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type command struct {
	summary string
	online  bool // needs the remote API configuration
	run     func(ctx context.Context, c *syncpkg.Client, out io.Writer) error
}

var commands = map[string]command{
	"pending":         {summary: "print the persisted sync queue", run: cmdPending},
	"stats":           {summary: "print queue counts by status", run: cmdStats},
	"versions":        {summary: "print tracked entity versions", run: cmdVersions},
	"drain":           {summary: "deliver queued operations once", online: true, run: cmdDrain},
	"retry-abandoned": {summary: "reset abandoned operations to pending", run: cmdRetryAbandoned},
	"clear-cache":     {summary: "remove every cached item", run: cmdClearCache},
	"quarantine":      {summary: "move an unreadable sync queue aside", run: cmdQuarantine},
}

func main() {
	logging.Init(os.Stderr, logging.ParseLevel(os.Getenv("LOG_LEVEL")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("core", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data-dir", envOrDefault("DATA_DIR", "./data"), "directory holding the sync database")
	fs.Usage = func() { usage(fs, stderr) }
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		usage(fs, stderr)
		return exitUsage
	}

	name := fs.Arg(0)
	if name == "version" {
		fmt.Fprintf(stdout, "CareUnity Sync Core v%s\n", Version)
		return exitOK
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		usage(fs, stderr)
		return exitUsage
	}

	opts := syncpkg.Options{}
	if cmd.online {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitError
		}
		opts.Transport = transport.NewHTTPTransport(transport.Options{
			BaseURL:        cfg.APIBaseURL,
			Token:          cfg.APIToken,
			RequestTimeout: cfg.RequestTimeout,
			RateLimit:      cfg.RateLimitRPS,
			Burst:          cfg.RateLimitBurst,
		})
		opts.Queue = cfg.QueueConfig()
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	store, err := db.Open(*dataDir)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer store.Close()

	client := syncpkg.NewClient(db.NewKVStore(store), opts)
	if err := cmd.run(ctx, client, stdout); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	return exitOK
}

func usage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "usage: core [-data-dir DIR] <command>")
	fmt.Fprintln(w, "\ncommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-16s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(w, "  %-16s %s\n", "version", "print the CLI version")
	fmt.Fprintln(w, "\nflags:")
	fs.PrintDefaults()
}

func cmdPending(ctx context.Context, c *syncpkg.Client, out io.Writer) error {
	ops, err := c.Queue().ListPending(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, ops)
}

func cmdStats(ctx context.Context, c *syncpkg.Client, out io.Writer) error {
	stats, err := c.Queue().GetStats(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, stats)
}

func cmdVersions(ctx context.Context, c *syncpkg.Client, out io.Writer) error {
	versions, err := c.Ledger().List(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, versions)
}

func cmdDrain(ctx context.Context, c *syncpkg.Client, out io.Writer) error {
	result, err := c.Sync(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, result)
}

func cmdRetryAbandoned(ctx context.Context, c *syncpkg.Client, out io.Writer) error {
	n, err := c.Queue().RetryAbandoned(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "reset %d abandoned operation(s)\n", n)
	return err
}

func cmdClearCache(ctx context.Context, c *syncpkg.Client, out io.Writer) error {
	if err := c.ClearCache(ctx); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, "cache cleared")
	return err
}

func cmdQuarantine(ctx context.Context, c *syncpkg.Client, out io.Writer) error {
	moved, err := c.Queue().Quarantine(ctx)
	if err != nil {
		return err
	}
	if moved == "" {
		_, err = fmt.Fprintln(out, "sync queue is readable, nothing to do")
		return err
	}
	_, err = fmt.Fprintf(out, "moved unreadable sync queue to %s\n", moved)
	return err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
