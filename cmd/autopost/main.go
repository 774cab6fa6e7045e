package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"autopost/internal/app"
	"autopost/internal/importer"
)

func main() {
	var (
		cfgPath    string
		envPath    string
		importPath string
		spread     time.Duration
		start      string
		importOnly bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.StringVar(&envPath, "env", ".env", "optional dotenv file")
	flag.StringVar(&importPath, "import", "", "CSV of posts to import at startup")
	flag.DurationVar(&spread, "spread", 0, "schedule imported rows this far apart (0 keeps them as drafts)")
	flag.StringVar(&start, "start", "", "first import slot, e.g. \"2026-05-04 09:00\" (default now+spread)")
	flag.BoolVar(&importOnly, "import-only", false, "exit after the import instead of running the dispatcher")
	flag.Parse()

	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "fatal: env:", err)
		os.Exit(1)
	}

	opt := importer.Options{Spread: spread}
	if start != "" {
		t, err := importer.ParseTime(start)
		if err != nil {
			fmt.Fprintln(os.Stderr, "fatal: -start:", err)
			os.Exit(2)
		}
		opt.Start = t
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if importOnly {
		if importPath == "" {
			fmt.Fprintln(os.Stderr, "fatal: -import-only needs -import")
			os.Exit(2)
		}
		res, err := a.ImportOnly(ctx, importPath, opt)
		if err != nil {
			fmt.Fprintln(os.Stderr, "import:", err)
			os.Exit(1)
		}
		printImport(importPath, res)
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	if importPath != "" {
		res, err := a.Import(ctx, importPath, opt)
		if err != nil {
			fmt.Fprintln(os.Stderr, "import:", err)
		} else {
			printImport(importPath, res)
		}
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Minute)
	defer stopCancel()
	if err := a.Stop(stopCtx, app.StopSignal); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
		os.Exit(1)
	}
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "exited with error:", err)
		os.Exit(1)
	}
}

func printImport(path string, res importer.Result) {
	fmt.Printf("imported %s: created=%d scheduled=%d skipped=%d failed=%d\n",
		path, res.Created, res.Scheduled, res.Skipped, len(res.Failed))
	for _, f := range res.Failed {
		fmt.Printf("  line %d: %v\n", f.Line, f.Err)
	}
}
