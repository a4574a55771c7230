// Command neofeed fetches one NeoWs feed window and writes the raw response
// body to stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/samvad-hq/neows-harvester/internal/app"
	"github.com/samvad-hq/neows-harvester/internal/config"
	"github.com/samvad-hq/neows-harvester/internal/logger"
	"github.com/samvad-hq/neows-harvester/pkg/neows"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "neofeed: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	startDate string
	endDate   string
}

// parseFlags runs before configuration is loaded so --help works without
// credentials. Dates left unset are filled in by withDefaults.
func parseFlags(args []string) (options, error) {
	fs := pflag.NewFlagSet("neofeed", pflag.ContinueOnError)
	var opts options
	fs.StringVarP(&opts.startDate, "start-date", "s", "", "first day of the feed window (YYYY-MM-DD, default: configured window ending today)")
	fs.StringVarP(&opts.endDate, "end-date", "e", "", "last day of the feed window (YYYY-MM-DD, default: today)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func (o options) withDefaults(windowDays int, now time.Time) options {
	def := neows.WindowEndingAt(now, windowDays)
	if o.startDate == "" {
		o.startDate = def.StartDate
	}
	if o.endDate == "" {
		o.endDate = def.EndDate
	}
	return o
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	opts = opts.withDefaults(cfg.HarvestWindowDays, time.Now())

	if _, err := logger.Init(cfg); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	feed, err := app.NewFeedClient(cfg)
	if err != nil {
		return fmt.Errorf("init feed client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.DebugObj("fetching feed", "feed_request", neows.DateRange{StartDate: opts.startDate, EndDate: opts.endDate})

	resp, err := feed.FetchFeed(ctx, opts.startDate, opts.endDate)
	if err != nil {
		return err
	}
	if _, err := stdout.Write(resp.Body()); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		logger.WarnObj("feed returned error status", "feed_response", map[string]any{
			"start_date":  opts.startDate,
			"end_date":    opts.endDate,
			"status_code": code,
		})
		return fmt.Errorf("feed returned status %d", code)
	}
	return nil
}
