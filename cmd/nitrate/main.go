// nitrate is a small command line client for a Nitrate test case
// management server.
//
// Usage:
//
//	nitrate [-config ~/.nitrate] [-cache 2] show TP#12 TC#3
//	nitrate -local nitrate.db -fixtures seed.yaml search cases summary__icontains=boot
//	nitrate -record session.cassette status CR#7 PASSED
//	nitrate -replay session.cassette show CR#7
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/CaliLuke/go-nitrate/config"
	"github.com/CaliLuke/go-nitrate/localstore"
	"github.com/CaliLuke/go-nitrate/nitrate"
	"github.com/CaliLuke/go-nitrate/remote"
	"github.com/CaliLuke/go-nitrate/tcms"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

const version = "0.1.0"

type options struct {
	configPath string
	local      string
	fixtures   string
	record     string
	replay     string
	cache      string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to the config file (default: ~/.nitrate)")
	flag.StringVar(&opts.local, "local", "", "Use a local SQLite store instead of the server (\":memory:\" for a scratch store)")
	flag.StringVar(&opts.fixtures, "fixtures", "", "YAML fixtures loaded into the local store")
	flag.StringVar(&opts.record, "record", "", "Record server calls into a cassette file")
	flag.StringVar(&opts.replay, "replay", "", "Answer calls from a recorded cassette file")
	flag.StringVar(&opts.cache, "cache", "", "Cache level: 0 none, 1 changes, 2 objects, 3 all (default: $CACHE or 2)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		fmt.Fprintln(flag.CommandLine.Output(), "\nflags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("nitrate %s\n", version)
		os.Exit(0)
	}

	if err := run(context.Background(), opts, flag.Args(), os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
			flag.Usage()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, args []string, out io.Writer) error {
	settings, err := config.FromEnv(ctx)
	if err != nil {
		return err
	}
	if opts.cache != "" {
		if settings.Cache, err = nitrate.ParseCacheLevel(opts.cache); err != nil {
			return err
		}
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: settings.LogLevel}))
	ctx = logging.NewContextWithLogger(ctx, log)

	caller, closeBackend, err := backend(ctx, opts)
	if err != nil {
		return err
	}
	defer closeBackend()

	var recorder *remote.Recorder
	if opts.record != "" {
		recorder = remote.NewRecorder(caller)
		caller = recorder
	}

	client := tcms.New(caller, nitrate.WithLogger(log), nitrate.WithCacheLevel(settings.Cache))
	a := &app{c: client, out: out, paint: tcms.NewPainter(settings.Color, os.Stdout)}
	err = a.run(ctx, args)
	log.Info(client.String())

	if recorder != nil {
		if saveErr := recorder.Save(opts.record); saveErr != nil {
			return errors.Join(err, saveErr)
		}
		log.Info("cassette saved", "path", opts.record, "calls", len(recorder.Entries()))
	}
	return err
}

// backend picks the caller the session talks to: a cassette, a local store
// or the configured server.
func backend(ctx context.Context, opts options) (remote.Caller, func(), error) {
	log := logging.GetFromContext(ctx)
	switch {
	case opts.replay != "":
		r, err := remote.LoadReplayer(opts.replay)
		if err != nil {
			return nil, nil, err
		}
		log.Debug("replaying", "path", opts.replay)
		return r, func() {}, nil

	case opts.local != "":
		store, err := localstore.Open(ctx, opts.local, localstore.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		if opts.fixtures != "" {
			if err := store.LoadFixtureFile(ctx, opts.fixtures); err != nil {
				_ = store.Close()
				return nil, nil, err
			}
		}
		log.Debug("using local store", "path", opts.local)
		return store, func() { _ = store.Close() }, nil
	}

	path := opts.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w\nplease provide at least a minimal config file %s:\n%s", err, path, config.Example)
	}
	url, err := cfg.URL()
	if err != nil {
		return nil, nil, fmt.Errorf("%w\n%s", err, config.Example)
	}
	x, err := remote.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	log.Debug("connected", "url", x.URL())
	return remote.Traced(x), func() { _ = x.Close() }, nil
}
