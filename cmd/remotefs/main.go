// Package main is the entry point for the remotefs command.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joe/remotefs/internal/config"
	"github.com/joe/remotefs/internal/logging"
	"github.com/joe/remotefs/internal/metrics"
	"github.com/joe/remotefs/internal/output"
	pkgerrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/fileops"
	"github.com/joe/remotefs/pkg/filesystem"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := run(ctx, cfg, os.Stdout, os.Stderr)

	stop()
	os.Exit(code)
}

// app holds what every subcommand needs.
type app struct {
	cfg     *config.Config
	fs      *filesystem.Provider
	printer *output.Printer
	logger  *logrus.Logger
	stdout  io.Writer
}

func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) int {
	printer := output.NewPrinter(stdout, stderr, cfg.JSON)

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		printer.Error(err, "")

		return 1
	}

	opts, err := cfg.ConnectOptions()
	if err != nil {
		printer.Error(err, "")

		return 1
	}

	opts.Logger = logger

	collector, err := metrics.NewCollector()
	if err != nil {
		printer.Error(err, "")

		return 1
	}

	opts.PoolObserver = collector
	opts.CacheObserver = collector

	if cfg.MetricsAddr != "" {
		go func() {
			if err := collector.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.WithError(err).Warn("metrics endpoint stopped")
			}
		}()
	}

	provider, err := filesystem.Connect(ctx, opts)
	if err != nil {
		printer.Error(err, "")

		return 1
	}

	defer func() {
		if err := provider.Close(); err != nil {
			logger.WithError(err).Warn("closing sessions failed")
		}
	}()

	if err := collector.TrackPool(provider.PoolStats); err != nil {
		logger.WithError(err).Warn("pool gauges unavailable")
	}

	a := &app{cfg: cfg, fs: provider, printer: printer, logger: logger, stdout: stdout}

	affected, err := a.dispatch(ctx)
	if err != nil {
		printer.Error(err, affected)

		return 1
	}

	return 0
}

// dispatch runs the selected subcommand and returns the path an error
// refers to.
func (a *app) dispatch(ctx context.Context) (string, error) {
	cfg := a.cfg

	switch {
	case cfg.Ls != nil:
		return cfg.Ls.Path, a.ls(ctx, cfg.Ls)
	case cfg.Stat != nil:
		return cfg.Stat.Path, a.stat(ctx, cfg.Stat)
	case cfg.Mkdir != nil:
		return cfg.Mkdir.Path, a.mkdir(ctx, cfg.Mkdir)
	case cfg.Rm != nil:
		return cfg.Rm.Path, a.rm(ctx, cfg.Rm)
	case cfg.Mv != nil:
		return cfg.Mv.From, a.mv(ctx, cfg.Mv)
	case cfg.Get != nil:
		return cfg.Get.Remote, a.get(ctx, cfg.Get)
	case cfg.Put != nil:
		return cfg.Put.Remote, a.put(ctx, cfg.Put)
	case cfg.Cat != nil:
		return cfg.Cat.Path, a.cat(ctx, cfg.Cat)
	case cfg.Find != nil:
		return cfg.Find.Path, a.find(ctx, cfg.Find)
	case cfg.Pool != nil:
		return "", a.pool(a.fs)
	default:
		return "", config.ErrMissingSubcommand
	}
}

func (a *app) pool(info filesystem.PoolInfo) error {
	return a.printer.PoolStats(info.PoolStats(), info.Capabilities())
}

func (a *app) ls(ctx context.Context, cmd *config.LsCmd) error {
	infos, err := a.fs.List(ctx, cmd.Path)
	if err != nil {
		return err
	}

	return a.printer.Listing(infos, cmd.Long)
}

func (a *app) stat(ctx context.Context, cmd *config.StatCmd) error {
	info, err := a.fs.Stat(ctx, cmd.Path)
	if err != nil {
		return err
	}

	return a.printer.Info(info)
}

func (a *app) mkdir(ctx context.Context, cmd *config.MkdirCmd) error {
	var err error
	if cmd.Parents {
		err = a.fs.MkdirAll(ctx, cmd.Path)
	} else {
		err = a.fs.Mkdir(ctx, cmd.Path)
	}

	if err != nil {
		return err
	}

	return a.printer.Done("created " + a.fs.Resolve(cmd.Path))
}

func (a *app) rm(ctx context.Context, cmd *config.RmCmd) error {
	target := a.fs.Resolve(cmd.Path)

	if cmd.Recursive {
		if err := a.removeTree(ctx, target); err != nil {
			return err
		}

		return a.printer.Done("deleted " + target)
	}

	deleted, err := a.fs.Delete(ctx, target)
	if err != nil {
		return err
	}

	if !deleted {
		return fmt.Errorf("delete %s: %w", target, pkgerrors.ErrNotFound)
	}

	return a.printer.Done("deleted " + target)
}

// removeTree deletes children depth first, then target itself.
func (a *app) removeTree(ctx context.Context, target string) error {
	info, err := a.fs.Stat(ctx, target)
	if err != nil {
		return err
	}

	if info.IsDir() {
		children, err := a.fs.List(ctx, target)
		if err != nil {
			return err
		}

		for _, child := range children {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := a.removeTree(ctx, child.Path()); err != nil {
				return err
			}
		}
	}

	a.logger.WithField("path", target).Debug("deleting")

	if _, err := a.fs.Delete(ctx, target); err != nil {
		return err
	}

	return nil
}

func (a *app) mv(ctx context.Context, cmd *config.MvCmd) error {
	if err := a.fs.Rename(ctx, cmd.From, cmd.To); err != nil {
		return err
	}

	return a.printer.Done(fmt.Sprintf("renamed %s to %s", a.fs.Resolve(cmd.From), a.fs.Resolve(cmd.To)))
}

func (a *app) get(ctx context.Context, cmd *config.GetCmd) error {
	remote := a.fs.Resolve(cmd.Remote)

	local := cmd.Local
	if local == "" {
		local = path.Base(remote)
	}

	if info, err := os.Stat(local); err == nil && info.IsDir() {
		local = filepath.Join(local, path.Base(remote))
	}

	start := time.Now()

	stats, err := fileops.NewTransfers(a.fs).Download(ctx, remote, local, fileops.Options{Hash: cmd.SHA256})
	if err != nil {
		return err
	}

	return a.printer.Transfer(remote, local, stats, time.Since(start))
}

func (a *app) put(ctx context.Context, cmd *config.PutCmd) error {
	mode, err := config.ParseOpenMode(cmd.Mode)
	if err != nil {
		return err
	}

	remote := a.fs.Resolve(cmd.Remote)

	if info, err := a.fs.Stat(ctx, remote); err == nil && info.IsDir() {
		remote = path.Join(remote, filepath.Base(cmd.Local))
	}

	start := time.Now()

	stats, err := fileops.NewTransfers(a.fs).Upload(ctx, cmd.Local, remote, fileops.Options{
		Hash:          cmd.SHA256,
		Mode:          mode,
		CreateParents: cmd.Parents,
	})
	if err != nil {
		return err
	}

	return a.printer.Transfer(cmd.Local, remote, stats, time.Since(start))
}

func (a *app) cat(ctx context.Context, cmd *config.CatCmd) error {
	channel, err := a.fs.OpenRead(ctx, cmd.Path)
	if err != nil {
		return err
	}

	defer func() {
		_ = channel.Close()
	}()

	if _, err := io.Copy(a.stdout, channel); err != nil {
		return fmt.Errorf("failed to write %s: %w", cmd.Path, err)
	}

	return nil
}

func (a *app) find(ctx context.Context, cmd *config.FindCmd) error {
	scanner := a.fs.Scan(ctx, cmd.Path, filesystem.ScanOptions{
		Include:   cmd.Include,
		Exclude:   cmd.Exclude,
		FilesOnly: cmd.FilesOnly,
	})

	var entries []filesystem.ScanEntry

	for {
		entry, ok := scanner.Next()
		if !ok {
			break
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			a.printer.Warn("interrupted")
		}

		return err
	}

	return a.printer.ScanResults(entries)
}
