// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// drip runs the reward distribution ledger daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/drip-labs/drip/api"
	"github.com/drip-labs/drip/epoch"
	"github.com/drip-labs/drip/ledger"
	"github.com/drip-labs/drip/log"
	"github.com/drip-labs/drip/lvldb"
	"github.com/drip-labs/drip/metrics"
)

var (
	version   string
	gitCommit string
	gitTag    string
)

func fullVersion() string {
	versionMeta := "release"
	if gitTag == "" {
		versionMeta = "dev"
	}
	return fmt.Sprintf("%s-%s-%s", version, gitCommit, versionMeta)
}

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "Drip",
		Usage:     "Epoch-quantized reward distribution ledger",
		Copyright: "2026 Drip Labs",
		Flags: []cli.Flag{
			configFlag,
			dataDirFlag,
			memDBFlag,
			apiAddrFlag,
			apiCorsFlag,
			enableAPILogsFlag,
			verbosityFlag,
			enableMetricsFlag,
			metricsAddrFlag,
			syncIntervalFlag,
		},
		Action: defaultAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultAction(ctx *cli.Context) error {
	defer func() { log.Info("exited") }()

	initLogger(ctx)

	configPath := ctx.String(configFlag.Name)
	if configPath == "" {
		return errors.Errorf("config file required, use --%s to specify", configFlag.Name)
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	ledgerCfg, err := cfg.ledgerConfig()
	if err != nil {
		return err
	}

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer func() { log.Info("closing ledger database..."); db.Close() }()

	led, err := ledger.New(db, ledgerCfg)
	if err != nil {
		return errors.Wrap(err, "open ledger")
	}

	if ctx.Bool(enableMetricsFlag.Name) {
		metrics.InitializePrometheusMetrics()
	}

	exitCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, groupCtx := errgroup.WithContext(exitCtx)

	apiHandler := api.New(led, api.Options{
		AllowedOrigins:  ctx.String(apiCorsFlag.Name),
		EnableMetrics:   ctx.Bool(enableMetricsFlag.Name),
		EnableReqLogger: ctx.Bool(enableAPILogsFlag.Name),
	})
	apiURL, err := serveHTTP(groupCtx, group, "api", ctx.String(apiAddrFlag.Name), apiHandler)
	if err != nil {
		return err
	}

	metricsURL := "disabled"
	if ctx.Bool(enableMetricsFlag.Name) {
		metricsURL, err = serveHTTP(groupCtx, group, "metrics", ctx.String(metricsAddrFlag.Name), metrics.HTTPHandler())
		if err != nil {
			return err
		}
	}

	startSyncLoop(groupCtx, group, led, ctx.Duration(syncIntervalFlag.Name))

	printStartupMessage(led, cfg, apiURL, metricsURL, ctx)

	return group.Wait()
}

func initLogger(ctx *cli.Context) {
	lvl := new(slog.LevelVar)
	lvl.Set(verbosityToLevel(ctx.Int(verbosityFlag.Name)))

	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = log.NewTerminalHandler(os.Stderr, lvl)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	log.SetDefault(handler)
}

func verbosityToLevel(verbosity int) slog.Level {
	switch {
	case verbosity <= 1:
		return slog.LevelError
	case verbosity == 2:
		return slog.LevelWarn
	case verbosity == 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".drip")
}

func openDB(ctx *cli.Context) (*lvldb.LevelDB, error) {
	if ctx.Bool(memDBFlag.Name) {
		return lvldb.NewMem()
	}
	dataDir := ctx.String(dataDirFlag.Name)
	if dataDir == "" {
		return nil, errors.Errorf("unable to infer default data dir, use --%s to specify", dataDirFlag.Name)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, errors.Wrapf(err, "create data dir [%v]", dataDir)
	}
	db, err := lvldb.New(filepath.Join(dataDir, "ledger.db"), lvldb.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "open ledger database")
	}
	return db, nil
}

// serveHTTP starts a http server on addr and hooks its shutdown into the
// group's context.
func serveHTTP(ctx context.Context, group *errgroup.Group, name, addr string, handler http.Handler) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errors.Wrapf(err, "listen %s addr [%v]", name, addr)
	}

	srv := &http.Server{Handler: handler}
	group.Go(func() error {
		if err := srv.Serve(listener); err != http.ErrServerClosed {
			return errors.Wrapf(err, "serve %s", name)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info("stopping server...", "name", name)
		return srv.Shutdown(context.Background())
	})
	return "http://" + listener.Addr().String() + "/", nil
}

// startSyncLoop periodically finalizes completed epochs so claims do not
// have to catch up themselves.
func startSyncLoop(ctx context.Context, group *errgroup.Group, led *ledger.Ledger, interval time.Duration) {
	group.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				for {
					done, err := led.Sync(uint64(time.Now().Unix()))
					if err != nil {
						if !errors.Is(err, epoch.ErrBeforeGenesis) {
							log.Warn("epoch sync failed", "err", err)
						}
						break
					}
					if done {
						break
					}
				}
			}
		}
	})
}

func printStartupMessage(led *ledger.Ledger, cfg *Config, apiURL, metricsURL string, ctx *cli.Context) {
	dataDir := ctx.String(dataDirFlag.Name)
	if ctx.Bool(memDBFlag.Name) {
		dataDir = "in-memory"
	}
	clock := led.Clock()
	fmt.Printf(`Starting Drip %v
    Genesis      [ %v ]
    Epoch length [ %v ]
    Management   [ %v ]
    Data dir     [ %v ]
    API portal   [ %v ]
    Metrics      [ %v ]
`,
		fullVersion(),
		time.Unix(int64(clock.Genesis()), 0),
		time.Duration(clock.Length())*time.Second,
		cfg.Management,
		dataDir,
		apiURL,
		metricsURL)
}
