// Copyright 2026 The hookmarket Authors
// This file is part of the hookmarket library.
//
// The hookmarket library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The hookmarket library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the hookmarket library. If not, see <http://www.gnu.org/licenses/>.

// hookmarketd is the marketplace daemon: HTTP API, deadline sweeper, event
// log and embedded store in one process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/fefe102/v4SessionHookMarkets/api"
	"github.com/fefe102/v4SessionHookMarkets/config"
	"github.com/fefe102/v4SessionHookMarkets/core"
	"github.com/fefe102/v4SessionHookMarkets/eventbus"
	"github.com/fefe102/v4SessionHookMarkets/marketdb"
	"github.com/fefe102/v4SessionHookMarkets/paychan"
	"github.com/fefe102/v4SessionHookMarkets/sweeper"
	"github.com/fefe102/v4SessionHookMarkets/verifier"
)

var (
	hostFlag = &cli.StringFlag{
		Name:    "host",
		Usage:   "HTTP listen host",
		EnvVars: []string{"HOST"},
	}
	portFlag = &cli.IntFlag{
		Name:    "port",
		Usage:   "HTTP listen port",
		EnvVars: []string{"PORT"},
	}
	dataDirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Directory for the store, event log and report archive",
		EnvVars: []string{"DATA_DIR"},
	}
	verifierURLFlag = &cli.StringFlag{
		Name:    "verifier.url",
		Usage:   "Base URL of the external verifier",
		EnvVars: []string{"VERIFIER_URL"},
	}
	assetModeFlag = &cli.StringFlag{
		Name:    "asset.mode",
		Usage:   "Payment adapter mode (mock|real)",
		EnvVars: []string{"ASSET_MODE"},
	}
	clearnodeURLFlag = &cli.StringFlag{
		Name:    "clearnode.url",
		Usage:   "Clearnode HTTP endpoint",
		EnvVars: []string{"CLEARNODE_URL"},
	}
	clearnodeWSFlag = &cli.StringFlag{
		Name:    "clearnode.ws",
		Usage:   "Clearnode websocket RPC endpoint",
		EnvVars: []string{"CLEARNODE_WS_URL"},
	}
	privateKeyFlag = &cli.StringFlag{
		Name:    "privatekey",
		Usage:   "Operator private key (hex), required in real asset mode",
		EnvVars: []string{"PRIVATE_KEY"},
	}
	milestoneSplitsFlag = &cli.IntFlag{
		Name:    "milestone.splits",
		Usage:   "Number of incremental transfers per milestone (1..20)",
		EnvVars: []string{"MILESTONE_SPLITS"},
	}
	demoActionsFlag = &cli.BoolFlag{
		Name:    "demo",
		Usage:   "Enable forced demo transitions (early select, early settle)",
		EnvVars: []string{"DEMO_ACTIONS"},
	}
	biddingSecondsFlag = &cli.Int64Flag{
		Name:    "window.bidding",
		Usage:   "Bidding window in seconds",
		EnvVars: []string{"BIDDING_DURATION_SECONDS"},
	}
	deliverySecondsFlag = &cli.Int64Flag{
		Name:    "window.delivery",
		Usage:   "Delivery window in seconds",
		EnvVars: []string{"DELIVERY_DURATION_SECONDS"},
	}
	challengeSecondsFlag = &cli.Int64Flag{
		Name:    "window.challenge",
		Usage:   "Challenge window in seconds",
		EnvVars: []string{"CHALLENGE_DURATION_SECONDS"},
		Value:   300,
	}
	patchSecondsFlag = &cli.Int64Flag{
		Name:    "window.patch",
		Usage:   "Patch window in seconds (0 disables patching)",
		EnvVars: []string{"PATCH_DURATION_SECONDS"},
		Value:   600,
	}
	sweepSecondsFlag = &cli.Int64Flag{
		Name:    "sweep.interval",
		Usage:   "Deadline sweep interval in seconds",
		EnvVars: []string{"SWEEP_INTERVAL_SECONDS"},
	}
	verbosityFlag = &cli.IntFlag{
		Name:    "verbosity",
		Usage:   "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		EnvVars: []string{"VERBOSITY"},
		Value:   3,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "hookmarketd"
	app.Usage = "verifiable hook marketplace daemon"
	app.Flags = []cli.Flag{
		hostFlag, portFlag, dataDirFlag,
		verifierURLFlag,
		assetModeFlag, clearnodeURLFlag, clearnodeWSFlag, privateKeyFlag,
		milestoneSplitsFlag, demoActionsFlag,
		biddingSecondsFlag, deliverySecondsFlag, challengeSecondsFlag,
		patchSecondsFlag, sweepSecondsFlag,
		verbosityFlag,
	}
	app.Before = func(ctx *cli.Context) error {
		// A local .env is a convenience for development; absence is fine.
		godotenv.Load()
		useColor := term.IsTerminal(int(os.Stderr.Fd()))
		handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)), useColor)
		log.SetDefault(log.NewLogger(handler))
		return nil
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if ctx.IsSet(hostFlag.Name) {
		cfg.Host = ctx.String(hostFlag.Name)
	}
	if ctx.IsSet(portFlag.Name) {
		cfg.Port = ctx.Int(portFlag.Name)
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(verifierURLFlag.Name) {
		cfg.VerifierURL = ctx.String(verifierURLFlag.Name)
	}
	if ctx.IsSet(assetModeFlag.Name) {
		cfg.AssetMode = ctx.String(assetModeFlag.Name)
	}
	cfg.ClearnodeURL = ctx.String(clearnodeURLFlag.Name)
	cfg.ClearnodeWSURL = ctx.String(clearnodeWSFlag.Name)
	cfg.PrivateKeyHex = ctx.String(privateKeyFlag.Name)
	if ctx.IsSet(milestoneSplitsFlag.Name) {
		cfg.MilestoneSplits = ctx.Int(milestoneSplitsFlag.Name)
	}
	cfg.DemoActions = ctx.Bool(demoActionsFlag.Name)
	if ctx.IsSet(biddingSecondsFlag.Name) {
		cfg.BiddingWindow = time.Duration(ctx.Int64(biddingSecondsFlag.Name)) * time.Second
	}
	if ctx.IsSet(deliverySecondsFlag.Name) {
		cfg.DeliveryWindow = time.Duration(ctx.Int64(deliverySecondsFlag.Name)) * time.Second
	}
	cfg.ChallengeWindow = time.Duration(ctx.Int64(challengeSecondsFlag.Name)) * time.Second
	cfg.PatchWindow = time.Duration(ctx.Int64(patchSecondsFlag.Name)) * time.Second
	if ctx.IsSet(sweepSecondsFlag.Name) {
		cfg.SweepInterval = time.Duration(ctx.Int64(sweepSecondsFlag.Name)) * time.Second
	}
	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx *cli.Context) error {
	cfg, err := buildConfig(ctx)
	if err != nil {
		return err
	}
	logger := log.New("service", "hookmarketd")
	logger.Info("Starting hook marketplace", "datadir", cfg.DataDir, "mode", cfg.AssetMode, "addr", cfg.ListenAddr())

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := marketdb.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	bus, err := eventbus.New(cfg.EventLogPath())
	if err != nil {
		db.Close()
		return fmt.Errorf("open event log: %w", err)
	}

	var adapter paychan.Adapter
	switch cfg.AssetMode {
	case config.AssetModeReal:
		adapter = paychan.NewRPCAdapter(paychan.RPCConfig{
			URL:        cfg.ClearnodeURL,
			WSURL:      cfg.ClearnodeWSURL,
			PrivateKey: cfg.PrivateKey(),
			Asset:      cfg.AssetAddress,
			Decimals:   cfg.AssetDecimals,
		})
	default:
		adapter = paychan.NewMockAdapter(cfg.AssetAddress, cfg.AssetDecimals)
	}

	engine := core.New(cfg, db, bus, adapter, verifier.NewClient(cfg.VerifierURL, cfg.VerifierTimeout))

	sw, err := sweeper.New(engine, cfg.SweepInterval)
	if err != nil {
		bus.Close()
		db.Close()
		return err
	}
	srv := api.NewServer(cfg, engine, db, bus)

	sw.Start()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", "err", err)
		}
	}

	sw.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "err", err)
	}
	if err := bus.Close(); err != nil {
		logger.Warn("Event log close failed", "err", err)
	}
	if err := db.Close(); err != nil {
		logger.Warn("Store close failed", "err", err)
	}
	logger.Info("Shutdown complete")
	return nil
}
