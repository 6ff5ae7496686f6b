// Command magicd is the MAGIC engine daemon: it owns the Link Driver
// Registry, Data Plane Programmer, Traffic Accounting, Session Manager,
// and Event Dispatcher, and exposes them over an HTTP+JSON control
// surface and a Prometheus metrics endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/skyline-avionics/magic/internal/accounting"
	"github.com/skyline-avionics/magic/internal/config"
	"github.com/skyline-avionics/magic/internal/dataplane"
	"github.com/skyline-avionics/magic/internal/dispatch"
	"github.com/skyline-avionics/magic/internal/driver"
	"github.com/skyline-avionics/magic/internal/flap"
	"github.com/skyline-avionics/magic/internal/hostcfg"
	"github.com/skyline-avionics/magic/internal/linkreg"
	"github.com/skyline-avionics/magic/internal/metrics"
	"github.com/skyline-avionics/magic/internal/server"
	"github.com/skyline-avionics/magic/internal/session"
	appversion "github.com/skyline-avionics/magic/internal/version"
)

func main() {
	configPath := flag.String("config", "/etc/magic/magicd.ini", "path to the magicd INI configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("magicd"))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "magicd: load config: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(cfg)

	if unix.Geteuid() != 0 {
		logger.Warn("magicd is not running as root; host mutation operations will likely fail")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("magicd exiting on fatal error", slog.String("error", err.Error()))
		os.Exit(2)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.General.LogLevel)}
	var handler slog.Handler
	if cfg.General.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// engine bundles every subsystem so shutdown can unwind it in one place.
type engine struct {
	logger     *slog.Logger
	registry   *linkreg.Registry
	dp         *dataplane.Programmer
	acct       *accounting.Manager
	mgr        *session.Manager
	dispatcher *dispatch.Dispatcher
	adapters   []*driver.Adapter
	collector  *metrics.Collector
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	reg := prometheus.NewRegistry()
	eng.collector = metrics.NewCollector(reg)

	controlHandler := server.New(eng.mgr, eng.registry, logger)
	controlSrv := &http.Server{Addr: cfg.Socket.ControlAddr, Handler: controlHandler}

	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.Socket.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.Socket.MetricsAddr, Handler: metricsMux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("control-plane HTTP API listening", slog.String("addr", cfg.Socket.ControlAddr))
		if err := controlSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("metrics endpoint listening", slog.String("addr", cfg.Socket.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return driverHealthLoop(gctx, cfg, eng)
	})

	g.Go(func() error {
		return watchdogLoop(gctx, logger)
	})

	g.Go(func() error {
		return metricsLoop(gctx, eng)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("systemd notify failed", slog.String("error", err.Error()))
	} else if ok {
		logger.Info("notified systemd of readiness")
	}

	<-gctx.Done()
	logger.Info("shutdown initiated")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := eng.mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("error releasing sessions during shutdown", slog.String("error", err.Error()))
	}
	_ = controlSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	for _, a := range eng.adapters {
		if err := a.Shutdown(shutdownCtx); err != nil {
			logger.Warn("driver shutdown error", slog.String("error", err.Error()))
		}
	}
	eng.dispatcher.Close()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildEngine constructs and wires every subsystem, attaches configured
// link drivers, and binds each attached link into the Data Plane
// Programmer's route tables.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	hostBackend, err := newHostBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build host backend: %w", err)
	}

	registry := linkreg.NewRegistry()
	dp := dataplane.New(hostBackend)
	if err := dp.Init(ctx, cfg.Interface.Ingress, cfg.Network.Gateway); err != nil {
		return nil, fmt.Errorf("dataplane init: %w", err)
	}
	acct := accounting.New(hostBackend, accounting.NewProcConntrackReader())
	assigner := session.NewStaticAssigner(cfg.Network.Gateway, cfg.Network.DNSPrimary, cfg.Network.DNSSecondary)
	mgr := session.New(registry, dp, acct, assigner)

	dispatcher := dispatch.New()
	dispatcher.Subscribe(nil, mgr)

	var fanout dispatch.Handler = dispatch.HandlerFunc(dispatcher.Publish)
	if cfg.Timing.FlapDampeningEnabled {
		dampener := flap.New(flap.Config{
			Enabled:           true,
			SuppressThreshold: cfg.Timing.FlapSuppressThreshold,
			ReuseThreshold:    cfg.Timing.FlapReuseThreshold,
			MaxSuppressTime:   cfg.Timing.FlapMaxSuppressTime,
			HalfLife:          cfg.Timing.FlapHalfLife,
		}, logger)
		fanout = flap.NewFilter(dampener, fanout)
	}
	registry.Subscribe(&registryBridge{next: fanout})

	eng := &engine{
		logger:     logger,
		registry:   registry,
		dp:         dp,
		acct:       acct,
		mgr:        mgr,
		dispatcher: dispatcher,
	}

	if err := attachDrivers(ctx, cfg, eng); err != nil {
		return nil, fmt.Errorf("attach drivers: %w", err)
	}
	return eng, nil
}

// registryBridge adapts linkreg.Notification into dispatch.Event and
// forwards it to next (either the Dispatcher directly, or a flap.Filter
// in front of it).
type registryBridge struct {
	next dispatch.Handler
}

func (b *registryBridge) Notify(n linkreg.Notification) {
	e, ok := dispatch.FromNotification(n)
	if !ok {
		return
	}
	b.next.Handle(e)
}

func newHostBackend(ctx context.Context, cfg *config.Config) (hostcfg.Configurator, error) {
	switch cfg.General.HostBackend {
	case "ovsdb":
		backend, err := hostcfg.NewOVSBackend(ctx, cfg.Links.OVSDBEndpoint)
		if err != nil {
			return nil, err
		}
		return hostcfg.NewSerialized(backend), nil
	case "memory":
		return hostcfg.NewSerialized(hostcfg.NewMemoryBackend()), nil
	default:
		return hostcfg.NewSerialized(hostcfg.NewSubprocessBackend()), nil
	}
}

// linkCapability returns a static capability envelope for a configured
// physical link. Per-radio bandwidth/latency/cost are deployment
// properties a real fleet would source from an asset database; absent
// that here, every configured link shares the engine-wide signal and
// cost defaults from configuration.
func linkCapability(cfg *config.Config, maxFwd, maxRev, latencyMs uint32, priority uint32, groundOnly bool) linkreg.Capability {
	return linkreg.Capability{
		MaxFwdKbps:       maxFwd,
		MaxRevKbps:       maxRev,
		TypicalLatencyMs: latencyMs,
		MTU:              1500,
		SecurityLevel:    2,
		CostPerMB:        cfg.Cost.DefaultCostPerMB,
		Priority:         priority,
		GroundOnly:       groundOnly,
		RSSIMin:          cfg.Signal.DefaultRSSIMin,
		RSSIMax:          cfg.Signal.DefaultRSSIMax,
	}
}

func attachDrivers(ctx context.Context, cfg *config.Config, eng *engine) error {
	var anyEnabled bool

	if cfg.Links.SatcomEnabled {
		anyEnabled = true
		cap := linkCapability(cfg, 4000, 1000, 600, 10, false)
		d := driver.NewSatcom(cfg.Links.SatcomService, cfg.Links.SatcomObjectPath, cap, cfg.Links.SatcomInterface)
		if err := attachOne(ctx, eng, d, cfg.Links.SatcomInterface); err != nil {
			return fmt.Errorf("attach satcom: %w", err)
		}
	}

	if cfg.Links.CellularEnabled {
		anyEnabled = true
		cap := linkCapability(cfg, 10000, 5000, 80, 20, false)
		d := driver.NewCellular(cfg.Links.CellularObjectPath, cap, cfg.Links.CellularInterface)
		if err := attachOne(ctx, eng, d, cfg.Links.CellularInterface); err != nil {
			return fmt.Errorf("attach cellular: %w", err)
		}
	}

	if cfg.Links.WiFiEnabled {
		anyEnabled = true
		cap := linkCapability(cfg, 50000, 50000, 10, 30, true)
		d, err := driver.NewWiFi(ctx, cfg.Links.WiFiEndpoint, cfg.Links.WiFiInterface, cap)
		if err != nil {
			return fmt.Errorf("construct wifi driver: %w", err)
		}
		if err := attachOne(ctx, eng, d, cfg.Links.WiFiInterface); err != nil {
			return fmt.Errorf("attach wifi: %w", err)
		}
	}

	if !anyEnabled {
		eng.logger.Warn("no link drivers enabled in configuration; attaching a simulated link")
		cap := linkCapability(cfg, 10000, 10000, 50, 10, false)
		sim := driver.NewSimulated(driver.LinkInfo{
			Type:          linkreg.LinkTypeOther,
			InterfaceName: "sim0",
			Capability:    cap,
		})
		if err := attachOne(ctx, eng, sim, "sim0"); err != nil {
			return fmt.Errorf("attach simulated: %w", err)
		}
	}
	return nil
}

func attachOne(ctx context.Context, eng *engine, d driver.Driver, iface string) error {
	adapter, err := driver.Attach(ctx, eng.registry, d)
	if err != nil {
		return err
	}
	if _, _, err := eng.dp.BindLink(ctx, adapter.LinkID(), iface, ""); err != nil {
		return fmt.Errorf("bind link %s: %w", iface, err)
	}
	eng.adapters = append(eng.adapters, adapter)
	return nil
}

// driverHealthLoop periodically issues Adapter.PingHealthCheck for every
// attached driver that implements driver.Pinger.
func driverHealthLoop(ctx context.Context, cfg *config.Config, eng *engine) error {
	interval := cfg.Timing.DriverPingInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, a := range eng.adapters {
				a.PingHealthCheck(ctx)
			}
		}
	}
}

// metricsLoop periodically samples link and session state into the
// Prometheus Collector; the engine itself has no notion of "metrics",
// so this is a read-only poller external to the core packages.
func metricsLoop(ctx context.Context, eng *engine) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sampleMetrics(eng)
		}
	}
}

func sampleMetrics(eng *engine) {
	eng.collector.SetActiveSessions(float64(len(eng.mgr.Snapshots())))

	byState := make(map[string]map[string]float64)
	for _, snap := range eng.registry.Snapshots() {
		linkType := snap.Capability.Type.String()
		if byState[linkType] == nil {
			byState[linkType] = make(map[string]float64)
		}
		byState[linkType][snap.State.String()]++

		eng.collector.SetLinkUsage(
			snap.ID.String(), linkType,
			float64(snap.CurrentFwdKbps), float64(snap.CurrentRevKbps),
			float64(snap.SignalQuality), float64(snap.ActiveBearers),
		)
	}
	for linkType, states := range byState {
		for state, count := range states {
			eng.collector.SetLinkState(linkType, state, count)
		}
	}
}

// watchdogLoop pings the systemd watchdog at half its configured
// interval, if one is configured.
func watchdogLoop(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Warn("systemd watchdog notify failed", slog.String("error", err.Error()))
			}
		}
	}
}
