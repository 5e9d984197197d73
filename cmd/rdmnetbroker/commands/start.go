package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rdmnet-go/rdmnet/internal/httpapi"
	"github.com/rdmnet-go/rdmnet/internal/logger"
	"github.com/rdmnet-go/rdmnet/internal/metrics"
	_ "github.com/rdmnet-go/rdmnet/internal/metrics/prometheus"
	"github.com/rdmnet-go/rdmnet/internal/telemetry"
	"github.com/rdmnet-go/rdmnet/pkg/broker"
	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/config"
	"github.com/rdmnet-go/rdmnet/pkg/discovery"
	"github.com/rdmnet-go/rdmnet/pkg/discovery/mdns"
	"github.com/rdmnet-go/rdmnet/pkg/llrp/target"
	"github.com/rdmnet-go/rdmnet/pkg/proto/llrp"
	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
	"github.com/rdmnet-go/rdmnet/pkg/transport/mcast"
)

// shutdownGrace bounds how long the httpapi server is given to drain
// in-flight requests once a shutdown signal arrives.
const shutdownGrace = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the broker",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := InitLogger(cfg); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.OTLPEndpoint != "" {
		telemetryCfg.Endpoint = cfg.Telemetry.OTLPEndpoint
	}
	if cfg.Telemetry.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.Telemetry.ServiceName
	}
	if cfg.Telemetry.SampleRatio != 0 {
		telemetryCfg.SampleRatio = cfg.Telemetry.SampleRatio
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("start: telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	if cfg.Telemetry.ProfilingURL != "" {
		shutdownProfiling, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
			Enabled:        true,
			ServiceName:    telemetryCfg.ServiceName,
			ServiceVersion: Version,
			Endpoint:       cfg.Telemetry.ProfilingURL,
		})
		if err != nil {
			logger.Warn("start: profiling init failed", "error", err)
		} else {
			defer func() { _ = shutdownProfiling() }()
		}
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	brokerCID, err := config.ResolveCID(cfg, config.DefaultIdentityPath())
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	b := broker.New(broker.Config{
		CID:               brokerCID,
		Scope:             cfg.Scope,
		E133Version:       cfg.E133Version,
		ListenAddrs:       cfg.ListenAddrs,
		HeartbeatInterval: cfg.Heartbeat.Interval,
		HeartbeatTimeout:  cfg.Heartbeat.Timeout,
		ConnectTimeout:    cfg.Heartbeat.ConnectTimeout,
		Metrics:           metrics.NewBrokerMetrics(),
	})

	var stopLLRP func()
	if cfg.LLRP.Enabled {
		stopLLRP, err = startLLRPTarget(ctx, brokerCID)
		if err != nil {
			logger.Warn("start: llrp target disabled", "error", err)
		} else {
			defer stopLLRP()
		}
	}

	var stopDiscovery func()
	if cfg.Discovery.Enabled {
		stopDiscovery, err = announceBroker(cfg, brokerCID)
		if err != nil {
			logger.Warn("start: discovery announcement disabled", "error", err)
		} else {
			defer stopDiscovery()
		}
	}

	var httpServer *http.Server
	if cfg.HTTPAPI.Enabled {
		httpServer = &http.Server{Addr: cfg.HTTPAPI.Addr, Handler: httpapi.NewRouter(b)}
		go func() {
			logger.Info("start: httpapi listening", "addr", cfg.HTTPAPI.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("start: httpapi failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("start: broker listening", "scope", cfg.Scope, "cid", brokerCID.String(), "addrs", cfg.ListenAddrs)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- b.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("start: shutting down")
		b.Shutdown()
		<-serverDone
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	return nil
}

// startLLRPTarget makes this broker itself a discoverable LLRP component,
// independent of the RPT/EPT clients it serves, so an LLRP manager can
// find the broker even before any client has connected to it.
func startLLRPTarget(ctx context.Context, brokerCID cid.CID) (stop func(), err error) {
	ifaces, err := mcast.Interfaces()
	if err != nil {
		return nil, err
	}
	mac, err := mcast.LowestMACAddr()
	if err != nil {
		return nil, err
	}
	var hwAddr [llrp.HardwareAddrLen]byte
	copy(hwAddr[:], mac)

	t := target.New(target.Config{
		CID:           brokerCID,
		UID:           uidFromCID(brokerCID),
		ComponentType: llrp.ComponentTypeBroker,
		HardwareAddr:  hwAddr,
	}, target.Callbacks{})

	transport := mcast.New()
	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := t.Serve(serveCtx, transport, ifaces); err != nil {
			logger.Warn("start: llrp target serve error", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

// announceBroker publishes this broker's DNS-SD record and watches its
// own scope for a conflicting broker, per discovery.Adapter.Register.
func announceBroker(cfg *config.Config, brokerCID cid.CID) (stop func(), err error) {
	responder := mdns.New()
	adapter := discovery.New(responder)

	port := uint16(config.DefaultE133Port)
	if addr := firstListenAddr(cfg.ListenAddrs); addr != "" {
		if _, p, err := net.SplitHostPort(addr); err == nil {
			fmt.Sscanf(p, "%d", &port)
		}
	}

	return adapter.Register(discovery.RegisterConfig{
		CID:                 brokerCID,
		ServiceInstanceName: fmt.Sprintf("rdmnetbroker-%s", brokerCID.String()),
		Port:                port,
		Scope:               cfg.Scope,
		Callbacks: discovery.RegisterCallbacks{
			OnBrokerRegistered: func(name string) {
				logger.Info("start: registered with discovery", "instance", name)
			},
			OnOtherBrokerFound: func(other discovery.DiscoveredBroker) {
				logger.Warn("start: deregistered, conflicting broker found", "other_cid", other.CID.String())
			},
		},
	}, time.Now(), time.After)
}

func firstListenAddr(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}

func uidFromCID(c cid.CID) rdmuid.UID {
	hi, lo := c.Uint64Halves()
	return rdmuid.UID{
		Manufacturer: 0x7ff0 | uint16(hi&0x000f),
		Device:       uint32(lo),
	}
}
