// Command jitterplay receives an RTP stream over UDP, runs it through an
// adaptive jitter buffer and writes the paced payloads to a file or stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/channel-io/go-jitter/pkg/jitter"
	"github.com/channel-io/go-jitter/pkg/playout"
)

const historyWindow = 2 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	listen := flag.String("listen", "", "UDP address to receive RTP on (overrides config)")
	output := flag.String("out", "", "output file, - for stdout (overrides config)")
	metrics := flag.String("metrics", "", "address to serve /metrics on (overrides config)")
	level := flag.String("log-level", "", "log level (overrides config)")
	flag.Parse()

	log := logrus.New()
	log.SetOutput(os.Stderr)

	cfg := playout.DefaultFileConfig()
	if *configPath != "" {
		var err error
		if cfg, err = playout.LoadConfig(*configPath); err != nil {
			log.WithError(err).Fatal("failed to load config")
		}
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *metrics != "" {
		cfg.MetricsAddr = *metrics
	}
	if *level != "" {
		cfg.LogLevel = *level
	}

	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid log level")
	}
	log.SetLevel(lvl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("jitterplay stopped")
	}
	log.Info("jitterplay stopped")
}

func run(ctx context.Context, cfg playout.FileConfig, log *logrus.Logger) error {
	jc := cfg.JitterConfig()
	if err := jc.Validate(); err != nil {
		return err
	}

	history := jitter.NewHistory(historyWindow, jc.ClockRate)
	factory := jitter.NewFactory(jc,
		jitter.WithLogger(log),
		jitter.WithListener(history),
		jitter.WithListener(jitter.NewLogListener(log)),
	)
	buffer := jitter.NewPacketBuffer(factory)

	conn, err := net.ListenPacket("udp", cfg.Listen)
	if err != nil {
		return err
	}
	defer conn.Close()

	out, err := openOutput(cfg.Output)
	if err != nil {
		return err
	}
	defer out.Close()

	if cfg.MetricsAddr != "" {
		collector := jitter.NewCollector("jitterplay")
		collector.Register(conn.LocalAddr().String(), buffer)
		registry := prometheus.NewRegistry()
		registry.MustRegister(collector)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server failed")
			}
		}()
		defer server.Close()
	}

	log.WithFields(logrus.Fields{
		"listen":    conn.LocalAddr().String(),
		"output":    cfg.Output,
		"min_delay": jc.MinDelay,
		"max_delay": jc.MaxDelay,
		"capacity":  jc.Capacity(),
	}).Info("starting playout")

	session := playout.NewSession(
		buffer,
		playout.NewUDPSource(conn, cfg.ReadTimeout(), log),
		playout.NewWriterSink(out),
		cfg.Tick(),
		cfg.FrameTicks(),
		log,
	)
	err = session.Run(ctx)

	snap := history.Snapshot()
	log.WithFields(logrus.Fields{
		"delivered":    snap.Delivered,
		"too_late":     snap.TooLate,
		"overrun":      snap.Overrun,
		"skipped":      snap.Skipped,
		"loss_ratio":   snap.LossRatio,
		"max_lateness": snap.MaxLateness,
	}).Info("last window")
	return err
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}
