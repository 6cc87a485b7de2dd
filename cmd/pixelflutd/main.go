/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Command pixelflutd is the single binary wiring every component in
// SPEC_FULL.md together: admission-capped TCP listeners feeding
// connection loops over a shared lock-free framebuffer, a statistics
// aggregator fed periodically by every connection, a Prometheus exporter,
// an optional VNC display sink, and a one-shot boot-time text stamp.
package main

import (
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pixelflut/goflut/internal/admission"
	"github.com/pixelflut/goflut/internal/config"
	"github.com/pixelflut/goflut/internal/connloop"
	"github.com/pixelflut/goflut/internal/display"
	"github.com/pixelflut/goflut/internal/exporter"
	"github.com/pixelflut/goflut/internal/framebuffer"
	"github.com/pixelflut/goflut/internal/netstat"
	"github.com/pixelflut/goflut/internal/parser"
	"github.com/pixelflut/goflut/internal/stats"
	"github.com/pixelflut/goflut/internal/textstamp"
)

// defaultVNCAddress is bound when --vnc is set. The CLI surface in §6
// names no dedicated VNC listen-address flag, so this server uses RFB's
// conventional port on every interface, same as the teacher's exporter
// examples hardcode their own listen addresses rather than threading
// another flag through.
const defaultVNCAddress = ":5900"

func main() {
	cfg := config.Parse()

	done := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logrus.Info("shutdown signal received")
		close(done)
	}()

	fb, err := openFramebuffer(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create framebuffer")
	}
	defer fb.Close()

	if cfg.Text != "" {
		if err := textstamp.Stamp(fb, cfg.Font, cfg.Text, 4, 4); err != nil {
			logrus.WithError(err).Fatal("failed to stamp startup text")
		}
	}

	if cfg.EnableNativeDisplay {
		logrus.Warn("--native-display requested but not built in this binary; ignoring")
	}
	if cfg.RTMPAddress != "" {
		logrus.Warn("--rtmp-address requested but not built in this binary; ignoring")
	}

	aggregator := stats.New()
	if !cfg.DisableStatisticsSaveFile {
		if err := aggregator.Load(cfg.StatisticsSaveFile); err != nil {
			logrus.WithError(err).Warn("failed to load statistics save-file; starting from zero")
		}
		go aggregator.RunSaveLoop(cfg.StatisticsSaveFile, time.Duration(cfg.StatisticsSaveIntervalS)*time.Second, done)
	}

	var collector *exporter.Collector
	if cfg.PrometheusListenAddress != "" {
		collector = exporter.New(aggregator, prometheus.Labels{"listen_address": cfg.ListenAddress})
		exporter.MustRegister(collector)
		serveMetrics(cfg.PrometheusListenAddress, done)
	}

	if cfg.EnableVNC {
		vnc := display.NewVNCServer(fb, cfg.FPS, frameReporter{aggregator})
		go func() {
			if err := vnc.ListenAndServe(defaultVNCAddress); err != nil {
				logrus.WithError(err).Warn("vnc sink stopped")
			}
		}()
	}

	var flags parser.Flags
	if cfg.EnableBinarySetPixel {
		flags |= parser.FlagBinarySetPixel
	}
	if cfg.EnableBinarySyncPixels {
		flags |= parser.FlagBinarySyncPixels
	}

	limiter := admission.NewLimiter(cfg.ConnectionsPerIP)

	handle := func(raw net.Conn) {
		wrapped := netstat.Wrap(raw)
		if collector != nil {
			collector.Add(wrapped)
			defer collector.Remove(wrapped)
		}
		connloop.Run(wrapped, fb, connloop.Options{
			BufferSize: connloop.DefaultBufferSize,
			Flags:      flags,
			Reporter:   aggregator,
			Done:       done,
		})
	}

	listeners := bindListeners(cfg.ListenAddress)
	if len(listeners) == 0 {
		logrus.Fatal("no listener could be bound")
	}

	go func() {
		<-done
		for _, ln := range listeners {
			ln.Close()
		}
	}()

	var servers sync.WaitGroup
	for _, ln := range listeners {
		servers.Add(1)
		go func(ln net.Listener) {
			defer servers.Done()
			admission.Serve(ln, limiter, aggregator, handle)
		}(ln)
	}

	servers.Wait()
	logrus.Info("clean shutdown")
}

// bindListeners binds addr, and if it resolves to the unspecified
// wildcard host binds separate IPv4 and IPv6 sockets the way §4.D
// requires ("IPv4 and IPv6 are independent sockets"), rather than
// relying on one dual-stack socket whose behavior varies by platform.
func bindListeners(addr string) []net.Listener {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		logrus.WithError(err).WithField("listen_address", addr).Fatal("invalid --listen-address")
	}

	if host != "" && host != "::" && host != "0.0.0.0" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			logrus.WithError(err).WithField("listen_address", addr).Fatal("failed to bind listener")
		}
		return []net.Listener{ln}
	}

	var listeners []net.Listener
	for _, network := range []string{"tcp4", "tcp6"} {
		ln, err := net.Listen(network, net.JoinHostPort(wildcardHost(network), port))
		if err != nil {
			logrus.WithError(err).WithField("network", network).Warn("failed to bind listener")
			continue
		}
		listeners = append(listeners, ln)
	}
	return listeners
}

func wildcardHost(network string) string {
	if network == "tcp6" {
		return "::"
	}
	return "0.0.0.0"
}

func openFramebuffer(cfg *config.Config) (*framebuffer.Framebuffer, error) {
	if cfg.SharedMemoryName != "" {
		return framebuffer.NewShared(cfg.SharedMemoryName, cfg.Width, cfg.Height)
	}
	return framebuffer.New(cfg.Width, cfg.Height), nil
}

func serveMetrics(addr string, done <-chan struct{}) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Warn("prometheus exporter stopped")
		}
	}()
	go func() {
		<-done
		srv.Close()
	}()
}

// frameReporter adapts *stats.Aggregator to display.FrameReporter without
// the display package importing stats directly.
type frameReporter struct {
	aggregator *stats.Aggregator
}

func (f frameReporter) FrameRendered() {
	f.aggregator.FrameRendered()
}
