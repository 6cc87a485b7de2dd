// Package config implements the CLI surface in SPEC_FULL.md §6, a single
// pflag.FlagSet bound into a struct, validated once after Parse — the
// same flag-parsing shape doismellburning-samoyed's direwolf command
// uses (StringP/IntP/BoolP into local vars, a custom Usage func, and
// os.Exit/Fatal on a bad value instead of deferring validation into the
// rest of the program).
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Config is every CLI-recognized option from SPEC_FULL.md §6.
type Config struct {
	ListenAddress string
	Width         uint16
	Height        uint16
	FPS           int

	Text string
	Font string

	PrometheusListenAddress   string
	StatisticsSaveFile        string
	StatisticsSaveIntervalS   int
	DisableStatisticsSaveFile bool

	ConnectionsPerIP int64

	EnableVNC           bool
	EnableNativeDisplay bool
	RTMPAddress         string

	SharedMemoryName string

	EnableBinarySetPixel   bool
	EnableBinarySyncPixels bool
}

// Parse parses os.Args[1:] into a Config, applying the same defaults
// spec.md §6 names, and validates the result. A parse failure is handled
// by pflag itself (ExitOnError): it prints the error and usage and exits
// 2. A validation failure prints the error and usage, then exits 1. Both
// are the fatal, non-zero "config parse failure" of SPEC_FULL.md §7.
func Parse() *Config {
	fs := pflag.NewFlagSet("pixelflutd", pflag.ExitOnError)

	listenAddress := fs.String("listen-address", "[::]:1234", "TCP bind address for the pixelflut protocol listener.")
	width := fs.Uint16("width", 1280, "Framebuffer width in pixels.")
	height := fs.Uint16("height", 720, "Framebuffer height in pixels.")
	fps := fs.Int("fps", 30, "Target frames per second for display sinks.")

	text := fs.String("text", "", "Status text stamped into the framebuffer at startup.")
	font := fs.String("font", "", "TTF path used to render --text.")

	prometheusListenAddress := fs.String("prometheus-listen-address", "", "Bind address for the Prometheus /metrics endpoint. Empty disables it.")
	statisticsSaveFile := fs.String("statistics-save-file", "pixelflut-stats.json", "Path to periodically snapshot statistics counters to.")
	statisticsSaveIntervalS := fs.Int("statistics-save-interval-s", 30, "Statistics snapshot period, in seconds.")
	disableStatisticsSaveFile := fs.Bool("disable-statistics-save-file", false, "Disable statistics snapshotting entirely.")

	connectionsPerIP := fs.Int64("connections-per-ip", 0, "Maximum simultaneous connections per source IP. 0 means unlimited.")

	enableVNC := fs.Bool("vnc", false, "Serve a VNC (RFB) view of the framebuffer.")
	enableNativeDisplay := fs.Bool("native-display", false, "Enable the native display sink (not built in this binary).")
	rtmpAddress := fs.String("rtmp-address", "", "Enable an RTMP sink at this address (not built in this binary).")

	sharedMemoryName := fs.String("shared-memory-name", "", "Back the framebuffer with a named POSIX shared-memory region instead of a private allocation.")

	enableBinarySetPixel := fs.Bool("enable-binary-set-pixel", false, "Accept the binary-set-pixel wire extension.")
	enableBinarySyncPixels := fs.Bool("enable-binary-sync-pixels", false, "Accept the binary-sync-pixels wire extension.")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "pixelflutd - a pixelflut protocol server.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: pixelflutd [options]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := &Config{
		ListenAddress:             *listenAddress,
		Width:                     *width,
		Height:                    *height,
		FPS:                       *fps,
		Text:                      *text,
		Font:                      *font,
		PrometheusListenAddress:   *prometheusListenAddress,
		StatisticsSaveFile:        *statisticsSaveFile,
		StatisticsSaveIntervalS:   *statisticsSaveIntervalS,
		DisableStatisticsSaveFile: *disableStatisticsSaveFile,
		ConnectionsPerIP:          *connectionsPerIP,
		EnableVNC:                 *enableVNC,
		EnableNativeDisplay:       *enableNativeDisplay,
		RTMPAddress:               *rtmpAddress,
		SharedMemoryName:          *sharedMemoryName,
		EnableBinarySetPixel:      *enableBinarySetPixel,
		EnableBinarySyncPixels:    *enableBinarySyncPixels,
	}

	if err := cfg.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		os.Exit(1)
	}

	return cfg
}

func (c *Config) validate() error {
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("--width and --height must both be greater than zero")
	}
	if c.FPS <= 0 {
		return fmt.Errorf("--fps must be greater than zero")
	}
	if c.StatisticsSaveIntervalS <= 0 {
		return fmt.Errorf("--statistics-save-interval-s must be greater than zero")
	}
	if c.Text != "" && c.Font == "" {
		return fmt.Errorf("--text requires --font")
	}
	if c.ConnectionsPerIP < 0 {
		return fmt.Errorf("--connections-per-ip cannot be negative")
	}
	return nil
}
