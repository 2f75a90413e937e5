// Package config parses the empress's CLI surface: stdlib flag parsing with
// a WELLENBRECHER_* environment-variable fallback per flag, matching the
// ambient stack's no-cobra/no-viper convention.
package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/wellenbrecher-go/wellenbrecher/internal/constants"
	"github.com/wellenbrecher-go/wellenbrecher/internal/logging"
)

// Config holds every empress CLI flag, validated and ready to pass to the
// server constructor.
type Config struct {
	Width, Height    uint32
	Port             int
	Threads          int // 0 means one lackey per core minus the empress
	ConnectionsPerIP int // 0 means unlimited; non-zero fails startup, see internal/firewall
	IPv4Mask         [4]byte
	IPv6Mask         [16]byte
	BufferSize       int
	IOURingSize      uint32
	TCPAcceptBacklog int
	CanvasFileLink   string
	RemoveCanvas     bool
	NoBanner         bool
	LogLevel         string
	MetricsAddr      string
}

// Parse parses args (typically os.Args[1:]) into a Config, applying
// WELLENBRECHER_* environment fallbacks for any flag not explicitly given
// on the command line, then validates the result.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("wellenbrecher", flag.ContinueOnError)

	width := fs.Uint("width", envUint("WELLENBRECHER_WIDTH", constants.DefaultWidth), "canvas width")
	height := fs.Uint("height", envUint("WELLENBRECHER_HEIGHT", constants.DefaultHeight), "canvas height")
	port := fs.Int("port", envInt("WELLENBRECHER_PORT", constants.DefaultPort), "TCP port")
	fs.IntVar(port, "p", *port, "TCP port (shorthand)")
	threads := fs.Int("threads", envInt("WELLENBRECHER_THREADS", 0), "lackey thread count (0 = one per core, minus one for the empress)")
	fs.IntVar(threads, "n", *threads, "lackey thread count (shorthand)")
	connsPerIP := fs.Int("connections-per-ip", envInt("WELLENBRECHER_CONNECTIONS_PER_IP", 0), "per-IP connection cap (0 = unlimited; non-zero fails startup, no nftables backend in this build)")
	fs.IntVar(connsPerIP, "c", *connsPerIP, "connections-per-ip (shorthand)")
	ipv4Mask := fs.String("ipv4-mask", envString("WELLENBRECHER_IPV4_MASK", "255.255.255.255"), "IPv4 user-identity mask")
	ipv6Mask := fs.String("ipv6-mask", envString("WELLENBRECHER_IPV6_MASK", "ffff:ffff:ffff:ffff::"), "IPv6 user-identity mask")
	buffer := fs.Int("buffer", envInt("WELLENBRECHER_BUFFER", constants.DefaultConnectionBufferSize), "per-connection command ring size in bytes")
	ioURingSize := fs.Uint("io-uring-size", envUint("WELLENBRECHER_IO_URING_SIZE", constants.DefaultIOURingSize), "io_uring submission/completion queue depth")
	backlog := fs.Int("tcp-accept-backlog", envInt("WELLENBRECHER_TCP_ACCEPT_BACKLOG", constants.DefaultTCPAcceptBacklog), "listen(2) backlog")
	canvasLink := fs.String("canvas-file-link", envString("WELLENBRECHER_CANVAS_FILE_LINK", constants.DefaultCanvasFileLink), "canvas shared-memory link path")
	fs.StringVar(canvasLink, "l", *canvasLink, "canvas-file-link (shorthand)")
	removeCanvas := fs.Bool("remove-canvas", envBool("WELLENBRECHER_REMOVE_CANVAS", false), "delete the shared canvas and exit")
	noBanner := fs.Bool("no-banner", envBool("WELLENBRECHER_NO_BANNER", false), "suppress the startup banner")
	logLevel := fs.String("log-level", envString("WELLENBRECHER_LOG_LEVEL", "info"), "debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", envString("WELLENBRECHER_METRICS_ADDR", ""), "optional HTTP address serving a JSON metrics snapshot")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Width:            uint32(*width),
		Height:           uint32(*height),
		Port:             *port,
		Threads:          *threads,
		ConnectionsPerIP: *connsPerIP,
		BufferSize:       *buffer,
		IOURingSize:      uint32(*ioURingSize),
		TCPAcceptBacklog: *backlog,
		CanvasFileLink:   *canvasLink,
		RemoveCanvas:     *removeCanvas,
		NoBanner:         *noBanner,
		LogLevel:         *logLevel,
		MetricsAddr:      *metricsAddr,
	}

	var err error
	cfg.IPv4Mask, err = parseIPv4Mask(*ipv4Mask)
	if err != nil {
		return Config{}, err
	}
	cfg.IPv6Mask, err = parseIPv6Mask(*ipv6Mask)
	if err != nil {
		return Config{}, err
	}

	if cfg.Threads == 0 {
		cfg.Threads = defaultThreadCount()
	}

	return cfg, cfg.validate()
}

func defaultThreadCount() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	return n
}

func (c Config) validate() error {
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("config: width and height must be >= 1")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.Threads < 1 {
		return fmt.Errorf("config: threads must be >= 1")
	}
	if c.BufferSize < 64 {
		return fmt.Errorf("config: buffer must be >= 64 bytes")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log-level %q", c.LogLevel)
	}
	return nil
}

// LogLevelValue maps the parsed --log-level string to logging.LogLevel.
func (c Config) LogLevelValue() logging.LogLevel {
	switch c.LogLevel {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func parseIPv4Mask(s string) ([4]byte, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return [4]byte{}, fmt.Errorf("config: invalid ipv4-mask %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return [4]byte{}, fmt.Errorf("config: ipv4-mask %q is not an IPv4 address", s)
	}
	return [4]byte{v4[0], v4[1], v4[2], v4[3]}, nil
}

func parseIPv6Mask(s string) ([16]byte, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return [16]byte{}, fmt.Errorf("config: invalid ipv6-mask %q", s)
	}
	v6 := ip.To16()
	var out [16]byte
	copy(out[:], v6)
	return out, nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func envUint(key string, fallback uint) uint {
	if v, ok := os.LookupEnv(key); ok {
		var n uint
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		return v == "1" || v == "true" || v == "TRUE"
	}
	return fallback
}
