package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/lanelink/internal/protocol/route"
)

// LoopbackDevice selects the in-memory device pair instead of a character
// device, for hardware-free runs.
const LoopbackDevice = "loopback"

// LinkConfig is the on-disk link configuration.
type LinkConfig struct {
	Device         string `toml:"device"`
	Scheme         string `toml:"scheme"`
	Routing        uint32 `toml:"routing"`
	SourceMask     uint32 `toml:"source_mask"`
	Context        uint32 `toml:"context"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
	MaxFrameWords  int    `toml:"max_frame_words"`
}

// MonitorConfig is the lanemon HTTP surface configuration.
type MonitorConfig struct {
	Addr        string     `toml:"addr"`
	CorsOrigins []string   `toml:"cors_origins"`
	Link        LinkConfig `toml:"link"`
}

func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		Device:         LoopbackDevice,
		Scheme:         "derived",
		PollIntervalMS: 1,
		MaxFrameWords:  2048,
	}
}

func LoadLinkConfig(path string) (LinkConfig, error) {
	cfg := DefaultLinkConfig()
	if err := loadToml(path, &cfg); err != nil {
		return LinkConfig{}, err
	}
	if err := ValidateLinkConfig(cfg); err != nil {
		return LinkConfig{}, err
	}
	return cfg, nil
}

func LoadMonitorConfig(path string) (MonitorConfig, error) {
	cfg := MonitorConfig{
		Addr: ":9400",
		Link: DefaultLinkConfig(),
	}
	if err := loadToml(path, &cfg); err != nil {
		return MonitorConfig{}, err
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return MonitorConfig{}, fmt.Errorf("monitor config missing addr")
	}
	if err := ValidateLinkConfig(cfg.Link); err != nil {
		return MonitorConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateLinkConfig(cfg LinkConfig) error {
	if strings.TrimSpace(cfg.Device) == "" {
		return fmt.Errorf("link config missing device")
	}
	if _, err := ParseScheme(cfg.Scheme); err != nil {
		return err
	}
	if cfg.PollIntervalMS <= 0 {
		return fmt.Errorf("link config poll_interval_ms must be positive")
	}
	if cfg.MaxFrameWords < 4 {
		return fmt.Errorf("link config max_frame_words must be at least 4")
	}
	return nil
}

// ParseScheme maps the config string onto a routing scheme.
func ParseScheme(raw string) (route.Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "config", "mask":
		return route.SchemeConfig, nil
	case "derived", "content":
		return route.SchemeDerived, nil
	default:
		return 0, fmt.Errorf("link config unknown scheme %q", raw)
	}
}

func (c LinkConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}
