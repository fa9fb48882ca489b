package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/lanelink/internal/config"
	"github.com/danmuck/lanelink/internal/protocol/route"
)

type fileConfig struct {
	Device         string `toml:"device"`
	Scheme         string `toml:"scheme"`
	Routing        int64  `toml:"routing"`
	SourceMask     int64  `toml:"source_mask"`
	Context        int64  `toml:"context"`
	PollInterval   string `toml:"poll_interval"`
	PollIntervalMS int64  `toml:"poll_interval_ms"`
	MaxFrameWords  int64  `toml:"max_frame_words"`
}

type options struct {
	device        string
	scheme        route.Scheme
	routing       route.Config
	sourceMask    route.SourceMask
	context       uint32
	pollInterval  time.Duration
	maxFrameWords int
}

func defaultOptions() options {
	return options{
		device:        config.LoopbackDevice,
		scheme:        route.SchemeDerived,
		sourceMask:    route.SourceMask(0b0100<<4 | 0b0001),
		pollInterval:  time.Millisecond,
		maxFrameWords: 2048,
	}
}

func loadOptions(path string) (options, error) {
	opts := defaultOptions()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return options{}, fmt.Errorf("load link config: %w", err)
	}

	if meta.IsDefined("device") {
		device := strings.TrimSpace(raw.Device)
		if device == "" {
			return options{}, fmt.Errorf("device must not be empty")
		}
		opts.device = device
	}

	if meta.IsDefined("scheme") {
		s, err := config.ParseScheme(raw.Scheme)
		if err != nil {
			return options{}, err
		}
		opts.scheme = s
	}

	if meta.IsDefined("routing") {
		if raw.Routing < 0 || raw.Routing > 0xFFFFFFFF {
			return options{}, fmt.Errorf("routing out of range: %d", raw.Routing)
		}
		opts.routing = route.Config(raw.Routing)
	}

	if meta.IsDefined("source_mask") {
		if raw.SourceMask < 0 || raw.SourceMask > 0xFFF {
			return options{}, fmt.Errorf("source_mask out of range: %d", raw.SourceMask)
		}
		opts.sourceMask = route.SourceMask(raw.SourceMask)
	}

	if meta.IsDefined("context") {
		if raw.Context < 0 || raw.Context > 0xFFFFFFFF {
			return options{}, fmt.Errorf("context out of range: %d", raw.Context)
		}
		opts.context = uint32(raw.Context)
	}

	if meta.IsDefined("poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollInterval))
		if err != nil {
			return options{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		if d <= 0 {
			return options{}, fmt.Errorf("poll_interval must be positive")
		}
		opts.pollInterval = d
	}

	if meta.IsDefined("poll_interval_ms") {
		if raw.PollIntervalMS <= 0 {
			return options{}, fmt.Errorf("poll_interval_ms must be positive")
		}
		opts.pollInterval = time.Duration(raw.PollIntervalMS) * time.Millisecond
	}

	if meta.IsDefined("max_frame_words") {
		if raw.MaxFrameWords < 4 {
			return options{}, fmt.Errorf("max_frame_words must be at least 4")
		}
		opts.maxFrameWords = int(raw.MaxFrameWords)
	}

	return opts, nil
}
