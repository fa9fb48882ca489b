package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/danmuck/lanelink/internal/config"
	"github.com/danmuck/lanelink/internal/link"
	"github.com/danmuck/lanelink/internal/linkio"
	"github.com/danmuck/lanelink/internal/logging"
	"github.com/danmuck/lanelink/internal/observability"
	"github.com/danmuck/lanelink/internal/protocol/route"
	"github.com/danmuck/lanelink/internal/protocol/word"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lanemon: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logging.ConfigureRuntime()

	cfgPath := flag.String("config", "", "path to a lanemon TOML config")
	addr := flag.String("addr", "", "listen address override")
	flag.Parse()

	cfg := config.MonitorConfig{Addr: ":9400", Link: config.DefaultLinkConfig()}
	if *cfgPath != "" {
		loaded, err := config.LoadMonitorConfig(*cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	logger := observability.InitLogger("lanemon")
	observability.RegisterMetrics()

	scheme, err := config.ParseScheme(cfg.Link.Scheme)
	if err != nil {
		return err
	}

	var dev linkio.Device
	if cfg.Link.Device == config.LoopbackDevice {
		dev, _ = linkio.NewLoopbackPair()
	} else {
		dev, err = linkio.OpenCharDevice(cfg.Link.Device)
		if err != nil {
			return err
		}
	}

	l, err := link.Open(dev, link.Config{
		Scheme:       scheme,
		Routing:      route.Config(cfg.Link.Routing),
		SourceMask:   route.SourceMask(cfg.Link.SourceMask),
		Context:      cfg.Link.Context,
		PollInterval: cfg.Link.PollInterval(),
		Limits:       word.Limits{MaxFrameWords: cfg.Link.MaxFrameWords},
		Logger:       &logger,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(logger))
	router.Use(observability.RequestMetrics())

	corsCfg := cors.DefaultConfig()
	if len(cfg.CorsOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.CorsOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	router.Use(cors.New(corsCfg))

	m := &monitor{
		link:    l,
		cfg:     cfg,
		scheme:  scheme,
		started: time.Now(),
	}
	m.registerRoutes(router)

	logger.Info().Str("addr", cfg.Addr).Str("device", cfg.Link.Device).Msg("lanemon listening")
	return router.Run(cfg.Addr)
}
