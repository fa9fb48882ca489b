package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

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
		fmt.Fprintf(os.Stderr, "lanectl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logging.ConfigureRuntime()

	var (
		cfgPath = flag.String("config", "", "path to a lanectl TOML config")
		op      = flag.String("op", "read", "operation: read, write, command, run, data")
		addr    = flag.String("addr", "0x0", "register address (read/write)")
		values  = flag.String("values", "", "comma-separated hex words (write/data)")
		size    = flag.Int("size", 1, "read size in words")
		opcode  = flag.String("opcode", "0x0", "opcode (command/run)")
		routing = flag.String("routing", "0x21", "one-hot data routing word (data, derived scheme)")
		wait    = flag.Duration("wait", 5*time.Second, "response wait bound")
	)
	flag.Parse()

	opts := defaultOptions()
	if *cfgPath != "" {
		loaded, err := loadOptions(*cfgPath)
		if err != nil {
			return err
		}
		opts = loaded
	}

	addrWord, err := parseWord(*addr)
	if err != nil {
		return fmt.Errorf("parse addr: %w", err)
	}
	opWord, err := parseWord(*opcode)
	if err != nil {
		return fmt.Errorf("parse opcode: %w", err)
	}
	routingWord, err := parseWord(*routing)
	if err != nil {
		return fmt.Errorf("parse routing: %w", err)
	}
	payload, err := parseWords(*values)
	if err != nil {
		return fmt.Errorf("parse values: %w", err)
	}

	logger := observability.InitLogger("lanectl")

	dev, peer, err := openDevice(opts, opWord, logger)
	if err != nil {
		return err
	}
	if peer != nil {
		go peer.run()
		defer peer.halt()
	}

	l, err := link.Open(dev, link.Config{
		Scheme:       opts.scheme,
		Routing:      opts.routing,
		SourceMask:   opts.sourceMask,
		Context:      opts.context,
		PollInterval: opts.pollInterval,
		Limits:       word.Limits{MaxFrameWords: opts.maxFrameWords},
		Logger:       &logger,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()

	switch strings.ToLower(*op) {
	case "read":
		reg := &word.Register{Address: addrWord, Data: make([]uint32, *size)}
		if err := l.PostRegister(ctx, reg); err != nil {
			return fmt.Errorf("register read: %w", err)
		}
		fmt.Printf("read addr=0x%08X status=0x%08X\n", addrWord, reg.Status)
		for i, v := range reg.Data {
			fmt.Printf("  [%d] 0x%08X\n", i, v)
		}

	case "write":
		if len(payload) == 0 {
			return fmt.Errorf("write requires -values")
		}
		reg := &word.Register{Address: addrWord, Data: payload, IsWrite: true}
		if err := l.PostRegister(ctx, reg); err != nil {
			return fmt.Errorf("register write: %w", err)
		}
		fmt.Printf("write addr=0x%08X words=%d status=0x%08X\n", addrWord, len(payload), reg.Status)

	case "command":
		if err := l.PostCommand(opWord); err != nil {
			return fmt.Errorf("command: %w", err)
		}
		fmt.Printf("command opcode=0x%08X posted\n", opWord)

	case "run":
		if err := l.PostRun(opWord); err != nil {
			return fmt.Errorf("run opcode: %w", err)
		}
		fmt.Printf("run opcode=0x%08X posted\n", opWord)

	case "data":
		if len(payload) == 0 {
			return fmt.Errorf("data requires -values")
		}
		if err := l.PostData(payload, routingWord); err != nil {
			return fmt.Errorf("data: %w", err)
		}
		fmt.Printf("data frame words=%d posted\n", len(payload))
		// The loopback peer echoes data frames straight back.
		if opts.device == config.LoopbackDevice {
			frame, err := l.NextData(ctx)
			if err != nil {
				return fmt.Errorf("data echo: %w", err)
			}
			fmt.Printf("echo lane=%d vc=%d words=%v\n", frame.Lane, frame.VC, frame.Payload)
		}

	default:
		return fmt.Errorf("unknown op %q", *op)
	}

	// Give fire-and-forget frames a moment to clear the scheduler.
	time.Sleep(2 * opts.pollInterval)
	tallies := l.Tallies()
	fmt.Printf("tallies errors=%d unexpected=%d\n", tallies.ErrorCount, tallies.UnexpectedCount)
	return nil
}

func openDevice(opts options, opWord uint32, logger zerolog.Logger) (linkio.Device, *echoPeer, error) {
	if opts.device != config.LoopbackDevice {
		dev, err := linkio.OpenCharDevice(opts.device)
		if err != nil {
			return nil, nil, err
		}
		return dev, nil, nil
	}

	near, far := linkio.NewLoopbackPair()
	cmdAddr, cmdKnown := commandAddress(opts, opWord)
	peer := newEchoPeer(far, opts, cmdAddr, cmdKnown, logger)
	return near, peer, nil
}

// commandAddress works out where command frames will land so the echo
// peer can tell them apart from register traffic.
func commandAddress(opts options, opWord uint32) (route.Address, bool) {
	if opts.scheme == route.SchemeConfig {
		addr, err := opts.routing.For(route.ClassCommand)
		return addr, err == nil
	}
	return route.CommandAddress(opWord), true
}

func parseWord(raw string) (uint32, error) {
	raw = strings.TrimSpace(raw)
	v, err := strconv.ParseUint(raw, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func parseWords(raw string) ([]uint32, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		v, err := parseWord(p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
