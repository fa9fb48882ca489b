package main

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/lanelink/internal/linkio"
	"github.com/danmuck/lanelink/internal/protocol/route"
	"github.com/danmuck/lanelink/internal/protocol/word"
)

// echoPeer emulates the far end of the link over the loopback pair: it
// keeps a small register space, acknowledges writes, answers reads, and
// echoes data frames back on their own lane/VC. Commands are logged and
// consumed. Only the loopback device path uses it.
type echoPeer struct {
	dev        *linkio.Loopback
	scheme     route.Scheme
	sourceMask route.SourceMask
	cmdAddr    route.Address
	cmdKnown   bool
	space      map[uint32]uint32
	stop       chan struct{}
	log        zerolog.Logger
}

func newEchoPeer(dev *linkio.Loopback, opts options, cmdAddr route.Address, cmdKnown bool, log zerolog.Logger) *echoPeer {
	return &echoPeer{
		dev:        dev,
		scheme:     opts.scheme,
		sourceMask: opts.sourceMask,
		cmdAddr:    cmdAddr,
		cmdKnown:   cmdKnown,
		space:      make(map[uint32]uint32),
		stop:       make(chan struct{}),
		log:        log.With().Str("role", "echo-peer").Logger(),
	}
}

func (p *echoPeer) run() {
	buf := make([]uint32, 2048)
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		info, err := p.dev.Recv(buf)
		if err != nil {
			return
		}
		if info.Words == 0 {
			time.Sleep(200 * time.Microsecond)
			continue
		}
		frame := buf[:info.Words]

		switch {
		case p.sourceMask.Matches(info.Lane, info.VC):
			p.dev.Inject(frame, info.Lane, info.VC)
		case p.isCommand(info):
			p.log.Info().Uint32("opcode", frame[1]).Msg("command received")
		default:
			p.handleRegister(frame, info)
		}
	}
}

func (p *echoPeer) halt() {
	close(p.stop)
}

// isCommand separates command frames from register traffic by lane/VC.
// Under the derived scheme the command address is only known once the
// opcode is, so the caller supplies it up front.
func (p *echoPeer) isCommand(info linkio.RecvInfo) bool {
	return p.cmdKnown && info.Lane == p.cmdAddr.Lane && info.VC == p.cmdAddr.VC
}

func (p *echoPeer) handleRegister(frame []uint32, info linkio.RecvInfo) {
	if len(frame) < word.MinControlWords {
		return
	}
	isWrite := frame[1]&word.WriteFlag != 0

	var addr uint32
	if p.scheme == route.SchemeConfig {
		addr = (frame[1] &^ word.WriteFlag) << 2
	} else {
		addr = frame[1] &^ word.WriteFlag
	}

	if isWrite {
		for i, v := range frame[2 : len(frame)-1] {
			p.space[addr+uint32(4*i)] = v
		}
		// The request frame doubles as the acknowledgment: same header,
		// same length, zero trailing status.
		p.dev.Inject(frame, info.Lane, info.VC)
		p.log.Debug().Uint32("addr", addr).Int("words", len(frame)-3).Msg("write stored")
		return
	}

	size := int(frame[2]) + 1
	resp := make([]uint32, size+3)
	resp[0] = frame[0]
	resp[1] = frame[1]
	for i := 0; i < size; i++ {
		resp[2+i] = p.space[addr+uint32(4*i)]
	}
	resp[len(resp)-1] = 0
	p.dev.Inject(resp, info.Lane, info.VC)
	p.log.Debug().Uint32("addr", addr).Int("words", size).Msg("read answered")
}
