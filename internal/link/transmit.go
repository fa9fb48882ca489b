package link

import (
	"context"
	"time"

	"github.com/danmuck/lanelink/internal/observability"
	"github.com/danmuck/lanelink/internal/protocol/route"
	"github.com/danmuck/lanelink/internal/protocol/word"
)

// txEntry is one rung of the priority ladder: a pending predicate over the
// class counters and the action that builds, routes, and sends the frame.
type txEntry struct {
	class   string
	pending func() bool
	send    func() error
}

// transmitLoop services at most one request per cycle, highest priority
// first: run-control, register, command, data. Serviced counters live in
// this goroutine only. A failed send leaves the serviced counter behind so
// the same request is retried on the next pass.
func (l *Link) transmitLoop(ctx context.Context) {
	defer l.wg.Done()

	var runServed, regServed, cmdServed, dataServed uint32

	ladder := []txEntry{
		{
			class:   "run",
			pending: func() bool { return runServed != l.run.req.Load() },
			send: func() error {
				op := l.runOp
				addr, err := l.commandRoute(op)
				if err != nil {
					return err
				}
				if _, err := l.dev.Send(word.EncodeCommand(op), addr.Lane, addr.VC); err != nil {
					return err
				}
				runServed = l.run.req.Load()
				observability.RecordFrameTx("run")
				return nil
			},
		},
		{
			class:   "register",
			pending: func() bool { return regServed != l.reg.req.Load() },
			send: func() error {
				r := l.regReq
				frame, err := word.EncodeRegister(l.cfg.Scheme, l.cfg.Context, r, l.cfg.Limits)
				if err != nil {
					// Validated at post time; an encode failure here can
					// never transmit, so resolve the request as failed
					// instead of wedging the class.
					l.log.Error().Err(err).Msg("register encode failed")
					for i := range r.Data {
						r.Data[i] = SentinelFill
					}
					r.Status = SentinelFill
					regServed = l.reg.req.Load()
					l.reg.complete()
					return nil
				}

				l.pending.Store(&regPending{
					hdr0:  frame[0],
					hdr1:  frame[1],
					size:  r.Size(),
					entry: r,
				})

				var addr route.Address
				if l.cfg.Scheme == route.SchemeConfig {
					addr, err = l.cfg.Routing.For(route.ClassRegister)
					if err != nil {
						return err
					}
				} else {
					addr = route.RegisterAddress(r.Address)
				}
				if _, err := l.dev.Send(frame, addr.Lane, addr.VC); err != nil {
					return err
				}
				regServed = l.reg.req.Load()
				observability.RecordFrameTx("register")
				return nil
			},
		},
		{
			class:   "command",
			pending: func() bool { return cmdServed != l.cmd.req.Load() },
			send: func() error {
				op := l.cmdOp
				addr, err := l.commandRoute(op)
				if err != nil {
					return err
				}
				if _, err := l.dev.Send(word.EncodeCommand(op), addr.Lane, addr.VC); err != nil {
					return err
				}
				cmdServed = l.cmd.req.Load()
				l.cmd.complete()
				observability.RecordFrameTx("command")
				return nil
			},
		},
		{
			class:   "data",
			pending: func() bool { return dataServed != l.data.req.Load() },
			send: func() error {
				var addr route.Address
				var err error
				if l.cfg.Scheme == route.SchemeConfig {
					addr, err = l.cfg.Routing.For(route.ClassData)
					if err != nil {
						return err
					}
				} else {
					addr = route.DataAddress(l.dataRouting)
				}
				if _, err := l.dev.Send(l.dataBuf, addr.Lane, addr.VC); err != nil {
					return err
				}
				dataServed = l.data.req.Load()
				l.data.complete()
				observability.RecordFrameTx("data")
				return nil
			},
		},
	}

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		serviced := false
		for _, e := range ladder {
			if !e.pending() {
				continue
			}
			if err := e.send(); err != nil {
				// Dropped this cycle; the serviced counter did not move,
				// the next pass retries.
				observability.RecordTransmitRetry()
				l.log.Warn().Err(err).Str("class", e.class).Msg("transmit failed")
				break
			}
			serviced = true
			break
		}
		if serviced {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-l.txWake:
		case <-ticker.C:
		}
	}
}

func (l *Link) commandRoute(op uint32) (route.Address, error) {
	if l.cfg.Scheme == route.SchemeConfig {
		return l.cfg.Routing.For(route.ClassCommand)
	}
	return route.CommandAddress(op), nil
}
