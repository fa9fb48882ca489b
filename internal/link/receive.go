package link

import (
	"context"
	"time"

	"github.com/danmuck/lanelink/internal/linkio"
	"github.com/danmuck/lanelink/internal/observability"
	"github.com/danmuck/lanelink/internal/protocol/word"
)

// receiveLoop polls the device with a bounded idle wait so cancellation is
// observed within one poll interval. Frames are tallied and discarded on
// driver errors, queued when their lane/VC pair sits inside the data
// source mask, and otherwise handed to the correlator.
func (l *Link) receiveLoop(ctx context.Context) {
	defer l.wg.Done()

	buf := make([]uint32, l.cfg.Limits.MaxFrameWords)
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		info, err := l.dev.Recv(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Warn().Err(err).Msg("receive failed")
			l.idleWait(ctx, ticker)
			continue
		}
		if info.Words <= 0 {
			l.idleWait(ctx, ticker)
			continue
		}

		if info.Words < word.MinControlWords || info.EOFE || info.FifoErr || info.LengthErr {
			l.errorCount.Add(1)
			observability.RecordFrameError()
			l.log.Debug().
				Int("words", info.Words).
				Uint32("lane", info.Lane).
				Uint32("vc", info.VC).
				Bool("eofe", info.EOFE).
				Bool("fifo_err", info.FifoErr).
				Bool("length_err", info.LengthErr).
				Msg("frame error, discarded")
			continue
		}

		if l.cfg.SourceMask.Matches(info.Lane, info.VC) {
			payload := make([]uint32, info.Words)
			copy(payload, buf[:info.Words])
			l.enqueueData(DataFrame{Payload: payload, Lane: info.Lane, VC: info.VC})
			observability.RecordFrameRx("data")
			continue
		}

		l.correlate(buf[:info.Words], info)
	}
}

// correlate matches one control frame against the outstanding register
// request. The header words and the body size must both match exactly;
// anything else is tallied and dropped, and the outstanding request stays
// outstanding.
func (l *Link) correlate(frame []uint32, info linkio.RecvInfo) {
	p := l.pending.Load()
	if p != nil && !l.reg.idle() && word.HeaderMatches(frame, p.hdr0, p.hdr1) {
		resp, err := word.DecodeResponse(frame, p.size)
		if err == nil {
			if !p.entry.IsWrite {
				if resp.Status == 0 {
					copy(p.entry.Data, resp.Payload)
				} else {
					for i := range p.entry.Data {
						p.entry.Data[i] = SentinelFill
					}
				}
			}
			p.entry.Status = resp.Status
			observability.RecordFrameRx("control")
			l.reg.complete()
			return
		}
	}

	l.unexpCount.Add(1)
	observability.RecordUnexpectedFrame()
	ev := l.log.Debug().
		Int("words", len(frame)).
		Uint32("lane", info.Lane).
		Uint32("vc", info.VC).
		Uint32("got_word0", frame[0]).
		Uint32("got_word1", frame[1])
	if p != nil {
		ev = ev.
			Uint32("want_word0", p.hdr0).
			Uint32("want_word1", p.hdr1).
			Int("want_size", p.size).
			Int("got_size", len(frame)-3)
	}
	ev.Msg("unexpected control frame, discarded")
}

func (l *Link) idleWait(ctx context.Context, ticker *time.Ticker) {
	select {
	case <-ctx.Done():
	case <-ticker.C:
	}
}
