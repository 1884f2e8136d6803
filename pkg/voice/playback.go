package voice

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/audio"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/gateway"
)

// pacer writes reply PCM into the outbound sink at its absorption rate.
// Backends may resume sending audio after the sink has died or the player
// has gone idle, so liveness is verified before every write and the sink is
// lazily recreated.
type pacer struct {
	conn      gateway.Connection
	srcFormat audio.Format
	logger    *slog.Logger

	queue    chan []byte
	stop     chan struct{}
	stopOnce sync.Once

	sinkMu sync.Mutex
	sink   gateway.Sink

	lastAudioNanos atomic.Int64
	echoWindow     time.Duration
}

func newPacer(conn gateway.Connection, sink gateway.Sink, srcFormat audio.Format, echoWindow time.Duration, logger *slog.Logger) *pacer {
	p := &pacer{
		conn:       conn,
		srcFormat:  srcFormat,
		logger:     logger,
		queue:      make(chan []byte, 256),
		stop:       make(chan struct{}),
		sink:       sink,
		echoWindow: echoWindow,
	}
	go p.run()
	return p
}

// play enqueues one chunk of backend-format reply audio. Dropping is better
// than blocking the session dispatcher when the queue is saturated.
func (p *pacer) play(pcm []byte) {
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	select {
	case <-p.stop:
	case p.queue <- buf:
	default:
		p.logger.Warn("playback queue saturated, dropping chunk",
			slog.Int("bytes", len(pcm)))
	}
}

func (p *pacer) run() {
	for {
		select {
		case <-p.stop:
			return
		case chunk := <-p.queue:
			p.write(chunk)
		}
	}
}

func (p *pacer) write(chunk []byte) {
	sink := p.ensureSink()
	if sink == nil {
		return
	}
	out := audio.Convert(chunk, p.srcFormat, audio.GatewayFormat)
	p.markPlayed(time.Now())
	if err := sink.Write(out); err != nil {
		p.logger.Warn("sink write failed, recreating", slog.String("error", err.Error()))
		p.dropSink()
		if sink = p.ensureSink(); sink != nil {
			if err := sink.Write(out); err != nil {
				p.logger.Warn("sink write failed after recreate", slog.String("error", err.Error()))
			}
		}
	}
	p.markPlayed(time.Now())
}

// markPlayed records assistant audio going out at the given instant.
func (p *pacer) markPlayed(at time.Time) {
	p.lastAudioNanos.Store(at.UnixNano())
}

// ensureSink returns a live sink, recreating it if the previous one ended or
// the player went idle.
func (p *pacer) ensureSink() gateway.Sink {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	if p.sink != nil && p.sink.Alive() {
		return p.sink
	}
	if p.sink != nil {
		p.sink.Close()
		p.sink = nil
	}
	sink, err := p.conn.OpenSink()
	if err != nil {
		p.logger.Warn("sink recreate failed", slog.String("error", err.Error()))
		return nil
	}
	p.sink = sink
	return sink
}

func (p *pacer) dropSink() {
	p.sinkMu.Lock()
	if p.sink != nil {
		p.sink.Close()
		p.sink = nil
	}
	p.sinkMu.Unlock()
}

// lastAudioAt is consumed by the watchdog and by echo suppression.
func (p *pacer) lastAudioAt() time.Time {
	n := p.lastAudioNanos.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// echoActive reports whether assistant audio is playing or played recently
// enough that inbound audio is probably the bot hearing itself.
func (p *pacer) echoActive(now time.Time) bool {
	last := p.lastAudioAt()
	return !last.IsZero() && now.Sub(last) < p.echoWindow
}

func (p *pacer) close() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.dropSink()
}
