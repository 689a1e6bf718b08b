// Package partial produces low-latency partial transcriptions from a rolling
// window of inbound audio chunks.
//
// The upstream transcription API is batch-only, so streaming behaviour is
// simulated: chunks received while the client is silent fill a pre-roll
// ring, which drains into a bounded window on the first speech chunk, and a
// ticker periodically submits the window as one buffer. All state is
// confined to a single goroutine; callers interact through channels only.
package partial

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/provider"
)

// Defaults match the chunk cadence of browser MediaRecorder clients sending
// roughly four chunks per second.
const (
	DefaultPreroll     = 5
	DefaultWindow      = 6
	DefaultMinInterval = 500 * time.Millisecond
	DefaultTick        = 50 * time.Millisecond

	// pushBuffer bounds the inbound chunk channel. When the loop falls
	// behind (a transcription call in flight), excess chunks are dropped
	// rather than blocking the session reader.
	pushBuffer = 64
)

// Config tunes a [Pipeline]. Zero values take the package defaults.
type Config struct {
	// Preroll is the number of pre-speech chunks retained for context.
	Preroll int

	// Window is the maximum number of speech chunks per transcription.
	Window int

	// MinInterval is the minimum spacing between transcription calls.
	MinInterval time.Duration

	// Tick is the scheduler period.
	Tick time.Duration

	// OnError receives transcription failures. Failures are swallowed either
	// way; the callback exists so the session can surface the last error in
	// its metrics. Runs on the pipeline goroutine and must not block.
	OnError func(err error)
}

func (c *Config) applyDefaults() {
	if c.Preroll <= 0 {
		c.Preroll = DefaultPreroll
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
}

type chunk struct {
	data     []byte
	speaking bool
}

// Pipeline emits partial transcriptions through its callback. Transcription
// failures are swallowed: a partial is a hint, not state the client depends
// on, so the next tick simply tries again.
type Pipeline struct {
	adapter   provider.Adapter
	cfg       Config
	onPartial func(text string)

	pushCh  chan chunk
	resetCh chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// New starts a Pipeline delivering partial transcripts to onPartial. The
// callback runs on the pipeline goroutine and must not block.
func New(adapter provider.Adapter, cfg Config, onPartial func(text string)) *Pipeline {
	cfg.applyDefaults()
	if onPartial == nil {
		onPartial = func(string) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		adapter:   adapter,
		cfg:       cfg,
		onPartial: onPartial,
		pushCh:    make(chan chunk, pushBuffer),
		resetCh:   make(chan struct{}, 1),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go p.loop(ctx)
	return p
}

// Push hands one audio chunk to the pipeline. speaking reports whether the
// client currently detects voice activity. Push never blocks; chunks are
// dropped when the pipeline is saturated.
func (p *Pipeline) Push(data []byte, speaking bool) {
	select {
	case p.pushCh <- chunk{data: data, speaking: speaking}:
	default:
	}
}

// Reset discards all buffered audio. Called after a final transcription so
// the next utterance starts clean.
func (p *Pipeline) Reset() {
	select {
	case p.resetCh <- struct{}{}:
	default:
	}
}

// Stop terminates the pipeline goroutine and waits for it to exit. No
// callbacks are delivered after Stop returns.
func (p *Pipeline) Stop() {
	p.cancel()
	<-p.done
}

func (p *Pipeline) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()

	var (
		preroll     [][]byte
		window      [][]byte
		dirty       bool
		lastAttempt time.Time
	)

	reset := func() {
		preroll = nil
		window = nil
		dirty = false
	}

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-p.pushCh:
			if c.speaking {
				// The pre-roll drains into the window on the first speech
				// chunk, so the transcription hears the lead-in audio.
				if len(preroll) > 0 {
					window = append(window, preroll...)
					preroll = nil
				}
				window = append(window, c.data)
				if len(window) > p.cfg.Window {
					window = window[len(window)-p.cfg.Window:]
				}
				dirty = true
			} else {
				preroll = append(preroll, c.data)
				if len(preroll) > p.cfg.Preroll {
					preroll = preroll[len(preroll)-p.cfg.Preroll:]
				}
			}

		case <-p.resetCh:
			reset()
			// The throttle clears with the buffers, so the next utterance's
			// first partial is not delayed by the previous one's last attempt.
			lastAttempt = time.Time{}

		case <-ticker.C:
			if !dirty || len(window) == 0 {
				continue
			}
			if time.Since(lastAttempt) < p.cfg.MinInterval {
				continue
			}
			lastAttempt = time.Now()
			dirty = false

			var buf bytes.Buffer
			for _, c := range window {
				buf.Write(c)
			}

			start := time.Now()
			text, err := p.adapter.Transcribe(ctx, buf.Bytes(), "partial.webm")
			if err != nil {
				if ctx.Err() == nil {
					observe.Logger(ctx).Debug("partial transcription failed", "error", err)
					if p.cfg.OnError != nil {
						p.cfg.OnError(err)
					}
				}
				continue
			}
			observe.DefaultMetrics().STTDuration.Record(ctx, time.Since(start).Seconds())

			if text = strings.TrimSpace(text); text != "" {
				p.onPartial(text)
			}
		}
	}
}
