package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/provider"
)

// jobQueueDepth bounds queued synthesis jobs across all sessions. A full
// queue rejects the submit rather than blocking the token stream.
const jobQueueDepth = 64

// synthesisJob is one sentence awaiting synthesis.
type synthesisJob struct {
	ctx     context.Context
	text    string
	seq     int
	deliver func(seq int, audio []byte, synthesis time.Duration, err error)
}

// TTSPool is a process-wide pool of synthesis workers shared by all
// sessions. Bounding concurrency here, rather than per session, keeps a
// single chatty client from monopolising upstream TTS capacity.
type TTSPool struct {
	adapter provider.Adapter
	jobs    chan synthesisJob
	group   *errgroup.Group
}

// NewTTSPool starts workers goroutines synthesising through adapter.
func NewTTSPool(adapter provider.Adapter, workers int) *TTSPool {
	if workers <= 0 {
		workers = 1
	}

	p := &TTSPool{
		adapter: adapter,
		jobs:    make(chan synthesisJob, jobQueueDepth),
		group:   &errgroup.Group{},
	}
	for range workers {
		p.group.Go(p.worker)
	}
	return p
}

// Submit queues one sentence for synthesis. deliver is invoked exactly once,
// from a worker goroutine, with either audio or an error; it must be safe
// for concurrent use. Submit reports false, without calling deliver, when
// the queue is full or ctx is already cancelled.
func (p *TTSPool) Submit(ctx context.Context, seq int, text string, deliver func(seq int, audio []byte, synthesis time.Duration, err error)) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case p.jobs <- synthesisJob{ctx: ctx, text: text, seq: seq, deliver: deliver}:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting jobs, drains the queue, and waits for in-flight
// synthesis to finish.
func (p *TTSPool) Shutdown() {
	close(p.jobs)
	_ = p.group.Wait()
}

func (p *TTSPool) worker() error {
	for job := range p.jobs {
		if job.ctx.Err() != nil {
			job.deliver(job.seq, nil, 0, job.ctx.Err())
			continue
		}

		start := time.Now()
		audio, err := p.adapter.Synthesize(job.ctx, job.text)
		elapsed := time.Since(start)
		if err == nil {
			observe.DefaultMetrics().TTSDuration.Record(job.ctx, elapsed.Seconds())
		}
		job.deliver(job.seq, audio, elapsed, err)
	}
	return nil
}
