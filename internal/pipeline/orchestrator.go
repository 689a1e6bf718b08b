package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/provider"
	"github.com/voxwire/voxwire/internal/settings"
)

// defaultSystemPrompt is used when no system prompt is configured.
const defaultSystemPrompt = "Respond naturally and conversationally. Be concise."

// shortAnswerHint is appended to the user turn when the client asked for a
// brief spoken reply and no custom system prompt overrides response style.
const shortAnswerHint = "\n\n[Respond concisely and naturally for voice conversation]"

// safeSentence replaces a streamed sentence that output moderation flagged.
const safeSentence = "Let's talk about something else."

// ErrFlagged is returned by [Orchestrator.Respond] when input moderation
// flags the user utterance. Callers present a fixed refusal instead of a
// model response.
var ErrFlagged = errors.New("pipeline: utterance flagged by moderation")

// Sink receives the events produced while generating one response. The
// orchestrator calls it from multiple goroutines (token loop and TTS
// workers), so implementations must be safe for concurrent use and must not
// block for long; a session implements Sink by enqueuing outbound frames.
type Sink interface {
	// FirstToken fires once, with the first streamed token and the latency
	// from request start.
	FirstToken(token string, latency time.Duration)

	// Token fires per streamed token with the accumulated text so far.
	Token(token, accumulated string)

	// AudioChunk delivers one synthesized sentence. seq is the sentence's
	// position in the response, starting at 1; with completion-order
	// delivery seqs may arrive out of order.
	AudioChunk(seq int, audio []byte, text string, synthesis time.Duration)

	// ChunkError reports a failed synthesis for one sentence. The rest of
	// the response continues.
	ChunkError(seq int, text string, err error)

	// ResultLLM delivers the complete response text.
	ResultLLM(text string)

	// TTSEnd fires after the last audio chunk of an uncancelled response.
	TTSEnd(totalChunks int)

	// Cancelled fires instead of TTSEnd when the response was interrupted.
	Cancelled(reason string)

	// PipelineComplete fires once all processing for the utterance is done.
	PipelineComplete()
}

// Result summarises one completed response for persistence and metrics.
type Result struct {
	// Text is the full response text.
	Text string

	// Sentences is the number of sentences submitted for synthesis.
	Sentences int

	// FirstTokenLatency is the time to the first streamed token.
	FirstTokenLatency time.Duration

	// Duration is the time from request start to the final token.
	Duration time.Duration

	// Cancelled reports whether the response was interrupted.
	Cancelled bool
}

// Request describes one utterance to respond to.
type Request struct {
	// UserText is the transcribed user utterance.
	UserText string

	// History is the prior conversation, oldest first, without the system
	// message or the current utterance.
	History []provider.Message

	// PreferShortAnswer is the client's hint to keep the spoken reply brief.
	PreferShortAnswer bool

	// CancelReason is reported through [Sink.Cancelled] when the context is
	// cancelled mid-response. Empty means "user_request".
	CancelReason string
}

// Orchestrator turns a transcribed utterance into a token stream and
// parallel sentence synthesis. One orchestrator serves all sessions; state
// for a single response lives on the stack of [Orchestrator.Respond].
type Orchestrator struct {
	adapter  provider.Adapter
	pool     *TTSPool
	settings *settings.Cache

	// inOrder switches audio delivery from completion order (default, lower
	// latency when sentence lengths vary) to strict sequence order.
	inOrder bool

	// moderate enables a content policy check on the user utterance before
	// the chat call.
	moderate bool
}

// NewOrchestrator wires an Orchestrator. pool is shared across sessions.
func NewOrchestrator(adapter provider.Adapter, pool *TTSPool, cache *settings.Cache, inOrder, moderate bool) *Orchestrator {
	return &Orchestrator{
		adapter:  adapter,
		pool:     pool,
		settings: cache,
		inOrder:  inOrder,
		moderate: moderate,
	}
}

// Respond streams a chat completion for req, segmenting it into sentences
// and synthesizing them in parallel. It blocks until every event has been
// delivered to sink, or until ctx is cancelled (barge-in), in which case
// sink.Cancelled fires and queued synthesis is abandoned.
func (o *Orchestrator) Respond(ctx context.Context, req Request, sink Sink) (Result, error) {
	metrics := observe.DefaultMetrics()

	if o.moderate {
		mod, err := o.adapter.Moderate(ctx, req.UserText)
		if err != nil {
			// Moderation is advisory; an upstream failure must not mute the
			// assistant.
			observe.Logger(ctx).Warn("moderation check failed", "error", err)
		} else if mod.Flagged {
			return Result{}, fmt.Errorf("%w (%s)", ErrFlagged, strings.Join(mod.Categories, ", "))
		}
	}

	chatReq := o.buildRequest(ctx, req)

	start := time.Now()
	stream, err := o.adapter.ChatStream(ctx, chatReq)
	if err != nil {
		metrics.RecordProviderError(ctx, "chat")
		return Result{}, fmt.Errorf("pipeline: start chat stream: %w", err)
	}

	var (
		seg       = NewSegmenter()
		full      strings.Builder
		res       Result
		wg        sync.WaitGroup
		deliver   = o.newDeliverer(sink)
		seq       int
		streamErr error
	)

	submit := func(sentence string) {
		if o.moderate {
			if mod, err := o.adapter.Moderate(ctx, sentence); err != nil {
				observe.Logger(ctx).Warn("output moderation check failed", "error", err)
			} else if mod.Flagged {
				observe.Logger(ctx).Warn("flagged sentence replaced", "categories", strings.Join(mod.Categories, ","))
				sentence = safeSentence
			}
		}

		seq++
		s := seq
		wg.Add(1)
		ok := o.pool.Submit(ctx, s, sentence, func(seq int, audio []byte, synthesis time.Duration, err error) {
			defer wg.Done()
			if err != nil {
				if ctx.Err() == nil {
					metrics.RecordProviderError(ctx, "tts")
					sink.ChunkError(seq, sentence, err)
				}
				deliver.skip(seq)
				return
			}
			deliver.done(seq, audio, sentence, synthesis)
		})
		if !ok {
			wg.Done()
			deliver.skip(s)
			if ctx.Err() == nil {
				sink.ChunkError(s, sentence, fmt.Errorf("pipeline: synthesis queue full"))
			}
		}
	}

stream:
	for {
		select {
		case <-ctx.Done():
			break stream
		case tok, ok := <-stream:
			if !ok {
				break stream
			}
			if tok.Err != nil {
				streamErr = tok.Err
				break stream
			}

			if res.FirstTokenLatency == 0 {
				res.FirstTokenLatency = time.Since(start)
				metrics.FirstTokenDuration.Record(ctx, res.FirstTokenLatency.Seconds())
				sink.FirstToken(tok.Text, res.FirstTokenLatency)
			}
			full.WriteString(tok.Text)
			sink.Token(tok.Text, full.String())

			for _, sentence := range seg.Push(tok.Text) {
				submit(sentence)
			}
		}
	}

	if streamErr != nil {
		res.Text = full.String()
		wg.Wait()
		metrics.RecordProviderError(ctx, "chat")
		return res, fmt.Errorf("pipeline: chat stream: %w", streamErr)
	}

	if ctx.Err() == nil {
		if rest := seg.Flush(); rest != "" {
			submit(rest)
		}
		res.Duration = time.Since(start)
		metrics.LLMDuration.Record(ctx, res.Duration.Seconds())
		sink.ResultLLM(full.String())
	}

	// Wait for in-flight synthesis. On cancellation workers bail out fast
	// because every queued job carries the response context.
	wg.Wait()

	res.Text = full.String()
	res.Sentences = seq

	if ctx.Err() != nil {
		res.Cancelled = true
		metrics.Interruptions.Add(context.WithoutCancel(ctx), 1)
		reason := req.CancelReason
		if reason == "" {
			reason = "user_request"
		}
		sink.Cancelled(reason)
		return res, nil
	}

	metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	sink.TTSEnd(seq)
	sink.PipelineComplete()
	return res, nil
}

// buildRequest assembles the chat request from settings and the utterance.
func (o *Orchestrator) buildRequest(ctx context.Context, req Request) provider.ChatRequest {
	system := o.settings.SystemPrompt(ctx)
	userText := req.UserText
	if system == "" {
		system = defaultSystemPrompt
		if req.PreferShortAnswer {
			userText += shortAnswerHint
		}
	}

	messages := make([]provider.Message, 0, len(req.History)+2)
	messages = append(messages, provider.Message{Role: "system", Content: system})
	messages = append(messages, req.History...)
	messages = append(messages, provider.Message{Role: "user", Content: userText})

	return provider.ChatRequest{
		Model:       o.settings.ChatModel(ctx),
		Messages:    messages,
		MaxTokens:   o.settings.MaxTokens(ctx),
		Temperature: o.settings.Temperature(ctx),
	}
}

// deliverer routes finished audio chunks to the sink, either as they
// complete or reordered into sequence.
type deliverer interface {
	done(seq int, audio []byte, text string, synthesis time.Duration)
	skip(seq int)
}

func (o *Orchestrator) newDeliverer(sink Sink) deliverer {
	if o.inOrder {
		return &orderedDeliverer{sink: sink, next: 1, pending: make(map[int]chunkResult)}
	}
	return completionDeliverer{sink: sink}
}

// completionDeliverer emits chunks the moment they finish. Clients sort or
// queue by seq.
type completionDeliverer struct {
	sink Sink
}

func (d completionDeliverer) done(seq int, audio []byte, text string, synthesis time.Duration) {
	d.sink.AudioChunk(seq, audio, text, synthesis)
}

func (completionDeliverer) skip(int) {}

// chunkResult is a finished chunk awaiting in-order release.
type chunkResult struct {
	audio     []byte
	text      string
	synthesis time.Duration
	skip      bool
}

// orderedDeliverer holds finished chunks until all predecessors have been
// emitted. Failed chunks are skipped without blocking their successors.
// next starts at 1, matching the first sequence ID.
type orderedDeliverer struct {
	sink Sink

	mu      sync.Mutex
	next    int
	pending map[int]chunkResult
}

func (d *orderedDeliverer) done(seq int, audio []byte, text string, synthesis time.Duration) {
	d.release(seq, chunkResult{audio: audio, text: text, synthesis: synthesis})
}

func (d *orderedDeliverer) skip(seq int) {
	d.release(seq, chunkResult{skip: true})
}

func (d *orderedDeliverer) release(seq int, res chunkResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[seq] = res
	for {
		res, ok := d.pending[d.next]
		if !ok {
			return
		}
		delete(d.pending, d.next)
		if !res.skip {
			d.sink.AudioChunk(d.next, res.audio, res.text, res.synthesis)
		}
		d.next++
	}
}
