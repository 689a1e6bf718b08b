package ws

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxwire/voxwire/internal/admit"
	"github.com/voxwire/voxwire/internal/partial"
	"github.com/voxwire/voxwire/internal/pipeline"
	"github.com/voxwire/voxwire/internal/provider"
	"github.com/voxwire/voxwire/internal/store"
)

// outboundBuffer bounds the frame queue between producers (event handler,
// heartbeat, TTS workers) and the single writer goroutine.
const outboundBuffer = 64

// historyTurns is how many recent conversation rows are replayed as chat
// context for each utterance.
const historyTurns = 10

// Fixed texts for the degraded (no credentials) and refusal paths.
const (
	degradedSTTText = "(audio received, transcription unavailable)"
	degradedReply   = "No provider API key is configured. Set OPENAI_API_KEY and restart the server to enable voice responses."
	refusalReply    = "I can't help with that. Let's talk about something else."
)

// MetricsSnapshot is one session's counters, served to the client via the
// metrics event and aggregated by the admin status endpoint.
type MetricsSnapshot struct {
	SessionID      string  `json:"session_id"`
	BytesReceived  int64   `json:"bytes_received"`
	ChunksReceived int64   `json:"chunks_received"`
	STTMS          float64 `json:"stt_ms"`
	LLMMS          float64 `json:"llm_ms"`
	TTSMS          float64 `json:"tts_ms"`
	FirstTokenMS   float64 `json:"first_token_ms"`
	Interruptions  int64   `json:"interruptions"`
	LastError      string  `json:"last_error"`
	LastActivityTS int64   `json:"last_activity_ts"`
}

// utterance is the handle to one in-flight response. At most one exists per
// session. cancelled is set by stop_tts (or disconnect) before the context is
// cancelled, so the sink can suppress frames that race the cancellation.
type utterance struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	cancelled bool
}

// emit runs send under the cancellation lock while the utterance is still
// live. Holding the lock across the enqueue is what keeps tts_cancelled
// ordered before any frame a pipeline worker was about to queue.
func (u *utterance) emit(send func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancelled {
		return
	}
	send()
}

// interrupt marks the utterance cancelled and, on the first call only, runs
// notify under the same lock. Reports whether this call did the marking.
func (u *utterance) interrupt(notify func()) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancelled {
		return false
	}
	u.cancelled = true
	if notify != nil {
		notify()
	}
	return true
}

// Session is the per-connection state machine. Inbound events are handled
// one at a time on the read loop; everything written to the client funnels
// through the outbound channel into a single writer goroutine.
type Session struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	log  *slog.Logger

	bucket  *admit.Bucket
	partial *partial.Pipeline // nil without credentials

	outbound  chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	// buffer holds admitted audio chunks for the current utterance. Only the
	// read loop touches it.
	buffer [][]byte

	mu      sync.Mutex
	metrics MetricsSnapshot
	current *utterance
}

func newSession(hub *Hub, id string, conn *websocket.Conn) *Session {
	s := &Session{
		id:       id,
		hub:      hub,
		conn:     conn,
		log:      hub.log.With("session_id", id),
		bucket:   admit.NewBucket(hub.cfg.Pipeline.ChunkRate, hub.cfg.Pipeline.ChunkBurst),
		outbound: make(chan []byte, outboundBuffer),
		closed:   make(chan struct{}),
	}
	s.metrics.SessionID = id

	if hub.cfg.Configured() {
		s.partial = partial.New(hub.cfg.Adapter, partial.Config{
			Preroll:     hub.cfg.Pipeline.PartialPrerollChunks,
			Window:      hub.cfg.Pipeline.PartialWindowChunks,
			MinInterval: hub.cfg.Pipeline.PartialMinInterval,
			OnError: func(err error) {
				s.mu.Lock()
				s.metrics.LastError = StageSTT + ": " + err.Error()
				s.mu.Unlock()
			},
		}, func(text string) {
			s.send(EventPartial, partialOut{Text: text, Partial: true})
		})
	}
	return s
}

// run services the connection until it drops. It blocks the caller (the HTTP
// handler goroutine) and owns the read side; the writer and heartbeat run as
// children.
func (s *Session) run(ctx context.Context) {
	defer s.close()

	go s.writeLoop(ctx)
	go s.heartbeat(ctx)

	s.send(EventHello, tsOut{TS: time.Now().UnixMilli()})
	s.readLoop(ctx)
}

// close tears the session down: cancels the in-flight utterance, stops the
// partial pipeline, and releases the connection. Idempotent.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		u := s.current
		s.mu.Unlock()
		if u != nil {
			u.interrupt(nil)
			u.cancel()
			<-u.done
		}

		if s.partial != nil {
			s.partial.Stop()
		}
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				s.log.Debug("read failed", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(StageGeneral, "malformed frame")
			continue
		}
		s.handle(ctx, env)
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case frame := <-s.outbound:
			if err := s.conn.Write(ctx, websocket.MessageText, frame); err != nil {
				s.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-s.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.hub.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.send(EventHeartbeat, tsOut{TS: time.Now().UnixMilli()})
		case <-s.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// send queues one event for the writer. It blocks only while the outbound
// buffer is full and never after the session has closed.
func (s *Session) send(event string, data any) {
	frame, err := encodeEvent(event, data)
	if err != nil {
		s.log.Error("encode event failed", "event", event, "error", err)
		return
	}
	select {
	case s.outbound <- frame:
	case <-s.closed:
	}
}

func (s *Session) sendError(stage, message string) {
	s.mu.Lock()
	s.metrics.LastError = stage + ": " + message
	s.mu.Unlock()
	s.send(EventError, errorOut{Stage: stage, Message: message})
}

// handle dispatches one inbound event. Runs on the read loop, so handlers
// are serialized per session.
func (s *Session) handle(ctx context.Context, env Envelope) {
	s.mu.Lock()
	s.metrics.LastActivityTS = time.Now().UnixMilli()
	s.mu.Unlock()

	switch env.Event {
	case EventPing:
		s.send(EventPong, tsOut{TS: time.Now().UnixMilli()})

	case EventAudioChunk:
		s.handleAudioChunk(env.Data)

	case EventAudioEnd:
		var in audioEndIn
		if len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, &in)
		}
		s.handleAudioEnd(ctx, in.PreferShortAnswer)

	case EventUserText:
		var in userTextIn
		if len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, &in)
		}
		s.handleUserText(ctx, strings.TrimSpace(in.Text))

	case EventStopTTS:
		var in stopTTSIn
		if len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, &in)
		}
		s.handleStopTTS(in.Reason)

	case EventGetMetrics:
		s.send(EventMetrics, s.Snapshot())

	default:
		s.sendError(StageGeneral, "unknown event: "+env.Event)
	}
}

func (s *Session) handleAudioChunk(data json.RawMessage) {
	var in audioChunkIn
	if err := json.Unmarshal(data, &in); err != nil || in.Data == "" {
		s.sendError(StageAudio, "invalid audio chunk")
		return
	}
	chunk, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil || len(chunk) == 0 {
		s.sendError(StageAudio, "invalid audio chunk")
		return
	}

	if !s.bucket.Allow() {
		// Advisory: the chunk is dropped but the session stays usable.
		s.sendError(StageRateLimit, "audio chunks arriving too fast")
		return
	}

	s.buffer = append(s.buffer, chunk)
	if limit := s.hub.cfg.Pipeline.BufferChunks; len(s.buffer) > limit {
		s.buffer = s.buffer[len(s.buffer)-limit:]
	}

	s.mu.Lock()
	s.metrics.BytesReceived += int64(len(chunk))
	s.metrics.ChunksReceived++
	s.mu.Unlock()

	if s.partial != nil {
		speaking := in.Speaking == nil || *in.Speaking
		s.partial.Push(chunk, speaking)
	}
}

func (s *Session) handleAudioEnd(ctx context.Context, preferShort bool) {
	if s.busy() {
		s.sendError(StageBusy, "a response is already in progress")
		return
	}
	if len(s.buffer) == 0 {
		s.sendError(StageAudio, "no audio buffered")
		return
	}

	audio := bytes.Join(s.buffer, nil)
	s.buffer = nil
	if s.partial != nil {
		s.partial.Reset()
	}

	s.startUtterance(ctx, audio, "", preferShort)
}

func (s *Session) handleUserText(ctx context.Context, text string) {
	if s.busy() {
		s.sendError(StageBusy, "a response is already in progress")
		return
	}
	if text == "" {
		s.sendError(StageGeneral, "empty text")
		return
	}
	s.startUtterance(ctx, nil, text, false)
}

func (s *Session) handleStopTTS(reason string) {
	if reason == "" {
		reason = "user_request"
	}

	s.mu.Lock()
	u := s.current
	if u != nil {
		s.metrics.Interruptions++
	}
	s.mu.Unlock()

	if u == nil {
		// A precautionary stop while nothing is playing is acknowledged, not
		// an error.
		s.send(EventTTSCancelled, cancelledOut{TS: time.Now().UnixMilli(), Reason: reason})
		return
	}

	// The interrupt enqueues tts_cancelled under the utterance lock, so the
	// client sees it ahead of anything the pipeline still had queued.
	u.interrupt(func() {
		s.send(EventTTSCancelled, cancelledOut{TS: time.Now().UnixMilli(), Reason: reason})
	})
	u.cancel()
}

func (s *Session) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Snapshot returns a copy of the session's counters.
func (s *Session) Snapshot() MetricsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// startUtterance spawns the response pipeline for one utterance. Either
// audio (from audio_end) or text (from user_text) is set.
func (s *Session) startUtterance(ctx context.Context, audio []byte, text string, preferShort bool) {
	uctx, cancel := context.WithCancel(ctx)
	u := &utterance{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.current = u
	s.mu.Unlock()

	go func() {
		defer close(u.done)
		defer cancel()

		s.runUtterance(uctx, u, audio, text, preferShort)

		s.mu.Lock()
		if s.current == u {
			s.current = nil
		}
		s.mu.Unlock()
	}()
}

func (s *Session) runUtterance(ctx context.Context, u *utterance, audio []byte, userText string, preferShort bool) {
	if !s.hub.cfg.Configured() {
		s.degradedResponse(audio != nil, userText)
		return
	}

	if audio != nil {
		start := time.Now()
		text, err := s.hub.cfg.Adapter.Transcribe(ctx, audio, "utterance.webm")
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A failed upstream call reads as an empty transcript.
			s.log.Warn("transcription failed", "error", err)
			text = ""
		}
		s.setStageMS(&s.metrics.STTMS, time.Since(start))

		userText = strings.TrimSpace(text)
		if userText == "" {
			s.sendError(StageSTT, "No speech detected")
			return
		}
		s.send(EventResultSTT, resultOut{Text: userText, From: "user"})
	}

	history := s.recentHistory(ctx)
	s.persist(ctx, store.ConversationEntry{
		Role:     "user",
		Text:     userText,
		TokensIn: pipeline.ApproxTokens(userText),
	})

	sink := &utteranceSink{s: s, u: u}
	res, err := s.hub.cfg.Orchestrator.Respond(ctx, pipeline.Request{
		UserText:          userText,
		History:           history,
		PreferShortAnswer: preferShort,
	}, sink)
	if err != nil {
		if errors.Is(err, pipeline.ErrFlagged) {
			s.refusalResponse(ctx, u)
			return
		}
		if ctx.Err() == nil {
			s.log.Warn("response pipeline failed", "error", err)
			s.sendError(StageStreaming, "assistant response failed")
		}
		return
	}
	if res.Cancelled {
		return
	}

	s.setStageMS(&s.metrics.LLMMS, res.Duration)
	s.setStageMS(&s.metrics.FirstTokenMS, res.FirstTokenLatency)

	tokensIn := pipeline.ApproxTokens(userText)
	tokensOut := pipeline.ApproxTokens(res.Text)
	tier := s.hub.cfg.Settings.Tier(ctx)
	s.persist(ctx, store.ConversationEntry{
		Role:      "assistant",
		Text:      res.Text,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Cost:      pipeline.EstimateCost(tier, tokensIn, tokensOut) + pipeline.EstimateTTSCost(res.Text),
	})
}

// degradedResponse answers without provider credentials: a fixed hint for
// audio, an echo for text. The event shape matches the real pipeline so
// clients need no special handling.
func (s *Session) degradedResponse(fromAudio bool, text string) {
	reply := degradedReply
	if fromAudio {
		s.send(EventResultSTT, resultOut{Text: degradedSTTText, From: "user"})
	} else {
		reply = "You said: " + text + "\n\n" + degradedReply
	}
	s.send(EventResultLLM, resultOut{Text: reply, From: "assistant"})
	s.send(EventTTSEnd, ttsEndOut{TotalChunks: 0})
	s.send(EventPipelineComplete, ttsEndOut{TotalChunks: 0})
}

// refusalResponse replaces a moderation-flagged utterance with a fixed safe
// reply, synthesized as a single final chunk.
func (s *Session) refusalResponse(ctx context.Context, u *utterance) {
	s.send(EventResultLLM, resultOut{Text: refusalReply, From: "assistant"})

	chunks := 0
	start := time.Now()
	if audio, err := s.hub.cfg.Adapter.Synthesize(ctx, refusalReply); err == nil && len(audio) > 0 {
		u.emit(func() {
			chunks = 1
			s.send(EventAudioChunk, audioChunkOut{
				Audio:      base64.StdEncoding.EncodeToString(audio),
				SequenceID: 1,
				Text:       refusalReply,
				TTSMS:      float64(time.Since(start).Milliseconds()),
				Final:      true,
			})
		})
	}

	s.send(EventTTSEnd, ttsEndOut{TotalChunks: chunks})
	s.send(EventPipelineComplete, ttsEndOut{TotalChunks: chunks})

	s.persist(ctx, store.ConversationEntry{
		Role:      "assistant",
		Text:      refusalReply,
		TokensOut: pipeline.ApproxTokens(refusalReply),
	})
}

// recentHistory loads the latest conversation turns, oldest first, as chat
// context. Fails open to an empty history.
func (s *Session) recentHistory(ctx context.Context) []provider.Message {
	rows, err := s.hub.cfg.Store.Conversations(ctx, historyTurns)
	if err != nil {
		s.log.Debug("history load failed", "error", err)
		return nil
	}
	msgs := make([]provider.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		msgs = append(msgs, provider.Message{Role: rows[i].Role, Content: rows[i].Text})
	}
	return msgs
}

// persist appends a conversation row, failing open: a storage error is
// logged (and recorded in the event log when possible) but never interrupts
// the utterance.
func (s *Session) persist(ctx context.Context, entry store.ConversationEntry) {
	ctx = context.WithoutCancel(ctx)
	if err := s.hub.cfg.Store.AppendConversation(ctx, entry); err != nil {
		s.log.Warn("conversation append failed", "role", entry.Role, "error", err)
		_ = s.hub.cfg.Store.AppendLog(ctx, "warn", "conversation append failed: "+err.Error())
	}
}

func (s *Session) setStageMS(field *float64, d time.Duration) {
	s.mu.Lock()
	*field = float64(d.Milliseconds())
	s.mu.Unlock()
}

// utteranceSink adapts orchestrator events onto the session's outbound
// queue. Cancellation is checked per event so frames racing a stop_tts are
// suppressed.
type utteranceSink struct {
	s *Session
	u *utterance

	// total is written by TTSEnd and read by PipelineComplete, both from the
	// orchestrator's tail; no locking needed.
	total int
}

var _ pipeline.Sink = (*utteranceSink)(nil)

func (k *utteranceSink) FirstToken(token string, latency time.Duration) {
	k.u.emit(func() {
		k.s.setStageMS(&k.s.metrics.FirstTokenMS, latency)
		k.s.send(EventLLMFirstToken, firstTokenOut{Token: token, TS: time.Now().UnixMilli()})
	})
}

func (k *utteranceSink) Token(token, accumulated string) {
	k.u.emit(func() {
		k.s.send(EventLLMToken, tokenOut{Token: token, Accumulated: accumulated})
	})
}

func (k *utteranceSink) AudioChunk(seq int, audio []byte, text string, synthesis time.Duration) {
	k.u.emit(func() {
		k.s.setStageMS(&k.s.metrics.TTSMS, synthesis)
		k.s.send(EventAudioChunk, audioChunkOut{
			Audio:      base64.StdEncoding.EncodeToString(audio),
			SequenceID: seq,
			Text:       text,
			TTSMS:      float64(synthesis.Milliseconds()),
		})
	})
}

func (k *utteranceSink) ChunkError(seq int, text string, err error) {
	k.u.emit(func() {
		k.s.mu.Lock()
		k.s.metrics.LastError = StageTTS + ": " + err.Error()
		k.s.mu.Unlock()
		k.s.send(EventTTSChunkError, chunkErrorOut{SequenceID: seq, Text: text, Error: err.Error()})
	})
}

func (k *utteranceSink) ResultLLM(text string) {
	k.u.emit(func() {
		k.s.send(EventResultLLM, resultOut{Text: text, From: "assistant"})
	})
}

func (k *utteranceSink) TTSEnd(totalChunks int) {
	k.total = totalChunks
	k.u.emit(func() {
		k.s.send(EventTTSEnd, ttsEndOut{TotalChunks: totalChunks})
	})
}

func (k *utteranceSink) Cancelled(reason string) {
	// stop_tts already emitted tts_cancelled synchronously; only report
	// cancellations that originated elsewhere (e.g. server shutdown).
	k.u.interrupt(func() {
		k.s.send(EventTTSCancelled, cancelledOut{TS: time.Now().UnixMilli(), Reason: reason})
	})
}

func (k *utteranceSink) PipelineComplete() {
	k.u.emit(func() {
		k.s.send(EventPipelineComplete, ttsEndOut{TotalChunks: k.total})
	})
}
