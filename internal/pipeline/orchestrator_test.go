package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/provider"
	"github.com/voxwire/voxwire/internal/provider/mock"
	"github.com/voxwire/voxwire/internal/settings"
	"github.com/voxwire/voxwire/internal/store"
)

// recordSink records every orchestrator event for assertions.
type recordSink struct {
	mu          sync.Mutex
	firstTokens int
	tokens      []string
	accumulated string
	audioSeqs   []int
	chunkErrs   []int
	resultLLM   string
	ttsEndTotal int
	ttsEnded    bool
	cancelled   string
	complete    bool
}

func (r *recordSink) FirstToken(string, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.firstTokens++
}

func (r *recordSink) Token(token, accumulated string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	r.accumulated = accumulated
}

func (r *recordSink) AudioChunk(seq int, _ []byte, _ string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioSeqs = append(r.audioSeqs, seq)
}

func (r *recordSink) ChunkError(seq int, _ string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunkErrs = append(r.chunkErrs, seq)
}

func (r *recordSink) ResultLLM(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resultLLM = text
}

func (r *recordSink) TTSEnd(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ttsEnded = true
	r.ttsEndTotal = total
}

func (r *recordSink) Cancelled(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = reason
}

func (r *recordSink) PipelineComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete = true
}

func newTestOrchestrator(t *testing.T, adapter *mock.Adapter, inOrder, moderate bool) *Orchestrator {
	t.Helper()
	pool := NewTTSPool(adapter, 4)
	t.Cleanup(pool.Shutdown)
	cache := settings.NewCache(store.NewMemStore())
	return NewOrchestrator(adapter, pool, cache, inOrder, moderate)
}

func TestRespondStreamsAndSynthesizes(t *testing.T) {
	t.Parallel()

	adapter := &mock.Adapter{
		StreamTokens:    []string{"Hello there my friend. ", "How are", " you doing?"},
		SynthesizeAudio: []byte("mp3"),
	}
	o := newTestOrchestrator(t, adapter, false, false)
	sink := &recordSink{}

	res, err := o.Respond(context.Background(), Request{UserText: "hi"}, sink)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	wantText := "Hello there my friend. How are you doing?"
	if res.Text != wantText {
		t.Errorf("Result.Text = %q, want %q", res.Text, wantText)
	}
	if res.Sentences != 2 {
		t.Errorf("Result.Sentences = %d, want 2", res.Sentences)
	}
	if res.Cancelled {
		t.Error("Result.Cancelled must be false")
	}
	if res.FirstTokenLatency <= 0 {
		t.Error("Result.FirstTokenLatency must be positive")
	}

	if sink.firstTokens != 1 {
		t.Errorf("FirstToken fired %d times, want 1", sink.firstTokens)
	}
	if len(sink.tokens) != 3 {
		t.Errorf("Token fired %d times, want 3", len(sink.tokens))
	}
	if sink.accumulated != wantText {
		t.Errorf("accumulated = %q, want %q", sink.accumulated, wantText)
	}
	if sink.resultLLM != wantText {
		t.Errorf("ResultLLM = %q, want %q", sink.resultLLM, wantText)
	}
	if len(sink.audioSeqs) != 2 {
		t.Errorf("AudioChunk fired %d times, want 2", len(sink.audioSeqs))
	}
	seen := map[int]bool{}
	for _, s := range sink.audioSeqs {
		seen[s] = true
	}
	if !seen[1] || !seen[2] {
		t.Errorf("sequence ids = %v, want 1 and 2", sink.audioSeqs)
	}
	if !sink.ttsEnded || sink.ttsEndTotal != 2 {
		t.Errorf("TTSEnd = (%v, %d), want (true, 2)", sink.ttsEnded, sink.ttsEndTotal)
	}
	if !sink.complete {
		t.Error("PipelineComplete must fire")
	}
	if sink.cancelled != "" {
		t.Errorf("Cancelled fired with %q", sink.cancelled)
	}

	// Sentences handed to synthesis match the segmentation.
	calls := adapter.SynthesizeCalls()
	texts := make([]string, len(calls))
	for i, c := range calls {
		texts[i] = c.Text
	}
	want := map[string]bool{"Hello there my friend.": true, "How are you doing?": true}
	for _, text := range texts {
		if !want[text] {
			t.Errorf("unexpected synthesis input %q", text)
		}
	}
}

func TestRespondCancellation(t *testing.T) {
	t.Parallel()

	adapter := &mock.Adapter{
		StreamTokens:     []string{"First sentence is here. ", "Second sentence never finishes"},
		StreamTokenDelay: 30 * time.Millisecond,
		SynthesizeAudio:  []byte("mp3"),
	}
	o := newTestOrchestrator(t, adapter, false, false)
	sink := &recordSink{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(45 * time.Millisecond) // after the first token, before the stream ends
		cancel()
	}()

	res, err := o.Respond(ctx, Request{UserText: "hi", CancelReason: "barge_in"}, sink)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if !res.Cancelled {
		t.Error("Result.Cancelled must be true")
	}
	if sink.cancelled != "barge_in" {
		t.Errorf("Cancelled reason = %q, want barge_in", sink.cancelled)
	}
	if sink.ttsEnded {
		t.Error("TTSEnd must not fire on a cancelled response")
	}
	if sink.complete {
		t.Error("PipelineComplete must not fire on a cancelled response")
	}
}

func TestRespondChunkErrorDoesNotAbort(t *testing.T) {
	t.Parallel()

	adapter := &mock.Adapter{
		StreamTokens:  []string{"This first sentence fails to render. And this one too honestly."},
		SynthesizeErr: errors.New("voice offline"),
	}
	o := newTestOrchestrator(t, adapter, false, false)
	sink := &recordSink{}

	res, err := o.Respond(context.Background(), Request{UserText: "hi"}, sink)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if len(sink.chunkErrs) == 0 {
		t.Error("ChunkError must fire for failed synthesis")
	}
	if len(sink.audioSeqs) != 0 {
		t.Error("no audio expected when synthesis fails")
	}
	if !sink.ttsEnded || !sink.complete {
		t.Error("the response must still complete after chunk errors")
	}
	if res.Text == "" {
		t.Error("Result.Text must carry the full response")
	}
}

func TestRespondModerationBlocks(t *testing.T) {
	t.Parallel()

	adapter := &mock.Adapter{
		ModerationResult: provider.Moderation{Flagged: true, Categories: []string{"harassment"}},
		StreamTokens:     []string{"never sent"},
	}
	o := newTestOrchestrator(t, adapter, false, true)
	sink := &recordSink{}

	_, err := o.Respond(context.Background(), Request{UserText: "something vile"}, sink)
	if !errors.Is(err, ErrFlagged) {
		t.Fatalf("Respond error = %v, want ErrFlagged", err)
	}
	if !strings.Contains(err.Error(), "harassment") {
		t.Errorf("error = %v, want category name included", err)
	}
	if len(adapter.ChatCalls()) != 0 {
		t.Error("no chat call may happen for a flagged utterance")
	}
}

func TestRespondModerationFailsOpen(t *testing.T) {
	t.Parallel()

	adapter := &mock.Adapter{
		ModerateErr:     errors.New("moderation endpoint down"),
		StreamTokens:    []string{"All good over here, thanks."},
		SynthesizeAudio: []byte("mp3"),
	}
	o := newTestOrchestrator(t, adapter, false, true)
	sink := &recordSink{}

	res, err := o.Respond(context.Background(), Request{UserText: "hi"}, sink)
	if err != nil {
		t.Fatalf("Respond: moderation failures must not block, got %v", err)
	}
	if res.Text == "" || !sink.complete {
		t.Error("the response must run to completion")
	}
}

func TestRespondFlaggedSentenceSubstituted(t *testing.T) {
	t.Parallel()

	var calls int
	adapter := &flipModeration{
		Adapter: mock.Adapter{
			StreamTokens:    []string{"Something rude to say here."},
			SynthesizeAudio: []byte("mp3"),
		},
		calls: &calls,
	}
	o := NewOrchestrator(adapter, newTestPool(t, adapter), settings.NewCache(store.NewMemStore()), false, true)
	sink := &recordSink{}

	if _, err := o.Respond(context.Background(), Request{UserText: "hi"}, sink); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	synth := adapter.SynthesizeCalls()
	if len(synth) != 1 || synth[0].Text != safeSentence {
		t.Errorf("synthesis input = %v, want the safe substitute", synth)
	}
}

// flipModeration passes the first moderation check (the input) and flags
// every later one (the streamed sentences).
type flipModeration struct {
	mock.Adapter
	calls *int
}

func (f *flipModeration) Moderate(context.Context, string) (provider.Moderation, error) {
	*f.calls++
	if *f.calls == 1 {
		return provider.Moderation{}, nil
	}
	return provider.Moderation{Flagged: true, Categories: []string{"harassment"}}, nil
}

func newTestPool(t *testing.T, adapter provider.Adapter) *TTSPool {
	t.Helper()
	pool := NewTTSPool(adapter, 4)
	t.Cleanup(pool.Shutdown)
	return pool
}

func TestRespondShortAnswerHint(t *testing.T) {
	t.Parallel()

	adapter := &mock.Adapter{StreamTokens: []string{"Sure thing, here you go."}}
	o := newTestOrchestrator(t, adapter, false, false)

	_, err := o.Respond(context.Background(), Request{UserText: "hi", PreferShortAnswer: true}, &recordSink{})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	calls := adapter.ChatCalls()
	if len(calls) != 1 {
		t.Fatalf("chat calls = %d, want 1", len(calls))
	}
	msgs := calls[0].Req.Messages
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Content, "concisely") {
		t.Errorf("user message = %q, want short-answer hint appended", last.Content)
	}
	if msgs[0].Role != "system" || msgs[0].Content == "" {
		t.Error("a default system prompt must lead the messages")
	}
}

func TestOrderedDelivererReordersAndSkips(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	d := &orderedDeliverer{sink: sink, next: 1, pending: make(map[int]chunkResult)}

	d.done(3, []byte("c"), "third", 0)
	d.done(2, []byte("b"), "second", 0)
	if len(sink.audioSeqs) != 0 {
		t.Fatalf("nothing may be released before seq 1, got %v", sink.audioSeqs)
	}

	d.done(1, []byte("a"), "first", 0)
	if got := sink.audioSeqs; len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("release order = %v, want [1 2 3]", got)
	}

	// A skipped chunk unblocks its successors.
	d.skip(4)
	d.done(5, []byte("e"), "fifth", 0)
	if got := sink.audioSeqs; got[len(got)-1] != 5 {
		t.Errorf("seq 5 must be released after the skip, got %v", got)
	}
}
