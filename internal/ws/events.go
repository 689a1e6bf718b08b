// Package ws implements the WebSocket gateway: the connection hub, the
// per-connection session state machine, and the duplex event protocol spoken
// with browser clients.
//
// Every frame is a JSON envelope {"event": ..., "data": ...}. Audio payloads
// travel base64-encoded in both directions; the server never interprets the
// container format beyond forwarding it to the provider.
package ws

import (
	"encoding/json"
	"fmt"
)

// Inbound event names (client to server).
const (
	EventPing       = "ping"
	EventAudioChunk = "audio_chunk"
	EventAudioEnd   = "audio_end"
	EventUserText   = "user_text"
	EventStopTTS    = "stop_tts"
	EventGetMetrics = "get_metrics"
)

// Outbound event names (server to client). EventAudioChunk is shared: the
// client sends captured audio and receives synthesized audio under the same
// name, distinguished by direction.
const (
	EventHello            = "hello"
	EventPong             = "pong"
	EventHeartbeat        = "server_heartbeat"
	EventPartial          = "partial_transcription"
	EventResultSTT        = "result_stt"
	EventLLMFirstToken    = "llm_first_token"
	EventLLMToken         = "llm_token"
	EventResultLLM        = "result_llm"
	EventTTSChunkError    = "tts_chunk_error"
	EventTTSEnd           = "tts_end"
	EventTTSCancelled     = "tts_cancelled"
	EventPipelineComplete = "pipeline_complete"
	EventError            = "error"
	EventMetrics          = "metrics"
)

// Stages reported in error events. A stage error terminates at most the
// current utterance; the session stays usable.
const (
	StageRateLimit = "rate_limit"
	StageAudio     = "audio"
	StageSTT       = "stt"
	StageChat      = "chat"
	StageTTS       = "tts"
	StageStreaming = "streaming"
	StageStopTTS   = "stop_tts"
	StageBusy      = "busy"
	StageGeneral   = "general"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// encodeEvent marshals data into an envelope frame ready for the wire.
func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("ws: marshal %s data: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("ws: marshal %s envelope: %w", event, err)
	}
	return frame, nil
}

// Inbound payloads.

type audioChunkIn struct {
	// Data is the base64-encoded audio chunk.
	Data string `json:"data"`

	// Speaking is the client's voice-activity flag. Unset means speaking.
	Speaking *bool `json:"speaking,omitempty"`
}

type audioEndIn struct {
	PreferShortAnswer bool `json:"prefer_short_answer"`
}

type userTextIn struct {
	Text string `json:"text"`
}

type stopTTSIn struct {
	Reason string `json:"reason"`
}

// Outbound payloads.

type tsOut struct {
	TS int64 `json:"ts"`
}

type partialOut struct {
	Text    string `json:"text"`
	Partial bool   `json:"partial"`
}

type resultOut struct {
	Text string `json:"text"`
	From string `json:"from"`
}

type firstTokenOut struct {
	Token string `json:"token"`
	TS    int64  `json:"ts"`
}

type tokenOut struct {
	Token       string `json:"token"`
	Accumulated string `json:"accumulated"`
}

type audioChunkOut struct {
	Audio      string  `json:"audio"`
	SequenceID int     `json:"sequence_id"`
	Text       string  `json:"text"`
	TTSMS      float64 `json:"tts_ms"`
	Final      bool    `json:"final,omitempty"`
}

type chunkErrorOut struct {
	SequenceID int    `json:"sequence_id"`
	Text       string `json:"text"`
	Error      string `json:"error"`
}

type ttsEndOut struct {
	TotalChunks int `json:"total_chunks"`
}

type cancelledOut struct {
	TS     int64  `json:"ts"`
	Reason string `json:"reason"`
}

type errorOut struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}
