package openai_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/provider/openai"
)

func newTestAdapter(t *testing.T, handler http.Handler) *openai.Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return openai.New(config.ProviderConfig{
		APIKey:    "sk-test",
		BaseURL:   srv.URL,
		STTModel:  "whisper-1",
		ChatModel: "gpt-4o-mini",
		TTSModel:  "tts-1",
		Voice:     "alloy",
	})
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var gotModel, gotAuth, gotFilename string
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q, want /audio/transcriptions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		gotModel = r.FormValue("model")
		if f, hdr, err := r.FormFile("file"); err == nil {
			gotFilename = hdr.Filename
			f.Close()
		} else {
			t.Fatalf("FormFile: %v", err)
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"text": " hello world "})
	}))

	text, err := a.Transcribe(t.Context(), []byte{0x1a, 0x45}, "utterance.webm")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != " hello world " {
		t.Errorf("text = %q, want %q", text, " hello world ")
	}
	if gotModel != "whisper-1" {
		t.Errorf("model field = %q, want whisper-1", gotModel)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want Bearer sk-test", gotAuth)
	}
	if gotFilename != "utterance.webm" {
		t.Errorf("filename = %q, want utterance.webm", gotFilename)
	}
}

func TestTranscribe_Non2xx(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))

	text, err := a.Transcribe(t.Context(), []byte{0x00}, "")
	if err == nil {
		t.Fatal("Transcribe: want error for non-2xx response")
	}
	if text != "" {
		t.Errorf("text = %q, want empty on failure", text)
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	wantAudio := []byte("mp3-bytes")
	var gotBody map[string]string
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("path = %q, want /audio/speech", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &gotBody); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}
		_, _ = w.Write(wantAudio)
	}))

	audio, err := a.Synthesize(t.Context(), "Hello there.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != string(wantAudio) {
		t.Errorf("audio = %q, want %q", audio, wantAudio)
	}
	if gotBody["model"] != "tts-1" || gotBody["voice"] != "alloy" || gotBody["input"] != "Hello there." {
		t.Errorf("request body = %v", gotBody)
	}
	if gotBody["response_format"] != "mp3" {
		t.Errorf("response_format = %q, want mp3", gotBody["response_format"])
	}
}

func TestSynthesize_EmptyBody(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	if _, err := a.Synthesize(t.Context(), "Hi."); err == nil {
		t.Fatal("Synthesize: want error for empty response body")
	}
}
