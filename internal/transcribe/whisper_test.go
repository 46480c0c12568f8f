package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"stt-pipeline/internal/config"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "j1.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF-fake-audio"), 0o644))
	return path
}

func TestTranscribeParsesVerboseJSON(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "whisper-1", r.FormValue("model"))
		_, _, err := r.FormFile("file")
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello world","language":"en"}`))
	}))
	defer srv.Close()

	client := NewClient(config.Config{
		WhisperBaseURL: srv.URL,
		WhisperAPIKey:  "secret",
		WhisperModel:   "whisper-1",
	})

	res, err := client.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	require.Equal(t, "hello world", res.Transcript)
	require.Equal(t, "en", res.Language)
	require.Equal(t, "Bearer secret", gotAuth)
}

func TestTranscribeSurfacesUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(config.Config{WhisperBaseURL: srv.URL, WhisperModel: "whisper-1"})

	_, err := client.Transcribe(context.Background(), writeAudio(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestTranscribeMissingFile(t *testing.T) {
	client := NewClient(config.Config{WhisperBaseURL: "http://127.0.0.1:0", WhisperModel: "whisper-1"})
	_, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.wav"))
	require.Error(t, err)
}

func TestTranscribeDefaultsLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"bonjour"}`))
	}))
	defer srv.Close()

	client := NewClient(config.Config{WhisperBaseURL: srv.URL, WhisperModel: "whisper-1"})
	res, err := client.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	require.Equal(t, "auto", res.Language)
}
