// Package transcribe calls an OpenAI-compatible speech-to-text endpoint.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"stt-pipeline/internal/config"
)

// Result is the transcription output consumed by the summarizer.
type Result struct {
	Transcript string
	Language   string
}

// Client posts audio files to the /audio/transcriptions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    cfg.WhisperBaseURL,
		apiKey:     cfg.WhisperAPIKey,
		model:      cfg.WhisperModel,
	}
}

// whisperResponse is the verbose_json shape of the transcription API.
type whisperResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcribe uploads the audio at audioPath and returns its transcript and
// detected language. Any upstream failure surfaces as an opaque error for
// the queue's retry policy to handle.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return Result{}, fmt.Errorf("read audio %s: %w", audioPath, err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return Result{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return Result{}, fmt.Errorf("build upload form: %w", err)
	}
	if err := form.WriteField("model", c.model); err != nil {
		return Result{}, fmt.Errorf("build upload form: %w", err)
	}
	if err := form.WriteField("response_format", "verbose_json"); err != nil {
		return Result{}, fmt.Errorf("build upload form: %w", err)
	}
	if err := form.Close(); err != nil {
		return Result{}, fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return Result{}, fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transcription request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read transcription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("transcription API status %d: %s", resp.StatusCode, payload)
	}

	var decoded whisperResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Result{}, fmt.Errorf("decode transcription response: %w", err)
	}
	if decoded.Text == "" {
		return Result{}, fmt.Errorf("transcription API returned empty text")
	}
	language := decoded.Language
	if language == "" {
		language = "auto"
	}
	return Result{Transcript: decoded.Text, Language: language}, nil
}
