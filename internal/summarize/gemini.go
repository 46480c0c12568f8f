// Package summarize condenses transcripts with the Gemini API.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"stt-pipeline/internal/config"
)

// GeminiSummarizer produces a summary in the same language as the
// transcript.
type GeminiSummarizer struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

func NewGeminiSummarizer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*GeminiSummarizer, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("gemini API key cannot be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiSummarizer{client: client, model: cfg.GeminiModel, logger: logger}, nil
}

// Summarize returns a concise summary of the transcript. Failures are
// opaque upstream errors; the queue's retry policy owns the decision to
// try again.
func (g *GeminiSummarizer) Summarize(ctx context.Context, transcript, language string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", errors.New("cannot summarize empty transcript")
	}

	prompt := fmt.Sprintf(
		"Summarize the following transcript. Respond in the same language as the transcript (detected: %s). Be concise.\n\n%s",
		language, transcript,
	)

	g.logger.Debug("Calling Gemini",
		slog.String("model", g.model),
		slog.Int("transcript_len", len(transcript)),
	)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}

	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return "", errors.New("gemini API error: empty summary")
	}
	return summary, nil
}
