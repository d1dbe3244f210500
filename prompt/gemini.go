// Package prompt optionally rewrites generation prompts through Gemini
// before they reach ComfyUI.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"sn0w/logger"
	"sn0w/settings"
	"sn0w/statestore"
)

const historyKey = "prompt_enhancement_history"
const historyLimit = 20

const systemInstruction = "Rewrite the following image generation prompt into a richer, " +
	"comma separated tag list. Keep every tag the user already wrote, add complementary " +
	"quality and composition tags, and reply with the prompt only."

// Enhancer rewrites prompts via Gemini. A zero ApiKey disables it.
type Enhancer struct {
	cfg settings.GeminiConfig
}

// NewEnhancer returns an Enhancer, or nil when no API key is configured so
// callers can treat enhancement as absent.
func NewEnhancer(cfg settings.GeminiConfig) *Enhancer {
	if cfg.ApiKey == "" {
		return nil
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	return &Enhancer{cfg: cfg}
}

// newClient creates and returns a new genai.Client
func newClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, option.WithAPIKey(apiKey))
}

// processResponse extracts the first text content part from the genai response.
func processResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no candidates found in response")
	}
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if txt, ok := part.(genai.Text); ok {
					return string(txt), nil
				}
			}
		}
	}
	return "", errors.New("no text content found in response")
}

// Enhance rewrites prompt. The original prompt is recorded alongside the
// rewrite so a later run can tell what the model changed.
func (e *Enhancer) Enhance(ctx context.Context, prompt string) (string, error) {
	client, err := newClient(ctx, e.cfg.ApiKey)
	if err != nil {
		return "", err
	}
	defer client.Close()

	model := client.GenerativeModel(e.cfg.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}

	enhanced, err := processResponse(resp)
	if err != nil {
		return "", err
	}
	enhanced = strings.TrimSpace(enhanced)

	appendHistory(prompt, enhanced)
	logger.Debug("Prompt enhanced", "original", prompt, "enhanced", enhanced)
	return enhanced, nil
}

// HistoryEntry is one recorded rewrite.
type HistoryEntry struct {
	Original string `json:"original"`
	Enhanced string `json:"enhanced"`
}

func appendHistory(original, enhanced string) {
	var history []HistoryEntry
	if data, err := statestore.Get(historyKey); err == nil {
		if err := json.Unmarshal(data, &history); err != nil {
			logger.Error("Failed to unmarshal enhancement history", "error", err)
			history = nil
		}
	}

	history = append(history, HistoryEntry{Original: original, Enhanced: enhanced})
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}

	data, err := json.Marshal(history)
	if err != nil {
		logger.Error("Failed to marshal enhancement history", "error", err)
		return
	}
	if err := statestore.PutBytesExpireHours(historyKey, data, 24); err != nil {
		logger.Error("Failed to store enhancement history", "error", err)
	}
}

// History returns the recorded rewrites, newest last.
func History() []HistoryEntry {
	data, err := statestore.Get(historyKey)
	if err != nil {
		return nil
	}
	var history []HistoryEntry
	if err := json.Unmarshal(data, &history); err != nil {
		logger.Error("Failed to unmarshal enhancement history", "error", err)
		return nil
	}
	return history
}
