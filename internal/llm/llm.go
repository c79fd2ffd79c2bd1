package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/vidquiz/internal/llm/prompts"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoChoices is returned when the API answers without any completion.
var ErrNoChoices = errors.New("LLM returned no choices")

// Config selects the endpoint and the model used for each task.
type Config struct {
	BaseURL         string
	APIKey          string
	GenModel        string
	GradeModel      string
	TranscribeModel string
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api *openai.Client
	cfg Config
}

// New creates a new LLM client.
func New(cfg Config) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &Client{
		api: openai.NewClientWithConfig(config),
		cfg: cfg,
	}
}

// HasKey reports whether an API key is configured. Without one the hosted
// transcription backend is skipped.
func (c *Client) HasKey() bool {
	return c.cfg.APIKey != ""
}

// GenerateQuiz asks the generation model for numQuestions multiple-choice
// questions about transcript and returns the raw JSON content.
func (c *Client) GenerateQuiz(ctx context.Context, transcript string, numQuestions int, languageName string) (string, error) {
	system, user, err := prompts.BuildGeneratePrompt(transcript, numQuestions, languageName)
	if err != nil {
		return "", fmt.Errorf("build generation prompt: %w", err)
	}
	raw, err := c.complete(ctx, c.cfg.GenModel, system, user, 0.3)
	if err != nil {
		return "", fmt.Errorf("LLM generation call: %w", err)
	}
	slog.Debug("LLM quiz response", "raw", raw)
	return raw, nil
}

// GradeAnswers asks the grading model to score submitted against correct and
// returns the raw JSON verdict.
func (c *Client) GradeAnswers(ctx context.Context, questions any, correct []string, submitted []any) (string, error) {
	system, user, err := prompts.BuildGradePrompt(questions, correct, submitted)
	if err != nil {
		return "", fmt.Errorf("build grading prompt: %w", err)
	}
	raw, err := c.complete(ctx, c.cfg.GradeModel, system, user, 0.1)
	if err != nil {
		return "", fmt.Errorf("LLM grading call: %w", err)
	}
	slog.Debug("LLM grading response", "raw", raw)
	return raw, nil
}

func (c *Client) complete(ctx context.Context, model, system, user string, temperature float32) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// Transcribe sends the audio file at path to the hosted speech-to-text model.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.TranscribeModel,
		FilePath: path,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return "", fmt.Errorf("LLM transcription call: %w", err)
	}
	return resp.Text, nil
}
