package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"medichat/internal/consultation"
	"medichat/internal/resilience"
)

// Options configures the OpenAI-backed client.
type Options struct {
	APIKey  string
	BaseURL string // empty means the public OpenAI endpoint
	Model   string
	Retry   resilience.RetryConfig
}

// Client executes the consultation capabilities against an OpenAI-compatible
// chat completion API, asking for JSON output and validating it before it is
// handed to the orchestrator.
type Client struct {
	api      *openai.Client
	model    string
	retry    resilience.RetryConfig
	validate *validator.Validate
	logger   zerolog.Logger
}

var _ consultation.Capabilities = (*Client)(nil)

func NewClient(opts Options, logger zerolog.Logger) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		api:      openai.NewClientWithConfig(cfg),
		model:    model,
		retry:    opts.Retry,
		validate: validator.New(),
		logger:   logger.With().Str("component", "agent").Logger(),
	}
}

func (c *Client) ConductConsultation(ctx context.Context, req consultation.ConsultationRequest) (consultation.ConsultationResult, error) {
	return complete[consultation.ConsultationResult](ctx, c, consultation.CapConsultation, consultationSystem, consultationUser, req)
}

func (c *Client) AnalyzeSymptoms(ctx context.Context, req consultation.AnalysisRequest) (consultation.AnalysisResult, error) {
	return complete[consultation.AnalysisResult](ctx, c, consultation.CapAnalysis, analysisSystem, analysisUser, req)
}

func (c *Client) GenerateTreatmentPlan(ctx context.Context, req consultation.TreatmentPlanRequest) (consultation.TreatmentPlan, error) {
	return complete[consultation.TreatmentPlan](ctx, c, consultation.CapTreatmentPlan, treatmentSystem, treatmentUser, req)
}

func (c *Client) SuggestFollowUpQuestions(ctx context.Context, req consultation.FollowUpRequest) (consultation.FollowUpQuestions, error) {
	return complete[consultation.FollowUpQuestions](ctx, c, consultation.CapFollowUpQuestion, followUpSystem, followUpUser, req)
}

func (c *Client) SummarizeCondition(ctx context.Context, req consultation.ConditionSummaryRequest) (consultation.ConditionSummary, error) {
	return complete[consultation.ConditionSummary](ctx, c, consultation.CapConditionSummary, summarySystem, summaryUser, req)
}

// Ping checks that the backend answers with the configured credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.ListModels(ctx)
	return err
}

func complete[T any](ctx context.Context, c *Client, capability, system string, tmpl *template.Template, data any) (T, error) {
	var out T

	var prompt bytes.Buffer
	if err := tmpl.Execute(&prompt, data); err != nil {
		return out, consultation.NewCapabilityError(capability, fmt.Errorf("render prompt: %w", err))
	}
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: prompt.String()},
	}

	jsonMode := true
	var content string
	err := resilience.Retry(ctx, c.retry, resilience.IsRetryable, func(ctx context.Context) error {
		text, err := c.chat(ctx, messages, jsonMode)
		if err != nil && jsonMode && isResponseFormatUnsupportedError(err) {
			c.logger.Warn().Str("capability", capability).Err(err).Msg("json response format not supported, falling back to prompt-only")
			jsonMode = false
			text, err = c.chat(ctx, messages, false)
		}
		if err != nil {
			return classify(err)
		}
		content = text
		return nil
	})
	if err != nil {
		return out, consultation.NewCapabilityError(capability, err)
	}

	if err := json.Unmarshal([]byte(ExtractJSONObject(content)), &out); err != nil {
		return out, consultation.NewCapabilityError(capability, fmt.Errorf("decode output: %w", err))
	}
	if err := c.validate.Struct(out); err != nil {
		return out, consultation.NewCapabilityError(capability, fmt.Errorf("invalid output: %w", err))
	}
	c.logger.Debug().Str("capability", capability).Msg("capability completed")
	return out, nil
}

func (c *Client) chat(ctx context.Context, messages []openai.ChatCompletionMessage, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.2,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", NewEmptyResponseError()
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", NewEmptyResponseError()
	}
	return text, nil
}

var errEmptyResponse = errors.New("empty model response")

// NewEmptyResponseError reports a completion without content; models do this
// transiently, so it is retryable.
func NewEmptyResponseError() error {
	return resilience.NewRetryableError(errEmptyResponse)
}

// classify marks rate limits, server errors and network timeouts as
// retryable. Everything else fails the attempt for good.
func classify(err error) error {
	if resilience.IsRetryable(err) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && retryableStatus(apiErr.HTTPStatusCode) {
		return resilience.NewRetryableError(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && retryableStatus(reqErr.HTTPStatusCode) {
		return resilience.NewRetryableError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && !errors.Is(err, context.DeadlineExceeded) {
		return resilience.NewRetryableError(err)
	}
	return err
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func isResponseFormatUnsupportedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "response_format"):
		return true
	case strings.Contains(msg, "json_object"):
		return true
	case strings.Contains(msg, "unknown parameter") && strings.Contains(msg, "response"):
		return true
	default:
		return false
	}
}
