package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/sashabaranov/go-openai"

	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

const systemPrompt = `You review infrastructure remediation commands before they run.
Rate the risk of running the command against the described environment as one of
"low", "medium", "high" or "critical" and explain why in one or two sentences.
Reply with a JSON object only: {"level": "...", "rationale": "..."}`

// OpenAIAssessor asks a chat completion model for a verdict. Any endpoint
// speaking the OpenAI API works, including OCI Generative AI.
type OpenAIAssessor struct {
	client *openai.Client
	model  string
}

func NewOpenAIAssessor(apiKey, baseURL, model string) *OpenAIAssessor {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
		glog.Warningf("OPENAI_MODEL not set, defaulting to %s", model)
	}

	glog.Infof("Initializing OpenAI risk assessor (model %s)", model)

	return &OpenAIAssessor{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (o *OpenAIAssessor) Assess(ctx context.Context, action *models.Action) (*models.RiskAssessment, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: describe(action)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	return parseVerdict(resp.Choices[0].Message.Content)
}

func describe(action *models.Action) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", action.Title)
	fmt.Fprintf(&b, "Action type: %s\n", action.ActionType)
	fmt.Fprintf(&b, "Command: %s\n", action.ActionCommand)
	if action.RollbackCommand != nil {
		fmt.Fprintf(&b, "Rollback command: %s\n", *action.RollbackCommand)
	} else {
		b.WriteString("Rollback command: none\n")
	}
	fmt.Fprintf(&b, "Environment: %s\n", action.Environment)
	fmt.Fprintf(&b, "Service: %s\n", action.ServiceName)
	fmt.Fprintf(&b, "Issue severity: %s\n", action.Severity)
	if action.IssueDetails != "" {
		fmt.Fprintf(&b, "Issue: %s\n", action.IssueDetails)
	}
	return b.String()
}

// parseVerdict accepts the JSON object, optionally wrapped in a code fence.
func parseVerdict(content string) (*models.RiskAssessment, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var v struct {
		Level     string `json:"level"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("failed to parse risk verdict: %w", err)
	}

	level := models.RiskLevel(strings.ToLower(strings.TrimSpace(v.Level)))
	if !knownLevel(level) {
		return nil, fmt.Errorf("unknown risk level %q", v.Level)
	}
	return &models.RiskAssessment{Level: level, Rationale: v.Rationale}, nil
}
