package spam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const moderationPrompt = "You are a message moderation detector for a support inbox. " +
	"Given exactly ONE user message, decide whether it should be BLOCKED. " +
	"The output field is named 'spam' but means 'should_block'.\n\n" +
	"Set 'spam' to true if the message contains any of: " +
	"(1) spam, unsolicited promotion or ads; " +
	"(2) abuse, insults or profanity; " +
	"(3) harassment, hate, threats, scams, illegal or explicit sexual content; " +
	"(4) any clear violation of common community rules. " +
	"Otherwise set 'spam' to false. " +
	"If the reason you give describes a violation, 'spam' MUST be true. " +
	"If uncertain, choose true.\n\n" +
	"Return ONLY a JSON object, no markdown, exactly: " +
	`{"spam": <true|false>, "reason": "<short reason, at most 50 words>"}` + "\n\n" +
	"Examples:\n" +
	`Input: add me on whatsapp for free followers -> {"spam": true, "reason": "Unsolicited promotion."}` + "\n" +
	`Input: hi, how do I reset my password? -> {"spam": false, "reason": "Ordinary support question."}`

// ChatCompleter is the subset of *openai.Client the strategy calls.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI classifies through an OpenAI-compatible chat-completions endpoint.
type OpenAI struct {
	client   ChatCompleter
	model    string
	jsonMode bool
}

// NewOpenAIClient builds a go-openai client for baseURL. A trailing slash is
// dropped.
func NewOpenAIClient(baseURL, token string) *openai.Client {
	cfg := openai.DefaultConfig(token)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return openai.NewClientWithConfig(cfg)
}

func NewOpenAI(client ChatCompleter, model string, jsonMode bool) *OpenAI {
	return &OpenAI{client: client, model: model, jsonMode: jsonMode}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Classify(ctx context.Context, text string) (*Verdict, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: moderationPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0,
	}
	if o.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: api status %d: %s", ErrClassifierUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedVerdict)
	}
	return parseVerdict(resp.Choices[0].Message.Content)
}

type wireVerdict struct {
	Spam   *bool   `json:"spam"`
	Reason *string `json:"reason"`
}

// parseVerdict accepts exactly one JSON object with both fields and nothing
// else.
func parseVerdict(body string) (*Verdict, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(body))))
	dec.DisallowUnknownFields()

	var w wireVerdict
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedVerdict, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedVerdict)
	}
	if w.Spam == nil || w.Reason == nil {
		return nil, fmt.Errorf("%w: missing spam or reason", ErrMalformedVerdict)
	}
	return verdictOf(*w.Spam, *w.Reason, SourcePrimary), nil
}
