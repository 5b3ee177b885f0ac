package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type openaiProvider struct {
	endpoint  string
	model     string
	apiKey    string // unexported; never serialized by encoding/json
	maxTokens int
	client    *http.Client
}

type openaiRequest struct {
	Model          string               `json:"model"`
	Messages       []openaiMessage      `json:"messages"`
	MaxTokens      int                  `json:"max_tokens,omitempty"`
	ResponseFormat openaiResponseFormat `json:"response_format"`
}

type openaiResponseFormat struct {
	Type string `json:"type"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *openaiProvider) Complete(ctx context.Context, system, user string) (string, error) {
	var messages []openaiMessage
	if system != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: system})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: user})

	body := openaiRequest{
		Model:          p.model,
		Messages:       messages,
		MaxTokens:      p.maxTokens,
		ResponseFormat: openaiResponseFormat{Type: "json_object"},
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("reading response body: %w", err)
	}
	respStr := string(respBytes)

	var oaiResp openaiResponse
	jsonErr := json.Unmarshal(respBytes, &oaiResp)
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(respStr, 200))
		if jsonErr == nil && oaiResp.Error != nil {
			msg = oaiResp.Error.Type + ": " + oaiResp.Error.Message
		}
		return "", &StatusError{Provider: "openai", StatusCode: resp.StatusCode, Message: msg}
	}
	if jsonErr != nil {
		return "", fmt.Errorf("parsing response JSON (HTTP %d, body: %s): %w", resp.StatusCode, truncate(respStr, 200), jsonErr)
	}
	if len(oaiResp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return oaiResp.Choices[0].Message.Content, nil
}
