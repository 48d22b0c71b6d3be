// Package gemini generates chat replies with Google's Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"appointment-chat/internal/domain"
)

const (
	roleUser  = "user"
	roleModel = "model"
)

type Client struct {
	client      *genai.Client
	model       string
	temperature float32
}

func NewClient(ctx context.Context, apiKey, model string, temperature float32) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key must not be empty")
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{client: client, model: model, temperature: temperature}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Generate replays messages as a chat and returns the reply to the last user
// message. System messages become the model's system instruction.
func (c *Client) Generate(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	system, history, prompt := splitMessages(messages)
	if prompt == "" {
		return "", errors.New("gemini: no user message to answer")
	}

	// A model per call keeps the system instruction local to this request.
	m := c.client.GenerativeModel(c.model)
	m.SetTemperature(c.temperature)
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	cs := m.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate error: %w", err)
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini: empty response")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if textPart, ok := part.(genai.Text); ok {
			sb.WriteString(string(textPart))
		}
	}
	return sb.String(), nil
}

// splitMessages maps provider-neutral messages onto Gemini's chat shape. The
// last user message becomes the prompt. History must open with a user turn
// and alternate roles, so leading model turns are dropped and neighbours with
// the same role are merged.
func splitMessages(messages []domain.ChatMessage) (system string, history []*genai.Content, prompt string) {
	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			last = i
			break
		}
	}
	if last < 0 {
		return "", nil, ""
	}
	prompt = messages[last].Content

	var sys []string
	for i, msg := range messages {
		if i == last {
			continue
		}
		if msg.Role == domain.RoleSystem {
			sys = append(sys, msg.Content)
			continue
		}
		role := roleModel
		if msg.Role == domain.RoleUser {
			role = roleUser
		}
		if len(history) == 0 && role == roleModel {
			continue
		}
		if n := len(history); n > 0 && history[n-1].Role == role {
			history[n-1].Parts = append(history[n-1].Parts, genai.Text(msg.Content))
			continue
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	// the prompt itself is a user turn, so history must end on the model
	if n := len(history); n > 0 && history[n-1].Role == roleUser {
		prompt = joinParts(history[n-1].Parts) + "\n" + prompt
		history = history[:n-1]
	}
	return strings.Join(sys, "\n"), history, prompt
}

func joinParts(parts []genai.Part) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t, ok := p.(genai.Text); ok {
			out = append(out, string(t))
		}
	}
	return strings.Join(out, "\n")
}
