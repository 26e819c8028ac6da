package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"alert-service/internal/logging"
	"alert-service/internal/messages"
	"alert-service/internal/metrics"
)

// CardTarget addresses a chat channel.
type CardTarget struct {
	TeamID    string
	ChannelID string
}

type teamsFlowRequest struct {
	RequestType  string         `json:"requestType"`
	TeamsID      string         `json:"teamsId"`
	ChannelID    string         `json:"channelId"`
	MessageID    string         `json:"messageId,omitempty"`
	AdaptiveCard map[string]any `json:"adaptiveCard"`
}

type teamsFlowResponse struct {
	MessageID string `json:"messageId"`
}

// Teams posts and updates adaptive cards through a Power Automate card flow.
type Teams struct {
	http   *resty.Client
	logger *logging.Logger
}

func NewTeams(flowURL, apiKey string, logger *logging.Logger) *Teams {
	client := resty.New().
		SetBaseURL(flowURL).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-API-KEY", apiKey)
	return &Teams{http: client, logger: logger}
}

func (t *Teams) PostCard(ctx context.Context, target CardTarget, card messages.Card) (string, error) {
	return t.send(ctx, teamsFlowRequest{
		RequestType:  "New",
		TeamsID:      target.TeamID,
		ChannelID:    target.ChannelID,
		AdaptiveCard: AdaptiveCard(card),
	})
}

func (t *Teams) UpdateCard(ctx context.Context, target CardTarget, messageID string, card messages.Card) (string, error) {
	return t.send(ctx, teamsFlowRequest{
		RequestType:  "Update",
		TeamsID:      target.TeamID,
		ChannelID:    target.ChannelID,
		MessageID:    messageID,
		AdaptiveCard: AdaptiveCard(card),
	})
}

func (t *Teams) send(ctx context.Context, req teamsFlowRequest) (string, error) {
	var out teamsFlowResponse
	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("")
	if err != nil {
		metrics.MessagesSent.WithLabelValues("card", "failed").Inc()
		return "", fmt.Errorf("failed to call card flow (%s): %w", req.RequestType, err)
	}
	if resp.IsError() {
		metrics.MessagesSent.WithLabelValues("card", "failed").Inc()
		return "", fmt.Errorf("card flow returned status %d for %s request", resp.StatusCode(), req.RequestType)
	}
	if out.MessageID == "" {
		metrics.MessagesSent.WithLabelValues("card", "failed").Inc()
		return "", fmt.Errorf("card flow returned no messageId for %s request", req.RequestType)
	}
	metrics.MessagesSent.WithLabelValues("card", "delivered").Inc()
	t.logger.Debugf("Card flow %s request on channel %s returned message %s", req.RequestType, req.ChannelID, out.MessageID)
	return out.MessageID, nil
}

// AdaptiveCard renders card in the Microsoft adaptive card format.
func AdaptiveCard(card messages.Card) map[string]any {
	body := []map[string]any{}
	if card.Header != "" {
		body = append(body, map[string]any{"type": "TextBlock", "text": card.Header, "size": "Large", "weight": "Bolder", "wrap": true})
	}
	if card.Title != "" {
		body = append(body, map[string]any{"type": "TextBlock", "text": card.Title, "size": "Medium", "weight": "Bolder", "wrap": true})
	}
	body = append(body, map[string]any{"type": "TextBlock", "text": card.Body, "wrap": true})

	if card.InputPlaceholder != "" {
		body = append(body, map[string]any{
			"type":        "Input.Text",
			"id":          "userInput",
			"placeholder": card.InputPlaceholder,
			"isMultiline": true,
		})
		body = append(body, map[string]any{
			"type":    "ActionSet",
			"actions": []map[string]any{{"type": "Action.Submit", "title": "Submit"}},
		})
	}
	if len(card.Options) > 0 {
		actions := make([]map[string]any, 0, len(card.Options))
		for _, option := range card.Options {
			actions = append(actions, map[string]any{
				"type":  "Action.Submit",
				"title": option,
				"data":  map[string]string{"selectedOption": option},
			})
		}
		body = append(body, map[string]any{"type": "ActionSet", "actions": actions})
	}

	return map[string]any{
		"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
		"type":    "AdaptiveCard",
		"version": "1.4",
		"body":    body,
	}
}
