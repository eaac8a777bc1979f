package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Discord delivers alerts via an incoming webhook
type Discord struct {
	client  *resty.Client
	webhook string
}

// NewDiscord builds a webhook channel
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:  resty.New().SetTimeout(10 * time.Second),
		webhook: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, kind Kind, message string) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"content": emoji(kind) + " " + message}).
		Post(d.webhook)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("discord webhook: status %d", resp.StatusCode())
	}
	return nil
}
