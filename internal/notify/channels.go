package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"kasirpro/backend/internal/config"
)

const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
	ChannelStream   = "stream"

	streamMaxLen = 10000
)

var ErrNoChannels = errors.New("no notification channels configured")

// EmailChannel posts receipts to a Resend-style mail API.
type EmailChannel struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
}

func NewEmailChannel(endpoint string, apiKey string, from string, timeout time.Duration) *EmailChannel {
	return &EmailChannel{endpoint: endpoint, apiKey: apiKey, from: from, client: &http.Client{Timeout: timeout}}
}

func (c *EmailChannel) Name() string { return ChannelEmail }

func (c *EmailChannel) Addressable(r Receipt) bool { return r.Email != "" }

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func (c *EmailChannel) Send(ctx context.Context, r Receipt) error {
	return postJSON(ctx, c.client, c.endpoint, c.apiKey, emailRequest{
		From:    c.from,
		To:      []string{r.Email},
		Subject: fmt.Sprintf("Receipt %s from %s", r.Invoice, r.StoreName),
		Text:    r.Text(),
	})
}

// MessageChannel posts receipts to a WhatsApp or SMS webhook provider.
type MessageChannel struct {
	channel  string
	endpoint string
	token    string
	client   *http.Client
}

func NewMessageChannel(channel string, endpoint string, token string, timeout time.Duration) *MessageChannel {
	return &MessageChannel{channel: channel, endpoint: endpoint, token: token, client: &http.Client{Timeout: timeout}}
}

func (c *MessageChannel) Name() string { return c.channel }

func (c *MessageChannel) Addressable(r Receipt) bool { return r.Phone != "" }

type messageRequest struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Message string `json:"message"`
}

func (c *MessageChannel) Send(ctx context.Context, r Receipt) error {
	return postJSON(ctx, c.client, c.endpoint, c.token, messageRequest{
		Channel: c.channel,
		To:      r.Phone,
		Message: r.Text(),
	})
}

// StreamChannel appends receipts to a redis stream for downstream consumers.
type StreamChannel struct {
	client redis.Cmdable
	stream string
}

func NewStreamChannel(client redis.Cmdable, stream string) *StreamChannel {
	return &StreamChannel{client: client, stream: stream}
}

func (c *StreamChannel) Name() string { return ChannelStream }

func (c *StreamChannel) Addressable(Receipt) bool { return true }

func (c *StreamChannel) Send(ctx context.Context, r Receipt) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"invoice":        r.Invoice,
			"transaction_id": r.TransactionID,
			"receipt":        string(payload),
		},
	}).Err()
}

// ChannelsFromConfig builds the channels named in NOTIFY_CHANNELS. Channels
// missing their settings are left out and reported in the returned error.
func ChannelsFromConfig(cfg config.NotifyConfig, rdb redis.Cmdable) ([]Channel, error) {
	if len(cfg.Channels) == 0 {
		return nil, ErrNoChannels
	}
	var (
		channels []Channel
		errs     error
	)
	for _, name := range cfg.Channels {
		switch name {
		case ChannelEmail:
			if cfg.EmailAPIKey == "" || cfg.EmailEndpoint == "" {
				errs = multierr.Append(errs, fmt.Errorf("%s: NOTIFY_EMAIL_API_KEY and NOTIFY_EMAIL_ENDPOINT are required", name))
				continue
			}
			channels = append(channels, NewEmailChannel(cfg.EmailEndpoint, cfg.EmailAPIKey, cfg.EmailFrom, cfg.Timeout))
		case ChannelWhatsApp, ChannelSMS:
			if cfg.MessageURL == "" {
				errs = multierr.Append(errs, fmt.Errorf("%s: NOTIFY_MESSAGE_URL is required", name))
				continue
			}
			channels = append(channels, NewMessageChannel(name, cfg.MessageURL, cfg.MessageToken, cfg.Timeout))
		case ChannelStream:
			if rdb == nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: REDIS_ADDR is required", name))
				continue
			}
			channels = append(channels, NewStreamChannel(rdb, cfg.StreamName))
		default:
			errs = multierr.Append(errs, fmt.Errorf("unknown notification channel %q", name))
		}
	}
	return channels, errs
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, bearer string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
