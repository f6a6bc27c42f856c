// Package notify publishes the status of stabilization tasks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/metal-toolbox/rackstab/internal/configuration"
	"github.com/metal-toolbox/rackstab/internal/metrics"
)

// State is the state of a task as published.
type State string

const (
	Pending   State = "pending"
	Active    State = "active"
	Succeeded State = "succeeded"
	Failed    State = "failed"
)

const (
	retryMax       = 3
	requestTimeout = 10 * time.Second
)

var (
	ErrNotify = errors.New("notify error")
)

// Publisher receives every status update of a task.
type Publisher interface {
	Publish(ctx context.Context, subject string, state State, status json.RawMessage)
}

// Message is the body posted to the webhook.
type Message struct {
	Agent   string          `json:"agent"`
	Subject string          `json:"subject"`
	State   State           `json:"state"`
	Status  json.RawMessage `json:"status"`
}

// New returns the webhook publisher when an endpoint is configured, the log
// publisher otherwise.
func New(ctx context.Context, agent string, cfg *configuration.NotifyOptions) (Publisher, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return NewLogPublisher(agent), nil
	}

	return NewWebhook(ctx, agent, cfg)
}

// LogPublisher writes status updates to the default logger.
type LogPublisher struct {
	agent string
}

func NewLogPublisher(agent string) *LogPublisher {
	return &LogPublisher{agent: agent}
}

func (p *LogPublisher) Publish(_ context.Context, subject string, state State, status json.RawMessage) {
	slog.Info("Task status", "agent", p.agent, "subject", subject, "state", string(state), "status", string(status))
}

// Webhook posts status updates to an HTTP endpoint, authenticated with OAuth2
// client credentials unless disabled.
type Webhook struct {
	agent    string
	endpoint string
	client   *retryablehttp.Client
}

func NewWebhook(ctx context.Context, agent string, cfg *configuration.NotifyOptions) (*Webhook, error) {
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, errors.Wrap(ErrNotify, "endpoint: "+err.Error())
	}

	httpClient := &http.Client{}

	if !cfg.DisableOAuth {
		var err error

		httpClient, err = oauthClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	httpClient.Timeout = requestTimeout
	httpClient.Transport = otelhttp.NewTransport(httpClient.Transport)

	client := retryablehttp.NewClient()
	client.HTTPClient = httpClient
	client.RetryMax = retryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = slog.Default()

	return &Webhook{
		agent:    agent,
		endpoint: cfg.Endpoint,
		client:   client,
	}, nil
}

func oauthClient(ctx context.Context, cfg *configuration.NotifyOptions) (*http.Client, error) {
	provider, err := oidc.NewProvider(ctx, cfg.OidcIssuerEndpoint)
	if err != nil {
		return nil, errors.Wrap(ErrNotify, "oidc provider: "+err.Error())
	}

	oauthConfig := clientcredentials.Config{
		ClientID:       cfg.OidcClientID,
		ClientSecret:   cfg.OidcClientSecret,
		TokenURL:       provider.Endpoint().TokenURL,
		Scopes:         cfg.OidcClientScopes,
		EndpointParams: url.Values{"audience": []string{cfg.OidcAudienceEndpoint}},
	}

	return oauthConfig.Client(ctx), nil
}

// Publish posts the update. Failures are logged and counted, a status update
// never fails the task it reports on.
func (w *Webhook) Publish(ctx context.Context, subject string, state State, status json.RawMessage) {
	if err := w.post(ctx, Message{Agent: w.agent, Subject: subject, State: state, Status: status}); err != nil {
		metrics.NotifyErrors.WithLabelValues(w.agent, "webhook").Inc()
		slog.Error("Failed to publish task status", "subject", subject, "state", string(state), "error", err)
	}
}

func (w *Webhook) post(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(ErrNotify, "marshal: "+err.Error())
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(ErrNotify, "request: "+err.Error())
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(ErrNotify, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Wrap(ErrNotify, "unexpected response: "+resp.Status)
	}

	return nil
}
