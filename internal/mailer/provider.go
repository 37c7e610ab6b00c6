package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/naveenchhikara/aegis-notify/pkg/logx"
)

// Config configures the HTTP email provider client.
type Config struct {
	BaseURL    string
	APIKey     string
	From       string
	Timeout    time.Duration
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	return c
}

// Provider talks to the provider's JSON send endpoint. It rate-limits
// outbound calls so a burst of digests cannot trip provider throttling.
type Provider struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	client *http.Client
	log    logx.Logger
}

func NewProvider(cfg Config, log logx.Logger) *Provider {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Provider{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

// Apply updates rate limiting at runtime.
func (p *Provider) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	p.mu.Lock()
	p.cfg.RatePerSec = cfg.RatePerSec
	p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	p.mu.Unlock()
}

type sendRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body,omitempty"`
	ReplyTo  string `json:"reply_to,omitempty"`
}

type sendResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Send performs exactly one provider call. The returned error, when
// non-nil, is a *SendError classified transient or permanent.
func (p *Provider) Send(ctx context.Context, msg Message) (string, error) {
	p.mu.Lock()
	lim := p.limiter
	cfg := p.cfg
	p.mu.Unlock()

	if strings.TrimSpace(msg.To) == "" {
		return "", &SendError{Kind: ErrPermanent, Code: "no-recipient", Detail: "empty recipient address"}
	}

	if err := lim.Wait(ctx); err != nil {
		return "", &SendError{Kind: ErrTransient, Code: "rate-wait", Detail: err.Error()}
	}

	body, err := json.Marshal(sendRequest{
		From:     cfg.From,
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
		ReplyTo:  msg.ReplyTo,
	})
	if err != nil {
		return "", &SendError{Kind: ErrPermanent, Code: "encode", Detail: err.Error()}
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &SendError{Kind: ErrPermanent, Code: "request", Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		// Network faults and timeouts: retryable.
		return "", &SendError{Kind: ErrTransient, Code: "network", Detail: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var sr sendResponse
	_ = json.Unmarshal(raw, &sr)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if sr.ID == "" {
			sr.ID = resp.Header.Get("X-Message-Id")
		}
		return sr.ID, nil
	default:
		return "", &SendError{
			Kind:   classifyStatus(resp.StatusCode),
			Code:   fmt.Sprintf("http-%d", resp.StatusCode),
			Detail: firstNonEmpty(sr.Error, strings.TrimSpace(string(raw)), resp.Status),
		}
	}
}

// classifyStatus maps provider HTTP statuses onto the retry taxonomy:
// throttling and server-side trouble are transient, the rest of the 4xx
// family (bad recipient, rejected content) is permanent.
func classifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return ErrTransient
	case code >= 500:
		return ErrTransient
	default:
		return ErrPermanent
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
