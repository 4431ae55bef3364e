// Package llm wraps eino chat models behind a plain prompt-in, text-out client.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"medivoice/internal/config"
)

var (
	ErrNetwork         = errors.New("network")
	ErrBadStatus       = errors.New("bad-status")
	ErrEmptyCompletion = errors.New("empty-completion")
)

// ServiceError is a failed call to the completion service. Kind is one of
// ErrNetwork, ErrBadStatus or ErrEmptyCompletion.
type ServiceError struct {
	Kind  error
	Cause error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("completion service: %v: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("completion service: %v", e.Kind)
}

func (e *ServiceError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// classify separates transport failures from rejected requests. Provider SDK
// errors that are not transport errors carry a non-success HTTP status.
func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return &ServiceError{Kind: ErrNetwork, Cause: err}
	}
	return &ServiceError{Kind: ErrBadStatus, Cause: err}
}

// Client sends one system and one user prompt and returns the completion text.
type Client struct {
	chatModel model.BaseChatModel
	timeout   time.Duration
}

func NewClient(chatModel model.BaseChatModel, timeout time.Duration) *Client {
	return &Client{chatModel: chatModel, timeout: timeout}
}

// Generate performs a single completion. The client timeout, when set, bounds
// the whole round trip.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	messages := []*schema.Message{
		{Role: schema.System, Content: systemPrompt},
		{Role: schema.User, Content: userPrompt},
	}
	start := time.Now()
	resp, err := c.chatModel.Generate(ctx, messages)
	if err != nil {
		log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("completion request failed")
		return "", classify(err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", &ServiceError{Kind: ErrEmptyCompletion}
	}
	log.Debug().Dur("elapsed", time.Since(start)).Int("chars", len(resp.Content)).Msg("completion received")
	return strings.TrimSpace(resp.Content), nil
}

// Factory builds clients per provider, model and API key, reusing the
// underlying chat model for repeated combinations.
type Factory struct {
	providers map[string]config.ProviderConfig
	timeout   time.Duration
	newModel  func(ctx context.Context, provider string, cfg config.ProviderConfig, modelName, token string) (model.ToolCallingChatModel, error)

	mu      sync.Mutex
	clients map[string]*Client
}

func NewFactory(providers map[string]config.ProviderConfig, timeout time.Duration) *Factory {
	return &Factory{
		providers: providers,
		timeout:   timeout,
		newModel:  NewChatModel,
		clients:   make(map[string]*Client),
	}
}

// Client returns a client for provider. An empty token falls back to the
// provider's configured key.
func (f *Factory) Client(ctx context.Context, provider, modelName, token string) (*Client, error) {
	provCfg, ok := f.providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	if token == "" {
		token = provCfg.APIKey
	}
	key := provider + "\x00" + modelName + "\x00" + token

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[key]; ok {
		return c, nil
	}
	chatModel, err := f.newModel(ctx, provider, provCfg, modelName, token)
	if err != nil {
		return nil, err
	}
	c := NewClient(chatModel, f.timeout)
	f.clients[key] = c
	return c, nil
}
