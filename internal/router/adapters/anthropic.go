package adapters

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/types"
)

const (
	anthropicAPIVersion = "2023-06-01"
	statusOverloaded    = 529
)

// anthropicTransport sends native payloads to an endpoint-addressed Messages API.
type anthropicTransport struct {
	label   string
	baseURL string
	apiKey  string
	headers map[string]string
	clients *clientPool[*http.Client]
}

// NewAnthropicBackend builds the endpoint-addressed native backend.
func NewAnthropicBackend(label string, cfg config.ProviderConfig) (*NativeBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api_key is required", label)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s: base_url is required", label)
	}
	return &NativeBackend{
		modelInBody: true,
		transport: &anthropicTransport{
			label:   label,
			baseURL: cfg.BaseURL,
			apiKey:  cfg.APIKey,
			headers: cfg.Headers,
			clients: newClientPool(func(context.Context, poolKey) (*http.Client, error) {
				return newHTTPClient(cfg), nil
			}),
		},
	}, nil
}

func (t *anthropicTransport) send(ctx context.Context, payload []byte, v config.Variant, stream bool) (*RawResult, error) {
	base := cmp.Or(v.Endpoint, t.baseURL)
	client, err := t.clients.get(ctx, poolKey{provider: t.label, endpoint: base})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(base, "/") + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", t.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	for k, val := range t.headers {
		if val != "" {
			httpReq.Header.Set(k, val)
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", t.label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(t.label, resp)
	}

	if stream && isEventStream(resp) {
		events, err := readSSE(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.label, err)
		}
		if err := firstStreamError(events); err != nil {
			return nil, err
		}
		return &RawResult{Events: events}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", t.label, err)
	}
	return &RawResult{Body: body}, nil
}

func (t *anthropicTransport) classify(err error) types.FailureClass {
	var serr *StatusError
	if errors.As(err, &serr) && serr.StatusCode == statusOverloaded {
		return types.FailureRateLimited
	}
	return classifyHTTPError(err)
}
