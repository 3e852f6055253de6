package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

// transport общий HTTP-клиент адаптеров.
type transport struct {
	provider string
	baseURL  string
	timeout  time.Duration
	http     *http.Client
	header   http.Header
}

func newTransport(provider, baseURL string, timeout time.Duration, client *http.Client) *transport {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &transport{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeout:  timeout,
		http:     client,
		header:   make(http.Header),
	}
}

// response тело и статус ответа с кодом ниже 500.
type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// decode разбирает JSON. Нечитаемое тело 2xx считается недоступностью шлюза.
func (r *response) decode(provider string, out any) error {
	if err := json.Unmarshal(r.body, out); err != nil {
		if r.ok() {
			return unavailable(provider, fmt.Errorf("decode response: %w", err))
		}
		return &HTTPError{Provider: provider, StatusCode: r.status, Message: snippet(r.body)}
	}
	return nil
}

func (t *transport) postJSON(ctx context.Context, path string, payload any) (*response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", t.provider, err)
	}
	return t.do(ctx, http.MethodPost, path, nil, bytes.NewReader(raw), "application/json")
}

func (t *transport) postForm(ctx context.Context, path string, form url.Values) (*response, error) {
	return t.do(ctx, http.MethodPost, path, nil, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

func (t *transport) get(ctx context.Context, path string, query url.Values) (*response, error) {
	return t.do(ctx, http.MethodGet, path, query, nil, "")
}

// do выполняет запрос с ограничением по времени. Сетевые ошибки, таймауты и
// 5xx возвращаются как ErrUnavailable, остальные ответы отдаются адаптеру.
func (t *transport) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	target := t.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", t.provider, err)
	}
	for k, v := range t.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, unavailable(t.provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, unavailable(t.provider, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout {
		return nil, &HTTPError{Provider: t.provider, StatusCode: resp.StatusCode, Message: snippet(raw)}
	}

	return &response{status: resp.StatusCode, body: raw}, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
