package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/BuzzLyutic/todo-sync/internal/model"
)

const (
	revisionHeader = "X-Last-Known-Revision"
	statusOK       = "ok"
)

type Options struct {
	BaseURL        string
	Token          string
	RetryAttempts  uint
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// Client — REST-клиент бэкенда списка дел. Запоминает последнюю ревизию,
// которую вернул сервер, и отправляет ее в X-Last-Known-Revision.
type Client struct {
	baseURL  string
	http     *http.Client
	logger   *zap.Logger
	attempts uint
	delay    time.Duration
	timeout  time.Duration
	revision atomic.Int64
}

func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	httpClient := &http.Client{}
	if opts.Token != "" {
		// Яндекс ждет "Authorization: OAuth <token>", а не Bearer
		httpClient.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: opts.Token,
				TokenType:   "OAuth",
			}),
			Base: http.DefaultTransport,
		}
	}

	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     httpClient,
		logger:   logger,
		attempts: opts.RetryAttempts,
		delay:    opts.RetryDelay,
		timeout:  opts.RequestTimeout,
	}
}

// Revision возвращает последнюю известную ревизию сервера.
func (c *Client) Revision() int64 {
	return c.revision.Load()
}

func (c *Client) List(ctx context.Context) ([]model.TodoItem, int64, error) {
	resp, err := c.call(ctx, http.MethodGet, "/list", nil, false)
	if err != nil {
		return nil, 0, err
	}
	return toItems(resp.List), resp.Revision, nil
}

func (c *Client) Get(ctx context.Context, id string) (model.TodoItem, int64, error) {
	resp, err := c.call(ctx, http.MethodGet, "/list/"+url.PathEscape(id), nil, false)
	if err != nil {
		return model.TodoItem{}, 0, err
	}
	return elementOf(resp)
}

func (c *Client) Add(ctx context.Context, item model.TodoItem) (model.TodoItem, int64, error) {
	resp, err := c.call(ctx, http.MethodPost, "/list", elementRequest{Element: toElement(item)}, true)
	if err != nil {
		return model.TodoItem{}, 0, err
	}
	return elementOf(resp)
}

func (c *Client) Update(ctx context.Context, item model.TodoItem) (model.TodoItem, int64, error) {
	resp, err := c.call(ctx, http.MethodPut, "/list/"+url.PathEscape(item.ID), elementRequest{Element: toElement(item)}, true)
	if err != nil {
		return model.TodoItem{}, 0, err
	}
	return elementOf(resp)
}

func (c *Client) Delete(ctx context.Context, id string) (int64, error) {
	resp, err := c.call(ctx, http.MethodDelete, "/list/"+url.PathEscape(id), nil, true)
	if err != nil {
		return 0, err
	}
	return resp.Revision, nil
}

// Replace перезаписывает весь список на сервере.
func (c *Client) Replace(ctx context.Context, items []model.TodoItem) ([]model.TodoItem, int64, error) {
	resp, err := c.call(ctx, http.MethodPatch, "/list", listRequest{List: toElements(items)}, true)
	if err != nil {
		return nil, 0, err
	}
	return toItems(resp.List), resp.Revision, nil
}

// call выполняет запрос с повторами. На 400 один раз обновляет ревизию
// и повторяет изменение уже с ней.
func (c *Client) call(ctx context.Context, method, path string, payload any, withRevision bool) (response, error) {
	resp, err := c.withRetry(ctx, method, path, payload, withRevision)
	if err == nil || !withRevision || !errors.Is(err, ErrUnsynchronized) {
		return resp, err
	}

	c.logger.Warn("revision is out of date, refreshing",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int64("revision", c.Revision()),
	)
	if _, rerr := c.withRetry(ctx, http.MethodGet, "/list", nil, false); rerr != nil {
		return response{}, fmt.Errorf("refresh revision: %w", rerr)
	}
	return c.withRetry(ctx, method, path, payload, withRevision)
}

func (c *Client) withRetry(ctx context.Context, method, path string, payload any, withRevision bool) (response, error) {
	return retry.DoWithData(
		func() (response, error) {
			return c.do(ctx, method, path, payload, withRevision)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("request failed, retrying",
				zap.String("method", method),
				zap.String("path", path),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, withRevision bool) (response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return response{}, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withRevision {
		req.Header.Set(revisionHeader, strconv.FormatInt(c.Revision(), 10))
	}

	res, err := c.http.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return response{}, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	if res.StatusCode != http.StatusOK {
		return response{}, &StatusError{Method: method, Path: path, Code: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return response{}, fmt.Errorf("%w: decode body: %v", ErrUnexpected, err)
	}
	if out.Status != statusOK {
		return response{}, fmt.Errorf("%w: %s %s: status %q", ErrUnexpected, method, path, out.Status)
	}
	c.revision.Store(out.Revision)
	return out, nil
}

func elementOf(resp response) (model.TodoItem, int64, error) {
	if resp.Element == nil {
		return model.TodoItem{}, 0, fmt.Errorf("%w: response has no element", ErrUnexpected)
	}
	return resp.Element.toItem(), resp.Revision, nil
}
