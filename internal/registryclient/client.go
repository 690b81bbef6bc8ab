// Package registryclient calls the Call Registry HTTP API on behalf of one
// signed-in user.
package registryclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ringline/internal/domain/call"
	"ringline/internal/session"
	"ringline/internal/transport/httpdto"
	ringline_errors "ringline/pkg/errors"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	defaultTimeout    = 10 * time.Second
	retryCount        = 2
)

type Client struct {
	http *resty.Client
}

var _ session.Registry = (*Client)(nil)

// New returns a client for baseURL (for example http://localhost:8080)
// authenticated with a bearer token. Every mutation carries a fresh
// idempotency key that is reused across its retries.
func New(baseURL, token string) *Client {
	r := resty.New().
		SetBaseURL(baseURL+"/v1").
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(defaultTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})
	return &Client{http: r}
}

func (c *Client) CreateCall(ctx context.Context, req session.CreateRequest) (string, call.Credential, error) {
	var out httpdto.Response[httpdto.CreateCallResponse]
	body := httpdto.CreateCallRequest{
		ParticipantIDs: req.ParticipantIDs,
		Type:           string(req.Kind),
		ChatChannel:    req.ChatChannel,
	}
	if err := c.do(ctx, http.MethodPost, "/calls", body, &out); err != nil {
		return "", call.Credential{}, err
	}
	return out.Data.CallID, out.Data.Credential.Credential(), nil
}

func (c *Client) AcceptCall(ctx context.Context, callID string) (call.Credential, error) {
	var out httpdto.Response[httpdto.AcceptCallResponse]
	if err := c.do(ctx, http.MethodPost, "/calls/"+callID+"/accept", nil, &out); err != nil {
		return call.Credential{}, err
	}
	return out.Data.Credential.Credential(), nil
}

func (c *Client) DeclineCall(ctx context.Context, callID string) error {
	return c.action(ctx, callID, "decline")
}

func (c *Client) EndCall(ctx context.Context, callID string) error {
	return c.action(ctx, callID, "end")
}

func (c *Client) MarkMissed(ctx context.Context, callID string) error {
	return c.action(ctx, callID, "missed")
}

func (c *Client) JoinCall(ctx context.Context, callID string) error {
	return c.action(ctx, callID, "join")
}

func (c *Client) LeaveCall(ctx context.Context, callID string) error {
	return c.action(ctx, callID, "leave")
}

// GetCall fetches one call the user participates in.
func (c *Client) GetCall(ctx context.Context, callID string) (httpdto.CallDTO, error) {
	var out httpdto.Response[httpdto.CallDTO]
	if err := c.do(ctx, http.MethodGet, "/calls/"+callID, nil, &out); err != nil {
		return httpdto.CallDTO{}, err
	}
	return out.Data, nil
}

func (c *Client) ListCalls(ctx context.Context, page, limit int) (httpdto.ListCallsResponse, error) {
	var out httpdto.Response[httpdto.ListCallsResponse]
	path := fmt.Sprintf("/calls?page=%d&limit=%d", page, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return httpdto.ListCallsResponse{}, err
	}
	return out.Data, nil
}

func (c *Client) action(ctx context.Context, callID, op string) error {
	var out httpdto.Response[map[string]string]
	return c.do(ctx, http.MethodPost, "/calls/"+callID+"/"+op, nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var failure httpdto.Response[any]
	req := c.http.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&failure)
	if method != http.MethodGet {
		req.SetHeader(IdempotencyHeader, uuid.NewString())
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", method, path, ringline_errors.ErrTimeout)
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, ringline_errors.ErrServiceUnavailable, err)
	}
	if resp.IsError() {
		msg := failure.Error
		if msg == "" {
			msg = resp.Status()
		}
		return fmt.Errorf("%s %s: %w: %s", method, path, errorForStatus(resp.StatusCode()), msg)
	}
	return nil
}

// errorForStatus maps a registry response status back onto the error taxonomy.
func errorForStatus(status int) error {
	switch status {
	case http.StatusBadRequest:
		return ringline_errors.ErrInvalidInput
	case http.StatusUnauthorized:
		return ringline_errors.ErrUnauthorized
	case http.StatusForbidden:
		return ringline_errors.ErrForbidden
	case http.StatusNotFound:
		return ringline_errors.ErrNotFound
	case http.StatusConflict:
		return ringline_errors.ErrInvalidState
	case http.StatusTooManyRequests:
		return ringline_errors.ErrRateLimited
	case http.StatusBadGateway:
		return ringline_errors.ErrTransportFailure
	case http.StatusGatewayTimeout:
		return ringline_errors.ErrTimeout
	default:
		return ringline_errors.ErrServiceUnavailable
	}
}
