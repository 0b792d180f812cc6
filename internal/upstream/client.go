package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/velicb/supplydesk/internal/session"
	"github.com/velicb/supplydesk/internal/telemetry/tracing"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	loginPath   = "/login"
	logoutPath  = "/logout"
	refreshPath = "/refresh-token"

	DefaultTokenExpiryDays   = 30
	DefaultSessionMinMinutes = 45
	// ephemeral sessions get at least two hours absent server guidance
	ephemeralFloor = 2 * time.Hour

	defaultCacheTTL = 30 * time.Second
)

var (
	// ErrSessionExpired: the stored token failed the validity check, the
	// request was never sent
	ErrSessionExpired = errors.New("session expired")
	// ErrUnauthorized: the API rejected the token, credentials were cleared
	ErrUnauthorized = errors.New("unauthorized by inventory api")
)

// APIError is a non-2xx response from the inventory API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inventory api: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the remote inventory REST API on behalf of the single
// active session. Every request runs the token validity check first and
// attaches the bearer token; an unauthorized response clears the stored
// credentials.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	store       *session.Store
	monitor     *session.Monitor
	redisClient *redis.Client

	rememberedTTL time.Duration
	ephemeralTTL  time.Duration
	cacheTTL      time.Duration

	// ability to inject the time source (for unit testing)
	NowFunc func() time.Time
}

type NewClientParams struct {
	BaseURL           string
	HTTPClient        *http.Client
	Store             *session.Store
	Monitor           *session.Monitor
	RedisClient       *redis.Client
	TokenExpiryDays   int
	SessionMinMinutes int
	CacheTTL          time.Duration
}

func NewClient(params NewClientParams) *Client {
	if params.HTTPClient == nil {
		params.HTTPClient = http.DefaultClient
	}
	if params.TokenExpiryDays <= 0 {
		params.TokenExpiryDays = DefaultTokenExpiryDays
	}
	if params.SessionMinMinutes <= 0 {
		params.SessionMinMinutes = DefaultSessionMinMinutes
	}
	if params.CacheTTL <= 0 {
		params.CacheTTL = defaultCacheTTL
	}

	ephemeralTTL := time.Duration(params.SessionMinMinutes) * time.Minute
	if ephemeralTTL < ephemeralFloor {
		ephemeralTTL = ephemeralFloor
	}

	return &Client{
		baseURL:       params.BaseURL,
		httpClient:    params.HTTPClient,
		store:         params.Store,
		monitor:       params.Monitor,
		redisClient:   params.RedisClient,
		rememberedTTL: time.Duration(params.TokenExpiryDays) * 24 * time.Hour,
		ephemeralTTL:  ephemeralTTL,
		cacheTTL:      params.CacheTTL,
		NowFunc:       time.Now,
	}
}

// do sends one request to the inventory API. Requests other than login
// and logout are aborted with ErrSessionExpired when the stored token
// fails the validity check, instead of being sent with a token the
// server would reject anyway.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, span := tracing.GlobalTracer.Start(ctx, "upstream.request", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("upstream.method", method),
		attribute.String("upstream.path", path),
	)

	if path != loginPath && path != logoutPath {
		if !c.monitor.CheckValidity() {
			span.SetStatus(codes.Error, "session-expired")
			return ErrSessionExpired
		}
	}

	var reqBody io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(bodyBytes)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if rec, _, err := c.store.Read(); err == nil && !rec.Empty() {
		req.Header.Set("Authorization", "Bearer "+rec.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "transport-error")
		span.RecordError(err)
		return fmt.Errorf("inventory api request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	// a 401 on login is just wrong credentials, handled by the caller
	if resp.StatusCode == http.StatusUnauthorized && path != loginPath {
		log.Warnf("inventory api rejected token for [%s %s], clearing credentials", method, path)
		if err := c.store.Clear(); err != nil {
			log.Errorf("clear credentials after unauthorized response: %s", err)
		}
		span.SetStatus(codes.Error, "unauthorized")
		return ErrUnauthorized
	}

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(respBytes, &errBody); err == nil {
			apiErr.Message = errBody.Message
		}
		span.SetStatus(codes.Error, fmt.Sprintf("status-%d", resp.StatusCode))
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	span.SetStatus(codes.Ok, "ok")
	return nil
}

func pageQuery(page, perPage int) url.Values {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 10
	}
	query := url.Values{}
	query.Set("page", fmt.Sprintf("%d", page))
	query.Set("per_page", fmt.Sprintf("%d", perPage))
	return query
}
