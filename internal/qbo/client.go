package qbo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	defaultUserAgent    = "acctsync/0.1"
	defaultMinorVersion = 75
	requestIDHeader     = "intuit_tid"

	// maxErrorBody caps how much of an error response is read for diagnostics.
	maxErrorBody = 64 * 1024
)

// Auth identifies the company (realm) and carries the bearer token for one
// request. It comes from the token manager's current credential.
type Auth struct {
	AccessToken string
	RealmID     string
}

// Client is an HTTP client for the provider's company API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	logger       *slog.Logger
	userAgent    string
	minorVersion int
}

// NewClient creates an API client. baseURL is typically
// "https://quickbooks.api.intuit.com/v3"; tests point it at httptest.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, userAgent string, minorVersion int) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	if minorVersion <= 0 {
		minorVersion = defaultMinorVersion
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   httpClient,
		logger:       logger,
		userAgent:    userAgent,
		minorVersion: minorVersion,
	}
}

// Query runs `select * from <entity> where <field> = '<value>'` and decodes
// the matching rows into out, which must be a pointer to a slice. Returns the
// number of rows found.
func (c *Client) Query(ctx context.Context, auth Auth, entity, field, value string, out any) (int, error) {
	stmt := fmt.Sprintf("select * from %s where %s = '%s'", entity, field, EscapeQueryValue(value))

	params := url.Values{}
	params.Set("query", stmt)

	body, _, err := c.do(ctx, auth, http.MethodGet, "/query", params, nil)
	if err != nil {
		return 0, err
	}

	var envelope struct {
		QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0, fmt.Errorf("qbo: decoding %s query response: %w", entity, err)
	}

	raw, ok := envelope.QueryResponse[entity]
	if !ok {
		// An empty result set omits the entity key entirely.
		return 0, nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return 0, fmt.Errorf("qbo: decoding %s rows: %w", entity, err)
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return 0, fmt.Errorf("qbo: counting %s rows: %w", entity, err)
	}

	return len(rows), nil
}

// Create POSTs payload to the entity endpoint and decodes the created object
// into out. Returns the provider request id for diagnostics.
func (c *Client) Create(ctx context.Context, auth Auth, entity string, payload, out any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("qbo: encoding %s: %w", entity, err)
	}

	body, reqID, err := c.do(ctx, auth, http.MethodPost, "/"+strings.ToLower(entity), nil, data)
	if err != nil {
		return reqID, err
	}

	if err := decodeEntity(body, entity, out); err != nil {
		return reqID, err
	}

	return reqID, nil
}

// Get reads one object by provider id. Returns an error wrapping ErrNotFound
// when the object does not exist.
func (c *Client) Get(ctx context.Context, auth Auth, entity, id string, out any) error {
	path := "/" + strings.ToLower(entity) + "/" + url.PathEscape(id)

	body, _, err := c.do(ctx, auth, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}

	return decodeEntity(body, entity, out)
}

// decodeEntity unwraps the single-object envelope {"<Entity>": {...}}.
func decodeEntity(body []byte, entity string, out any) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("qbo: decoding %s response: %w", entity, err)
	}

	raw, ok := envelope[entity]
	if !ok {
		return fmt.Errorf("qbo: %s response missing %q object", entity, entity)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("qbo: decoding %s object: %w", entity, err)
	}

	return nil
}

// do executes one request against the realm-scoped API and returns the
// response body for 2xx responses. Non-2xx responses become *APIError;
// requests that never got a response become *TransportError.
func (c *Client) do(
	ctx context.Context, auth Auth, method, path string, params url.Values, payload []byte,
) ([]byte, string, error) {
	if auth.RealmID == "" {
		return nil, "", fmt.Errorf("qbo: %s %s: missing realm id", method, path)
	}

	if params == nil {
		params = url.Values{}
	}

	params.Set("minorversion", strconv.Itoa(c.minorVersion))

	fullURL := c.baseURL + "/company/" + url.PathEscape(auth.RealmID) + path + "?" + params.Encode()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, "", fmt.Errorf("qbo: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+auth.AccessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("qbo: request canceled: %w", ctx.Err())
		}

		return nil, "", &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	reqID := resp.Header.Get(requestIDHeader)

	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  reqID,
			Message:    string(errBody),
			Err:        sentinel,
		}
		parseFault(errBody, apiErr)

		c.logger.Debug("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("request_id", reqID),
		)

		return nil, reqID, apiErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, reqID, &TransportError{Method: method, Path: path, Err: fmt.Errorf("reading body: %w", err)}
	}

	c.logger.Debug("request succeeded",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", reqID),
	)

	return data, reqID, nil
}

// parseFault fills the structured fields of apiErr from a fault envelope.
// Bodies that are not fault JSON leave the raw text as the message.
func parseFault(body []byte, apiErr *APIError) {
	var f fault
	if err := json.Unmarshal(body, &f); err != nil || len(f.Fault.Error) == 0 {
		return
	}

	first := f.Fault.Error[0]
	apiErr.Code = first.Code
	apiErr.FaultType = f.Fault.Type

	switch {
	case first.Detail != "":
		apiErr.Message = first.Detail
	case first.Message != "":
		apiErr.Message = first.Message
	}
}

// EscapeQueryValue normalizes a natural key to NFC and escapes it for use
// inside a single-quoted query literal.
func EscapeQueryValue(v string) string {
	v = norm.NFC.String(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, `\`, `\\`)

	return strings.ReplaceAll(v, `'`, `\'`)
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
