package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/wacall/internal/core/domain"
)

const methodPath = "/api/method/whatsapp_calling.whatsapp_calling.api.client_api."

const maxBody = 1 << 20

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client implements port.SignalingGateway over the platform's HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Authenticate checks the API key against the platform.
func (c *Client) Authenticate(ctx context.Context) error {
	payload, err := c.call(ctx, http.MethodPost, "authenticate", nil, map[string]string{"api_key": c.apiKey})
	if err != nil {
		return err
	}
	return rejected(payload)
}

func (c *Client) ICEServers(ctx context.Context) ([]domain.ICEServer, error) {
	payload, err := c.call(ctx, http.MethodGet, "get_ice_servers", nil, nil)
	if err != nil {
		return nil, err
	}
	if err := rejected(payload); err != nil {
		return nil, err
	}
	var list []iceServer
	if json.Unmarshal(payload, &list) == nil {
		return toDomainServers(list), nil
	}
	var dto iceServersDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return nil, malformed("get_ice_servers", err)
	}
	return toDomainServers(dto.ICEServers), nil
}

func (c *Client) CheckPermission(ctx context.Context, peerNumber string) (domain.PermissionStatus, error) {
	q := url.Values{"to_number": {peerNumber}}
	payload, err := c.call(ctx, http.MethodGet, "check_permission", q, nil)
	if err != nil {
		return domain.PermissionStatus{}, err
	}
	var dto permissionDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return domain.PermissionStatus{}, malformed("check_permission", err)
	}
	var st status
	_ = json.Unmarshal(payload, &st)

	allowed := false
	switch {
	case dto.CanCall != nil:
		allowed = *dto.CanCall
	case dto.Allowed != nil:
		allowed = *dto.Allowed
	}
	reason := dto.Reason
	if reason == "" && !allowed {
		reason = st.text()
	}
	return domain.PermissionStatus{Allowed: allowed, Reason: reason}, nil
}

func (c *Client) RequestPermission(ctx context.Context, peerNumber, reference string) (domain.PermissionRequest, error) {
	body := map[string]any{"to_number": peerNumber, "lead_reference": nullable(reference)}
	payload, err := c.call(ctx, http.MethodPost, "request_permission", nil, body)
	if err != nil {
		return domain.PermissionRequest{}, err
	}
	var st status
	if err := json.Unmarshal(payload, &st); err != nil {
		return domain.PermissionRequest{}, malformed("request_permission", err)
	}
	res := domain.PermissionRequest{Accepted: st.Success != nil && *st.Success}
	if !res.Accepted {
		res.Reason = st.text()
		if res.Reason == "" {
			res.Reason = "Failed to send request"
		}
	}
	return res, nil
}

func (c *Client) PlaceCall(ctx context.Context, peerNumber, reference string) (domain.CallGrant, error) {
	body := map[string]any{"to_number": peerNumber, "lead_reference": nullable(reference)}
	return c.grant(ctx, "make_call", body)
}

func (c *Client) AcceptCall(ctx context.Context, callID domain.CallID) (domain.CallGrant, error) {
	grant, err := c.grant(ctx, "answer_call", map[string]any{"call_id": callID})
	if err != nil {
		return grant, err
	}
	if grant.CallID.IsZero() {
		grant.CallID = callID
	}
	return grant, nil
}

func (c *Client) TerminateCall(ctx context.Context, callID domain.CallID) error {
	payload, err := c.call(ctx, http.MethodPost, "end_call", nil, map[string]any{"call_id": callID})
	if err != nil {
		return err
	}
	return rejected(payload)
}

func (c *Client) RelayOffer(ctx context.Context, callID domain.CallID, sdp string) (domain.RelayAnswer, error) {
	body := map[string]any{"call_id": callID, "sdp_offer": sdp}
	payload, err := c.call(ctx, http.MethodPost, "join_janus_room", nil, body)
	if err != nil {
		return domain.RelayAnswer{}, err
	}
	if err := rejected(payload); err != nil {
		return domain.RelayAnswer{}, err
	}
	var dto offerDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return domain.RelayAnswer{}, malformed("join_janus_room", err)
	}
	answer := dto.answer()
	if answer.SDP == "" {
		return domain.RelayAnswer{}, domain.NewCallError(domain.KindBackendRejected, "Media relay returned no answer", nil)
	}
	return answer, nil
}

func (c *Client) grant(ctx context.Context, endpoint string, body any) (domain.CallGrant, error) {
	payload, err := c.call(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return domain.CallGrant{}, err
	}
	if err := rejected(payload); err != nil {
		return domain.CallGrant{}, err
	}
	var dto grantDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return domain.CallGrant{}, malformed(endpoint, err)
	}
	grant := dto.grant()
	if grant.CallID.IsZero() && endpoint == "make_call" {
		return domain.CallGrant{}, domain.NewCallError(domain.KindBackendRejected, "Platform response is missing call_id", nil)
	}

	if len(grant.Relay.ICEServers) == 0 {
		servers, err := c.ICEServers(ctx)
		if err != nil {
			log.Warn().Err(err).Str("call_id", grant.CallID.String()).Msg("Could not fetch ice servers")
		} else {
			grant.Relay.ICEServers = servers
		}
	}
	return grant, nil
}

// call performs one round trip and returns the payload with the
// {"message": ...} envelope removed.
func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, body any) (json.RawMessage, error) {
	u := c.baseURL + methodPath + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Request-ID", requestID)

	l := log.With().Str("endpoint", endpoint).Str("request_id", requestID).Logger()
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		l.Debug().Err(err).Dur("took", time.Since(start)).Msg("Platform request failed")
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, domain.NewCallError(domain.KindBackendUnavailable, "Could not read platform response", err)
	}
	l.Debug().Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("Platform request")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.NewCallError(domain.KindBackendRejected, "Authentication failed. Please check your API key.", nil)
	case resp.StatusCode >= 500:
		return nil, domain.NewCallError(domain.KindBackendUnavailable, fmt.Sprintf("Platform error: %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, domain.NewCallError(domain.KindBackendRejected, fmt.Sprintf("API Error: %d", resp.StatusCode), nil)
	}
	return unwrap(raw)
}

func unwrap(raw []byte) (json.RawMessage, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed("response", err)
	}
	if msg, ok := env["message"]; ok {
		trimmed := bytes.TrimSpace(msg)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			return trimmed, nil
		}
	}
	return raw, nil
}

// rejected turns an explicit success:false payload into a classified error.
func rejected(payload json.RawMessage) error {
	var st status
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil
	}
	if st.Success == nil || *st.Success {
		return nil
	}
	text := st.text()
	switch strings.ToUpper(st.ErrorCode) {
	case "QUOTA_EXCEEDED":
		return domain.NewCallError(domain.KindQuotaExceeded, orDefault(text, "Calling quota exceeded"), nil)
	case "NO_PERMISSION", "PERMISSION_REQUIRED":
		return domain.NewCallError(domain.KindPermissionDenied, orDefault(text, "Call permission required"), nil)
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "quota") || strings.Contains(lower, "limit"):
		return domain.NewCallError(domain.KindQuotaExceeded, text, nil)
	case strings.Contains(lower, "permission"):
		return domain.NewCallError(domain.KindPermissionDenied, text, nil)
	}
	return domain.NewCallError(domain.KindBackendRejected, orDefault(text, "Failed to initiate call"), nil)
}

func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.NewCallError(domain.KindBackendUnavailable, "Request timed out. Please try again.", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.NewCallError(domain.KindBackendUnavailable, "Could not connect to platform. Please check the URL and network.", err)
}

func malformed(endpoint string, err error) error {
	return domain.NewCallError(domain.KindBackendRejected, "Unexpected platform response", fmt.Errorf("decode %s: %w", endpoint, err))
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
