package util

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elijahnyp/lighting_zone/state"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var ErrEntityNotFound = errors.New("entity not found")

// HassClient talks to the Home Assistant REST API.
type HassClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHassClient(baseURL, token string, timeout time.Duration) *HassClient {
	return &HassClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func NewHassClientFromConfig() *HassClient {
	return NewHassClient(
		Config.GetString("hass_url"),
		Config.GetString("hass_token"),
		time.Duration(Config.GetInt("hass_timeout"))*time.Second,
	)
}

func (h *HassClient) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	return resp, nil
}

func closeBody(resp *http.Response) {
	if closeErr := resp.Body.Close(); closeErr != nil {
		Logger.Warn().Msgf("Error closing response body: %v", closeErr)
	}
}

// CallService invokes <domain>.<service> with data.
func (h *HassClient) CallService(ctx context.Context, domain, service string, data map[string]interface{}) error {
	path := "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)
	resp, err := h.do(ctx, http.MethodPost, path, data)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode > 299 || resp.StatusCode < 200 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best effort error detail
		return errors.Errorf("%s.%s: non-2xx code received: %d %s", domain, service, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// GetState returns the state string of an entity, or ErrEntityNotFound.
func (h *HassClient) GetState(ctx context.Context, entityID string) (string, error) {
	resp, err := h.do(ctx, http.MethodGet, "/api/states/"+url.PathEscape(entityID), nil)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	if resp.StatusCode == http.StatusNotFound {
		return "", errors.Wrap(ErrEntityNotFound, entityID)
	}
	if resp.StatusCode > 299 || resp.StatusCode < 200 {
		return "", errors.Errorf("get state %s: non-2xx code received: %d", entityID, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read state body")
	}
	value := gjson.GetBytes(body, "state")
	if !value.Exists() {
		return "", errors.Errorf("get state %s: no state in response", entityID)
	}
	return value.String(), nil
}

// TurnOn calls light.turn_on for one entity.
func (h *HassClient) TurnOn(ctx context.Context, entityID string, params state.Params) error {
	data := params.Map()
	data["entity_id"] = entityID
	return h.CallService(ctx, "light", "turn_on", data)
}
