package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrUnavailable is returned when no credentials are configured.
	ErrUnavailable = errors.New("twilio: credentials not configured")
	// ErrRejected is returned when the provider declines a request.
	ErrRejected = errors.New("twilio: request rejected")
)

// ConnectionStatus describes the adapter's configuration for admin
// diagnostics.
type ConnectionStatus struct {
	Connected   bool             `json:"connected"`
	Source      CredentialSource `json:"source"`
	PhoneNumber string           `json:"phone_number,omitempty"`
	AccountID   string           `json:"account_id,omitempty"`
}

// Client wraps the Twilio REST API for placing calls and fetching
// recordings. Credentials are resolved per request through the
// CredentialProvider so a Reinitialize takes effect without a restart.
type Client struct {
	creds      *CredentialProvider
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Twilio API client.
func NewClient(creds *CredentialProvider) *Client {
	return &Client{
		creds:   creds,
		baseURL: "https://api.twilio.com/2010-04-01",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetBaseURL overrides the API endpoint. Used in tests.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// Reinitialize forces credential re-resolution. Invoked after an admin
// updates the durable settings.
func (c *Client) Reinitialize() {
	c.creds.Refresh()
}

type callResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// PlaceCall initiates an outbound call that connects its media stream to
// mediaStreamURL and reports status changes to statusCallbackURL. Returns
// the provider's call identifier.
func (c *Client) PlaceCall(ctx context.Context, to, from, mediaStreamURL, statusCallbackURL string) (string, error) {
	settings, _, err := c.creds.Resolve(ctx)
	if err != nil {
		return "", err
	}
	if !settings.Configured {
		return "", ErrUnavailable
	}
	if from == "" {
		from = settings.PhoneNumber
	}

	twiml := fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url="%s" /></Connect></Response>`,
		mediaStreamURL)

	formData := url.Values{}
	formData.Set("To", to)
	formData.Set("From", from)
	formData.Set("Twiml", twiml)
	formData.Set("Record", "true")
	if statusCallbackURL != "" {
		formData.Set("StatusCallback", statusCallbackURL)
		formData.Set("StatusCallbackEvent", "initiated ringing answered completed")
		formData.Set("StatusCallbackMethod", "POST")
	}

	reqURL := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, settings.AccountSID)
	body, err := c.postForm(ctx, settings, reqURL, formData)
	if err != nil {
		return "", err
	}

	var call callResponse
	if err := json.Unmarshal(body, &call); err != nil {
		return "", fmt.Errorf("twilio: decode call response: %w", err)
	}
	if call.SID == "" {
		return "", fmt.Errorf("%w: response missing call sid", ErrRejected)
	}
	return call.SID, nil
}

type recordingListResponse struct {
	Recordings []struct {
		SID string `json:"sid"`
		URI string `json:"uri"`
	} `json:"recordings"`
}

// FetchRecordingURL returns the URL of the call's recording, or "" when no
// recording exists yet.
func (c *Client) FetchRecordingURL(ctx context.Context, providerCallID string) (string, error) {
	settings, _, err := c.creds.Resolve(ctx)
	if err != nil {
		return "", err
	}
	if !settings.Configured {
		return "", ErrUnavailable
	}

	reqURL := fmt.Sprintf("%s/Accounts/%s/Calls/%s/Recordings.json",
		c.baseURL, settings.AccountSID, providerCallID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(settings.AccountSID, settings.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("twilio: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var list recordingListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return "", fmt.Errorf("twilio: decode recordings: %w", err)
	}
	if len(list.Recordings) == 0 {
		return "", nil
	}
	uri := strings.TrimSuffix(list.Recordings[0].URI, ".json")
	return fmt.Sprintf("https://api.twilio.com%s.mp3", uri), nil
}

// ConnectionStatus reports whether credentials are configured and where
// they came from.
func (c *Client) ConnectionStatus(ctx context.Context) ConnectionStatus {
	settings, source, err := c.creds.Resolve(ctx)
	if err != nil || !settings.Configured {
		return ConnectionStatus{Connected: false, Source: SourceNone}
	}
	return ConnectionStatus{
		Connected:   true,
		Source:      source,
		PhoneNumber: settings.PhoneNumber,
		AccountID:   settings.AccountSID,
	}
}

func (c *Client) postForm(ctx context.Context, settings Settings, reqURL string, formData url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(formData.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(settings.AccountSID, settings.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("twilio: read response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
