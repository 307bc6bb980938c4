package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// HTTPSender posts emails as JSON to a transactional-mail API authenticated with a bearer key.
type HTTPSender struct {
	APIKey     string
	BaseURL    string
	From       string
	HTTPClient *http.Client
}

// NewHTTPSender returns a sender for the given endpoint, API key and from address.
func NewHTTPSender(baseURL, apiKey, from string) *HTTPSender {
	return &HTTPSender{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		From:       from,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type emailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// SendLoginNotification emails the account owner about a new sign-in.
func (s *HTTPSender) SendLoginNotification(ctx context.Context, n LoginNotice) error {
	if s.APIKey == "" {
		return fmt.Errorf("notify: API key not configured")
	}
	if s.BaseURL == "" {
		return fmt.Errorf("notify: API URL not configured")
	}
	raw, err := json.Marshal(emailRequest{
		From:    s.From,
		To:      n.Email,
		Subject: "New sign-in to your account",
		Text:    loginText(n),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notify: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

func loginText(n LoginNotice) string {
	name := n.Name
	if name == "" {
		name = "there"
	}
	at := n.At
	if at.IsZero() {
		at = time.Now()
	}
	return fmt.Sprintf("Hi %s,\n\nYour account was signed in at %s from %s (%s).\n"+
		"If this wasn't you, sign out of all devices and change your password.\n",
		name, at.UTC().Format(time.RFC1123), orUnknown(n.IPAddress), orUnknown(n.UserAgent))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
