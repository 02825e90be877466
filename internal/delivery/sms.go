package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMSSender posts messages to a Twilio-style Messages endpoint. With WhatsApp
// set the same endpoint is used with whatsapp: addresses.
type SMSSender struct {
	Endpoint   string
	AccountSID string
	AuthToken  string
	From       string
	WhatsApp   bool
	Client     *http.Client
}

func NewSMSSender(endpoint, accountSID, authToken, from string, whatsapp bool) *SMSSender {
	return &SMSSender{
		Endpoint:   endpoint,
		AccountSID: accountSID,
		AuthToken:  authToken,
		From:       from,
		WhatsApp:   whatsapp,
		Client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SMSSender) Channel() string {
	if s.WhatsApp {
		return ChannelWhatsApp
	}
	return ChannelSMS
}

func (s *SMSSender) address(n string) string {
	if s.WhatsApp && !strings.HasPrefix(n, "whatsapp:") {
		return "whatsapp:" + n
	}
	return n
}

func (s *SMSSender) Send(ctx context.Context, m Message) (Result, error) {
	if m.Phone == "" {
		return Result{}, ErrNoRecipient
	}
	res := Result{Channel: s.Channel()}
	form := url.Values{}
	form.Set("To", s.address(m.Phone))
	form.Set("From", s.address(s.From))
	form.Set("Body", m.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return res, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.AccountSID != "" {
		req.SetBasicAuth(s.AccountSID, s.AuthToken)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		res.Payload = rawJSON([]byte(err.Error()))
		return res, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	res.StatusCode = resp.StatusCode
	res.Payload = rawJSON(body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return res, &ProviderError{Channel: res.Channel, StatusCode: resp.StatusCode, Body: string(body)}
	}
	var out struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &out); err == nil {
		res.ProviderID = out.SID
	}
	return res, nil
}
