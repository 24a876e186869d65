package syncengine

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"net/http"
)

// HTTPSMSSender is the default SMSSender for deployments that bridge to
// SMS through an HTTP-facing carrier/modem gateway rather than an
// in-device radio. There is no Go-idiomatic SMS carrier client in use
// here: the actual transmission path is hardware- or carrier-specific and
// varies per deployment, so this sender only standardizes the shape of
// the outbound HTTP call (to/body form-encoded) and leaves the endpoint
// itself configurable.
type HTTPSMSSender struct {
	Endpoint   string
	httpClient *http.Client
}

func NewHTTPSMSSender(endpoint string) *HTTPSMSSender {
	return &HTTPSMSSender{
		Endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPSMSSender) Send(gatewayNumber, body string) error {
	form := url.Values{}
	form.Set("to", gatewayNumber)
	form.Set("body", body)

	resp, err := h.httpClient.Post(h.Endpoint, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("smssender: posting to %s: %w", h.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("smssender: gateway returned status %d", resp.StatusCode)
	}
	return nil
}
