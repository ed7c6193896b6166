package kaspi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
)

var ErrStatusUnavailable = errors.New("kaspi status endpoint unavailable")

// Client talks to the Kaspi side: it builds the QR payment link handed to
// the mobile app and can probe the network's own status endpoint. The
// inbound check/pay webhooks are served by the HTTP layer, not here.
type Client struct {
	qrBaseURL   string
	serviceName string
	apiURL      string
	timeout     time.Duration
	httpClient  *fasthttp.Client
}

type ClientConfig struct {
	QRBaseURL   string
	ServiceName string
	APIURL      string
	Timeout     time.Duration
}

type PaymentStatus struct {
	Account string `json:"account"`
	Status  string `json:"status"`
	Sum     string `json:"sum"`
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		qrBaseURL:   cfg.QRBaseURL,
		serviceName: cfg.ServiceName,
		apiURL:      cfg.APIURL,
		timeout:     timeout,
		httpClient: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

// QRLink builds the payment deep link encoded into the QR code. Scanning
// it opens the Kaspi app with the service, account and amount prefilled.
func (c *Client) QRLink(deviceID string, amount float64) string {
	q := url.Values{}
	q.Set("service", c.serviceName)
	q.Set("account", deviceID)
	q.Set("amount", fmt.Sprintf("%.2f", amount))
	return c.qrBaseURL + "?" + q.Encode()
}

// PaymentStatus asks the network whether a payment for the account has
// settled. Authority on payment state stays with the inbound webhooks;
// this probe only backs the manual status endpoint.
func (c *Client) PaymentStatus(ctx context.Context, account string) (*PaymentStatus, error) {
	if c.apiURL == "" {
		return nil, ErrStatusUnavailable
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	q := url.Values{}
	q.Set("account", account)
	req.SetRequestURI(c.apiURL + "/payment/status?" + q.Encode())
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetContentType("application/json")

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}

	if err := c.httpClient.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("kaspi status request failed: %w", err)
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("kaspi status request: unexpected status code %d", resp.StatusCode())
	}

	var status PaymentStatus
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return nil, fmt.Errorf("kaspi status request: malformed response: %w", err)
	}

	return &status, nil
}
