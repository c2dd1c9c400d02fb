package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseSize = 1 << 20

// SerialSettings is the bridge's binding to the physical device
type SerialSettings struct {
	Port         string
	BaudRate     int
	KeepPortOpen bool
	TCP          bool
}

// Client talks to the vendor bridge over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a bridge client. timeout bounds every request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Do sends one command and decodes the response
func (c *Client) Do(ctx context.Context, cmd Command) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", bytes.NewReader(cmd.Encode()))
	if err != nil {
		return nil, &TransportError{Op: cmd.Name, Err: err}
	}
	req.Header.Set("Content-Type", "text/plain")

	body, err := c.roundTrip(req, cmd.Name)
	if err != nil {
		return nil, err
	}
	return decodeBody(body, cmd.Name)
}

// FindDevice asks the bridge to scan serial ports for a fiscal device
func (c *Client) FindDevice(ctx context.Context) (SerialSettings, error) {
	res, err := c.get(ctx, "finddevice", "/finddevice")
	if err != nil {
		return SerialSettings{}, err
	}

	port := res.String("serialPort")
	if port == "" {
		return SerialSettings{}, fmt.Errorf("no fiscal device found")
	}
	baud, _ := res.Float("baudRate")

	return SerialSettings{Port: port, BaudRate: int(baud)}, nil
}

// Settings returns the bridge's current device binding
func (c *Client) Settings(ctx context.Context) (SerialSettings, error) {
	res, err := c.get(ctx, "settings", "/settings")
	if err != nil {
		return SerialSettings{}, err
	}

	baud, _ := res.Float("baud")
	keep, _ := res.Float("keepPortOpen")
	tcp, _ := res.Float("tcp")

	return SerialSettings{
		Port:         res.String("com"),
		BaudRate:     int(baud),
		KeepPortOpen: keep == 1,
		TCP:          tcp == 1,
	}, nil
}

// SetSettings binds the bridge to a serial port
func (c *Client) SetSettings(ctx context.Context, s SerialSettings) error {
	path := fmt.Sprintf("/settings(com=%s,baud=%d,keepPortOpen=%s,tcp=%s)",
		url.PathEscape(s.Port), s.BaudRate, formatValue(s.KeepPortOpen), formatValue(s.TCP))
	_, err := c.get(ctx, "settings", path)
	return err
}

// Release tells the bridge this client is done with the device
func (c *Client) Release(ctx context.Context) error {
	_, err := c.get(ctx, "clientremove", "/clientremove(who=me)")
	return err
}

func (c *Client) get(ctx context.Context, op, path string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	body, err := c.roundTrip(req, op)
	if err != nil {
		return nil, err
	}
	return decodeBody(body, op)
}

// decodeBody reports unparseable responses as transport failures so the
// caller reconnects.
func decodeBody(body []byte, op string) (Result, error) {
	res, err := Decode(body)
	if err != nil && !IsProtocolError(err) {
		return nil, &TransportError{Op: op, Err: err}
	}
	return res, err
}

func (c *Client) roundTrip(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)}
	}

	return body, nil
}
