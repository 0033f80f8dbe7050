package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Global transaction counter, shared by every transport in the process.
// The Alpaca wire contract wants a monotonically increasing
// ClientTransactionID per request.
var txCounter atomic.Int32

// NextTransactionID returns the next client transaction number.
func NextTransactionID() int {
	return int(txCounter.Add(1))
}

type baseResponse struct {
	ClientTransactionID int             `json:"ClientTransactionID"`
	ServerTransactionID int             `json:"ServerTransactionID"`
	ErrorNumber         int             `json:"ErrorNumber"`
	ErrorMessage        string          `json:"ErrorMessage"`
	Value               json.RawMessage `json:"Value,omitempty"`
}

const defaultTimeout = 5 * time.Second

// Transport performs raw Alpaca requests against a single device endpoint.
// It attaches the fixed per-session ClientID and a fresh transaction number
// to every call and translates the response envelope into typed errors.
// It never caches, retries or deduplicates.
type Transport struct {
	base     string
	devType  DeviceType
	number   int
	clientID int
	client   *http.Client
	logger   log.FieldLogger
}

// NewTransport creates a transport for one device endpoint. baseURL is the
// device server root (e.g. "http://10.0.0.5:11111"), number the Alpaca
// device ordinal on that server. Every request is bounded by timeout.
func NewTransport(baseURL string, devType DeviceType, number, clientID int, timeout time.Duration, logger log.FieldLogger) (*Transport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %v", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: unsupported scheme", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	return &Transport{
		base:     strings.TrimRight(baseURL, "/"),
		devType:  devType,
		number:   number,
		clientID: clientID,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// DeviceType returns the device type this transport addresses.
func (t *Transport) DeviceType() DeviceType { return t.devType }

// Number returns the Alpaca device ordinal.
func (t *Transport) Number() int { return t.number }

func (t *Transport) actionURL(action string) string {
	return fmt.Sprintf("%s/api/v1/%s/%d/%s", t.base, strings.ToLower(t.devType.String()), t.number, action)
}

// withIDs copies params and adds the protocol identifiers. The parameter
// names are case-sensitive on the wire: ClientID and ClientTransactionID
// exactly.
func (t *Transport) withIDs(params url.Values) url.Values {
	out := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	out.Set("ClientID", strconv.Itoa(t.clientID))
	out.Set("ClientTransactionID", strconv.Itoa(NextTransactionID()))
	return out
}

// Get performs a GET of the given action. It returns the raw envelope Value.
func (t *Transport) Get(ctx context.Context, action string, params url.Values) (json.RawMessage, error) {
	reqURL := t.actionURL(action) + "?" + t.withIDs(params).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "building request", Err: err}
	}
	return t.do(req, action)
}

// Put performs a PUT of the given action with form-encoded parameters.
func (t *Transport) Put(ctx context.Context, action string, params url.Values) (json.RawMessage, error) {
	body := t.withIDs(params).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.actionURL(action), strings.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "building request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.do(req, action)
}

func (t *Transport) do(req *http.Request, action string) (json.RawMessage, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debugf("%s %s failed: %v", req.Method, action, err)
		return nil, &Error{Kind: KindNetwork, Message: action, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindNetwork, Message: fmt.Sprintf("%s: http status %d", action, resp.StatusCode)}
	}

	var envelope baseResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &Error{Kind: KindNetwork, Message: fmt.Sprintf("%s: decoding envelope", action), Err: err}
	}

	if envelope.ErrorNumber != 0 {
		return nil, &Error{Kind: KindProtocol, Code: envelope.ErrorNumber, Message: envelope.ErrorMessage}
	}
	return envelope.Value, nil
}
