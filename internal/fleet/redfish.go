package fleet

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/HerbHall/iloscout/pkg/models"
	"github.com/HerbHall/iloscout/pkg/netaddr"
)

// maxTelemetryBody caps how much of a Redfish response is read.
const maxTelemetryBody = 1 << 20

// systemPath is the Redfish computer-system resource iLOs expose the
// power and health state under.
const systemPath = "/redfish/v1/Systems/1/"

// RedfishFetcher reads telemetry from an iLO's Redfish surface using
// basic auth. Satisfies models.TelemetryFetcher.
type RedfishFetcher struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	nowFunc        func() time.Time
}

var _ models.TelemetryFetcher = (*RedfishFetcher)(nil)

// NewRedfishFetcher creates a fetcher with the given HTTP timeouts.
func NewRedfishFetcher(connectTimeout, readTimeout time.Duration) *RedfishFetcher {
	return &RedfishFetcher{
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
		nowFunc:        time.Now,
	}
}

// redfishSystem is the subset of the computer-system resource carried
// into telemetry.
type redfishSystem struct {
	PowerState string `json:"PowerState"`
	HostName   string `json:"HostName"`
	Status     struct {
		Health string `json:"Health"`
	} `json:"Status"`
}

// FetchTelemetry retrieves the computer-system state from the address.
func (f *RedfishFetcher) FetchTelemetry(ctx context.Context, addr netaddr.IPv4Address, user models.IloUser) (*models.Telemetry, error) {
	url := "https://" + addr.String() + systemPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build telemetry request: %w", err)
	}
	req.SetBasicAuth(user.Username, user.Password)
	req.Header.Set("Accept", "application/json")

	client := f.newClient()
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telemetry %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("telemetry %s: credentials rejected (status %d)", addr, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telemetry %s: status %d", addr, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTelemetryBody))
	if err != nil {
		return nil, fmt.Errorf("telemetry %s: read body: %w", addr, err)
	}

	var sys redfishSystem
	if err := json.Unmarshal(body, &sys); err != nil {
		return nil, fmt.Errorf("telemetry %s: decode: %w", addr, err)
	}

	return &models.Telemetry{
		PowerState:   sys.PowerState,
		HealthStatus: sys.Status.Health,
		HostName:     sys.HostName,
		RetrievedAt:  f.nowFunc(),
	}, nil
}

// newClient builds a single-use HTTP client. The management processors
// serve self-signed certificates, so verification is skipped on this
// client only.
func (f *RedfishFetcher) newClient() *http.Client {
	dialer := &net.Dialer{Timeout: f.connectTimeout}
	return &http.Client{
		Timeout: f.connectTimeout + f.readTimeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   f.connectTimeout,
			ResponseHeaderTimeout: f.readTimeout,
			TLSClientConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: true, //nolint:gosec // G402: iLOs ship self-signed certs
			},
			DisableKeepAlives: true,
		},
	}
}
