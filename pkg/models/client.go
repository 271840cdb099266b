package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/iloscout/pkg/netaddr"
)

// updateMinInterval is the unauthenticated per-client refresh rate gate.
// The unauthenticated updater ticks every 15s, so the gate only skips a
// client refreshed or admitted less than 10s before a tick; otherwise the
// tick cadence paces unauthenticated traffic to a management processor.
const updateMinInterval = 10 * time.Second

// ErrMissingUUID is returned when a discovery document carries no host
// UUID. The UUID is the registry key, so a client cannot be built
// without one.
var ErrMissingUUID = errors.New("discovery document has no host UUID")

// FetchFunc retrieves the raw discovery document for an address.
type FetchFunc func(ctx context.Context, addr netaddr.IPv4Address) ([]byte, error)

// IloUser is the credential pair used for authenticated sessions. The raw
// password stays in-process for the session and is never serialized; when
// secret obfuscation is enabled the digest is set as well.
type IloUser struct {
	Username       string `json:"username"`
	Password       string `json:"-"`
	PasswordDigest string `json:"password_digest,omitempty"`
}

// UnauthenticatedSnapshot is the publishable state of a client built from
// the unauthenticated discovery document.
type UnauthenticatedSnapshot struct {
	IloUUID         string              `json:"ilo_uuid"`
	Address         netaddr.IPv4Address `json:"address"`
	HostSerial      string              `json:"host_serial"`
	ProductName     string              `json:"product_name"`
	IloModel        string              `json:"ilo_model"`
	FirmwareVersion string              `json:"firmware_version"`
	HardwareVersion string              `json:"hardware_version"`
	IloSerial       string              `json:"ilo_serial"`
	LastUpdate      time.Time           `json:"last_update"`
}

// UnauthenticatedClient tracks one discovered iLO through its public
// discovery document. Safe for concurrent use.
type UnauthenticatedClient struct {
	mu      sync.Mutex
	snap    UnauthenticatedSnapshot
	nowFunc func() time.Time
}

// NewUnauthenticatedClient builds a client from a parsed discovery
// document. The host UUID from the document is the client identity.
func NewUnauthenticatedClient(addr netaddr.IPv4Address, doc *RIMPDocument) (*UnauthenticatedClient, error) {
	if doc.HSI.UUID == "" {
		return nil, ErrMissingUUID
	}
	c := &UnauthenticatedClient{nowFunc: time.Now}
	c.snap = snapshotFromDoc(addr, doc)
	c.snap.LastUpdate = c.nowFunc()
	return c, nil
}

func snapshotFromDoc(addr netaddr.IPv4Address, doc *RIMPDocument) UnauthenticatedSnapshot {
	return UnauthenticatedSnapshot{
		IloUUID:         doc.HSI.UUID,
		Address:         addr,
		HostSerial:      doc.HSI.SerialNumber,
		ProductName:     doc.HSI.ProductName,
		IloModel:        doc.MP.Model,
		FirmwareVersion: doc.MP.FirmwareVersion,
		HardwareVersion: doc.MP.HardwareVersion,
		IloSerial:       doc.MP.SerialNumber,
	}
}

// IloUUID returns the client identity.
func (c *UnauthenticatedClient) IloUUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.IloUUID
}

// Address returns the client's network address.
func (c *UnauthenticatedClient) Address() netaddr.IPv4Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Address
}

// Snapshot returns a copy of the current state.
func (c *UnauthenticatedClient) Snapshot() UnauthenticatedSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// CanUpdate reports whether enough time has passed since the last
// successful refresh.
func (c *UnauthenticatedClient) CanUpdate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowFunc().Sub(c.snap.LastUpdate) >= updateMinInterval
}

// Update re-fetches and re-parses the discovery document, refreshing the
// snapshot. A document whose UUID no longer matches is rejected: the
// address now belongs to a different machine.
func (c *UnauthenticatedClient) Update(ctx context.Context, fetch FetchFunc) error {
	addr := c.Address()
	body, err := fetch(ctx, addr)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", addr, err)
	}
	doc, err := ParseRIMP(body)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", addr, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if doc.HSI.UUID != "" && doc.HSI.UUID != c.snap.IloUUID {
		return fmt.Errorf("refresh %s: uuid changed from %s to %s", addr, c.snap.IloUUID, doc.HSI.UUID)
	}
	c.snap = snapshotFromDoc(c.snap.Address, doc)
	c.snap.LastUpdate = c.nowFunc()
	return nil
}

// Telemetry is the state an authenticated session reads from the
// management processor's Redfish surface.
type Telemetry struct {
	PowerState   string    `json:"power_state,omitempty"`
	HealthStatus string    `json:"health_status,omitempty"`
	HostName     string    `json:"host_name,omitempty"`
	RetrievedAt  time.Time `json:"retrieved_at"`
}

// TelemetryFetcher retrieves telemetry for an address using the given
// credentials.
type TelemetryFetcher interface {
	FetchTelemetry(ctx context.Context, addr netaddr.IPv4Address, user IloUser) (*Telemetry, error)
}

// AuthenticatedSnapshot is the publishable state of an authenticated
// client.
type AuthenticatedSnapshot struct {
	IloUUID    string              `json:"ilo_uuid"`
	Address    netaddr.IPv4Address `json:"address"`
	User       IloUser             `json:"user"`
	Telemetry  *Telemetry          `json:"telemetry,omitempty"`
	LastUpdate time.Time           `json:"last_update"`
}

// AuthenticatedClient tracks one iLO through an authenticated session.
// Safe for concurrent use.
type AuthenticatedClient struct {
	mu      sync.Mutex
	snap    AuthenticatedSnapshot
	fetcher TelemetryFetcher
	nowFunc func() time.Time
}

// NewAuthenticatedClient promotes an unauthenticated snapshot to an
// authenticated client. The initial telemetry fetch must succeed;
// otherwise the iLO stays unauthenticated-only.
func NewAuthenticatedClient(ctx context.Context, base UnauthenticatedSnapshot, user IloUser, fetcher TelemetryFetcher) (*AuthenticatedClient, error) {
	c := &AuthenticatedClient{
		snap: AuthenticatedSnapshot{
			IloUUID: base.IloUUID,
			Address: base.Address,
			User:    user,
		},
		fetcher: fetcher,
		nowFunc: time.Now,
	}
	if err := c.Update(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// IloUUID returns the client identity.
func (c *AuthenticatedClient) IloUUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.IloUUID
}

// Address returns the client's network address.
func (c *AuthenticatedClient) Address() netaddr.IPv4Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Address
}

// Snapshot returns a copy of the current state.
func (c *AuthenticatedClient) Snapshot() AuthenticatedSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Update fetches fresh telemetry.
func (c *AuthenticatedClient) Update(ctx context.Context) error {
	c.mu.Lock()
	addr := c.snap.Address
	user := c.snap.User
	c.mu.Unlock()

	tel, err := c.fetcher.FetchTelemetry(ctx, addr, user)
	if err != nil {
		return fmt.Errorf("telemetry %s: %w", addr, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Telemetry = tel
	c.snap.LastUpdate = c.nowFunc()
	return nil
}

// RegistrationRequest announces a newly discovered iLO address to
// downstream consumers. RequestID makes redelivered requests
// distinguishable on the consumer side.
type RegistrationRequest struct {
	RequestID  string              `json:"requestId"`
	IloAddress netaddr.IPv4Address `json:"iloAddress"`
	ClientHint string              `json:"clientHint"`
}

// NewRegistrationRequest builds a request with the default client hint
// derived from the address.
func NewRegistrationRequest(addr netaddr.IPv4Address) RegistrationRequest {
	return RegistrationRequest{
		RequestID:  uuid.NewString(),
		IloAddress: addr,
		ClientHint: "Discovery-" + strings.ReplaceAll(addr.String(), ".", ""),
	}
}
