// Package domain holds connector and micro-tunnel types.
package domain

import "time"

// ConnectorType is how a connector reaches the protected application.
type ConnectorType string

const (
	TypeAgent       ConnectorType = "agent"
	TypeCloudNative ConnectorType = "cloud_native"
	TypeTunnel      ConnectorType = "tunnel"
	TypeProxy       ConnectorType = "proxy"
	TypeClientless  ConnectorType = "clientless"
)

// Health is the connector's reported health.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// Capabilities advertises what a connector can carry.
type Capabilities struct {
	SupportsTCP           bool
	SupportsUDP           bool
	SupportsHTTP          bool
	SupportsRDP           bool
	SupportsSSH           bool
	MaxConcurrentSessions int
	DLPEnabled            bool
	SessionRecording      bool
}

// DefaultCapabilities matches a typical on-prem agent.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		SupportsTCP:           true,
		SupportsHTTP:          true,
		SupportsRDP:           true,
		SupportsSSH:           true,
		MaxConcurrentSessions: 1000,
		DLPEnabled:            true,
		SessionRecording:      true,
	}
}

// Supports reports whether the connector can carry the protocol.
func (c Capabilities) Supports(p Protocol) bool {
	switch p {
	case ProtocolTCP:
		return c.SupportsTCP
	case ProtocolUDP:
		return c.SupportsUDP
	case ProtocolHTTP, ProtocolHTTPS:
		return c.SupportsHTTP
	case ProtocolSSH:
		return c.SupportsSSH
	case ProtocolRDP:
		return c.SupportsRDP
	default:
		return false
	}
}

// Connector is one registered path to a protected resource.
type Connector struct {
	ID           string
	Name         string
	ResourceID   string
	Type         ConnectorType
	Endpoint     string // host:port
	Health       Health
	Capabilities Capabilities
	CreatedAt    time.Time
}

// Protocol is the application protocol a tunnel carries.
type Protocol string

const (
	ProtocolTCP   Protocol = "tcp"
	ProtocolUDP   Protocol = "udp"
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolSSH   Protocol = "ssh"
	ProtocolRDP   Protocol = "rdp"
)

// TunnelState is the tunnel lifecycle state.
type TunnelState string

const (
	TunnelEstablishing TunnelState = "establishing"
	TunnelActive       TunnelState = "active"
	TunnelSuspended    TunnelState = "suspended"
	TunnelClosed       TunnelState = "closed"
)

// Encryption describes the tunnel's transport protection.
type Encryption struct {
	Cipher              string `json:"cipher"`
	KeyExchange         string `json:"key_exchange"`
	CertificateVerified bool   `json:"certificate_verified"`
}

// Tunnel is a per-session, per-resource logical channel. The access plane owns
// its lifecycle only; packet forwarding belongs to the data plane.
type Tunnel struct {
	ID            string
	SessionID     string
	ConnectorID   string
	ResourceID    string
	UserID        string
	Destination   string
	Protocol      Protocol
	State         TunnelState
	Encryption    Encryption
	CreatedAt     time.Time
	LastActivity  time.Time
	BytesSent     uint64
	BytesReceived uint64
}

// Descriptor is what the data plane needs to forward traffic for a tunnel.
type Descriptor struct {
	ID          string     `json:"id"`
	Destination string     `json:"destination"`
	Protocol    Protocol   `json:"protocol"`
	Encryption  Encryption `json:"encryption"`
}

// Descriptor returns the tunnel's data-plane descriptor.
func (t *Tunnel) Descriptor() Descriptor {
	return Descriptor{
		ID:          t.ID,
		Destination: t.Destination,
		Protocol:    t.Protocol,
		Encryption:  t.Encryption,
	}
}

// Stats is a census of connectors and tunnels.
type Stats struct {
	TotalConnectors     int    `json:"total_connectors"`
	HealthyConnectors   int    `json:"healthy_connectors"`
	TotalTunnels        int    `json:"total_tunnels"`
	ActiveTunnels       int    `json:"active_tunnels"`
	EstablishingTunnels int    `json:"establishing_tunnels"`
	TotalBytesSent      uint64 `json:"total_bytes_sent"`
	TotalBytesReceived  uint64 `json:"total_bytes_received"`
}
