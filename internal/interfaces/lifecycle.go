package interfaces

import (
	"context"
	"time"

	"github.com/KevinKickass/OpenRVCore/internal/audit"
	"github.com/KevinKickass/OpenRVCore/internal/can"
	"github.com/KevinKickass/OpenRVCore/internal/config"
	"github.com/KevinKickass/OpenRVCore/internal/gateway"
	"github.com/KevinKickass/OpenRVCore/internal/metrics"
	"github.com/KevinKickass/OpenRVCore/internal/storage"
	"github.com/KevinKickass/OpenRVCore/internal/validator"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State              string               `json:"state"`
	Error              string               `json:"error,omitempty"`
	StartedAt          time.Time            `json:"started_at"`
	Uptime             string               `json:"uptime"`
	TransportConnected bool                 `json:"transport_connected"`
	BrokerConnected    bool                 `json:"broker_connected"`
	Commands           gateway.HandlerStats `json:"commands"`
	Transmit           can.TxStats          `json:"transmit"`
	Validator          validator.Stats      `json:"validator"`
	Audit              audit.Stats          `json:"audit"`
	LatestFrames       int                  `json:"latest_frames"`
	WebsocketClients   int                  `json:"websocket_clients"`
}

// AuditHistory reads persisted audit records.
type AuditHistory interface {
	RecentAudit(ctx context.Context, entityID string, limit int) ([]storage.AuditEntry, error)
}

type LifecycleManager interface {
	Config() *config.Config
	Gateway() *gateway.Gateway
	Metrics() *metrics.Metrics
	// AuditHistory is nil when no database is configured.
	AuditHistory() AuditHistory
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
