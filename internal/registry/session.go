package registry

import (
	"sync"
	"time"

	"github.com/antoniostano/wagate/internal/waclient"
)

// Status is a session's lifecycle state. Only TERMINATED is terminal; a
// session may cycle through the other states indefinitely via restarts.
type Status string

const (
	StatusStarting     Status = "STARTING"
	StatusQRPending    Status = "QR_PENDING"
	StatusConnected    Status = "CONNECTED"
	StatusDisconnected Status = "DISCONNECTED"
	StatusTerminated   Status = "TERMINATED"
)

// Session is the registry's record for one supervised automation identity.
// The client handle is exclusively owned here; no other component holds a
// long-lived reference to it.
type Session struct {
	id         string
	webhookURL string
	createdAt  time.Time

	mu                 sync.Mutex
	status             Status
	qrPayload          string
	client             waclient.Client
	lastStatusChangeAt time.Time
}

// Snapshot is the read-only view handed to callers. It never exposes the
// client handle.
type Snapshot struct {
	ID                 string    `json:"id"`
	Status             Status    `json:"status"`
	QRPayload          string    `json:"qrPayload,omitempty"`
	WebhookURL         string    `json:"webhookUrl,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	LastStatusChangeAt time.Time `json:"lastStatusChangeAt"`
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:                 s.id,
		Status:             s.status,
		QRPayload:          s.qrPayload,
		WebhookURL:         s.webhookURL,
		CreatedAt:          s.createdAt,
		LastStatusChangeAt: s.lastStatusChangeAt,
	}
}

func (s *Session) setStatus(status Status) {
	s.status = status
	s.lastStatusChangeAt = time.Now().UTC()
}

func (s *Session) currentClient() waclient.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}
