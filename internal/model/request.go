package model

import "time"

type RequestType string

const (
	RequestPair   RequestType = "pair"
	RequestUnpair RequestType = "unpair"
)

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusRejected RequestStatus = "rejected"
	StatusExpired  RequestStatus = "expired"
)

// RequestTTL - время жизни запроса на (раз)связывание.
const RequestTTL = 24 * time.Hour

// RelationshipRequest - запрос pair/unpair (/relationshipRequests/{id}).
// Терминальные статусы не меняются.
type RelationshipRequest struct {
	ID     string        `gorm:"primaryKey;size:64" json:"id"`
	Type   RequestType   `gorm:"not null;size:16" json:"type"`
	Status RequestStatus `gorm:"not null;size:16;index" json:"status"`

	FromUID  string `gorm:"not null;index;size:64" json:"fromUID"`
	ToUID    string `gorm:"not null;index;size:64" json:"toUID"`
	FromName string `json:"fromName,omitempty"`
	FromCode string `json:"fromCode,omitempty"`

	CreatedAt  time.Time  `gorm:"not null" json:"createdAt"`
	ExpiresAt  time.Time  `gorm:"not null;index" json:"expiresAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// IsTerminal - запрос уже разрешён.
func (r *RelationshipRequest) IsTerminal() bool {
	return r.Status != StatusPending
}

// Expired - срок истёк на момент now.
func (r *RelationshipRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
