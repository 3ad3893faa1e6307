package model

import "time"

// SessionLock - привязка аккаунта к единственной активной установке (/sessionLocks/{uid}).
type SessionLock struct {
	UID            string    `gorm:"primaryKey;size:64" json:"uid"`
	InstallationID string    `gorm:"not null;size:64" json:"installationID"`
	Platform       string    `json:"platform"`
	DeviceName     string    `json:"deviceName"`
	AppVersion     string    `json:"appVersion"`
	AcquiredAt     time.Time `gorm:"not null" json:"acquiredAt"`
	UpdatedAt      time.Time `gorm:"not null" json:"updatedAt"`
}
