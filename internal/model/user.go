package model

import "time"

// User - профиль пользователя (/users/{uid}).
// PartnerUID означает пару только если у партнёра PartnerUID указывает обратно.
type User struct {
	UID      string `gorm:"primaryKey;size:64" json:"uid"`
	Login    string `gorm:"uniqueIndex;not null" json:"login"`
	Password string `gorm:"not null" json:"-"`

	PairCode  *string `gorm:"uniqueIndex;size:6" json:"pairCode,omitempty"`
	FirstName string  `json:"firstName,omitempty"`
	LastName  string  `json:"lastName,omitempty"`

	PartnerUID *string `gorm:"index;size:64" json:"partnerUID,omitempty"`
	PublicKey  string  `json:"publicKey,omitempty"`

	MoodCipher     string `json:"moodCiphertext,omitempty"`
	LocationCipher string `json:"locationCiphertext,omitempty"`
	PushToken      string `json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// DisplayName собирает имя для снапшота в запросе.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Login
}

// HasPartner - у профиля заполнено поле partner_uid.
func (u *User) HasPartner() bool {
	return u.PartnerUID != nil && *u.PartnerUID != ""
}

// IsMutual проверяет взаимность пары в обе стороны.
func IsMutual(u, partner *User) bool {
	if u == nil || partner == nil || !u.HasPartner() || !partner.HasPartner() {
		return false
	}
	return *u.PartnerUID == partner.UID && *partner.PartnerUID == u.UID
}

// PairCode - отображение code -> uid (/pairCodes/{code}).
type PairCode struct {
	Code      string    `gorm:"primaryKey;size:6"`
	UID       string    `gorm:"uniqueIndex;not null;size:64"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
