package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Token is an API credential. Expired tokens stay in place and still count
// towards the per-user limit until they are deleted.
type Token struct {
	BaseModel
	Token      uuid.UUID `json:"token" gorm:"type:uuid;uniqueIndex;not null"`
	UserID     uuid.UUID `json:"userID" gorm:"type:uuid;not null;index"`
	Expiration time.Time `json:"expiration" gorm:"not null;index"`
	Renewable  bool      `json:"renewable" gorm:"not null"`
	User       User      `json:"-" gorm:"foreignKey:UserID"`
}

func (t *Token) IsExpired(now time.Time) bool {
	return !t.Expiration.After(now)
}

func (t *Token) BeforeCreate(tx *gorm.DB) error {
	if t.Token == uuid.Nil {
		t.Token = uuid.New()
	}
	return t.BaseModel.BeforeCreate(tx)
}

type TokenStats struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TokenID    uuid.UUID `json:"tokenID" gorm:"type:uuid;not null;index"`
	AccessIP   string    `json:"accessIP" gorm:"type:varchar(45);not null"`
	Resource   string    `json:"resource" gorm:"type:varchar(255);not null"`
	AccessTime time.Time `json:"accessTime" gorm:"not null;index"`
	UsageCount int       `json:"usageCount" gorm:"not null;default:1"`
}

func (s *TokenStats) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.AccessTime.IsZero() {
		s.AccessTime = time.Now().UTC()
	}
	return nil
}

func (TokenStats) TableName() string {
	return "token_stats"
}
