package models

import (
	"time"
)

// Organizer 主办方账号表
type Organizer struct {
	BaseModel
	Username     string     `gorm:"uniqueIndex;size:50;not null" json:"username"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	Role         string     `gorm:"size:20;default:'organizer'" json:"role"` // organizer, admin
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// TableName 指定表名
func (Organizer) TableName() string {
	return "organizers"
}
