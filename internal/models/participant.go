package models

import (
	"time"
)

// ParticipantStatus 选手状态
type ParticipantStatus string

const (
	ParticipantStatusRegistered ParticipantStatus = "registered" // 已报名
	ParticipantStatusReady      ParticipantStatus = "ready"      // 遥测端已认证
	ParticipantStatusPlaying    ParticipantStatus = "playing"    // 比赛中
	ParticipantStatusFinished   ParticipantStatus = "finished"   // 已完赛
	ParticipantStatusAbandoned  ParticipantStatus = "abandoned"  // 已弃赛
)

// Participant 选手表
// 一旦进入终态（finished/abandoned），IGT/死亡数/区域进度全部冻结。
type Participant struct {
	BaseModel
	RaceID         uint              `gorm:"not null;index" json:"race_id"`
	Name           string            `gorm:"size:100;not null" json:"name"`
	Status         ParticipantStatus `gorm:"size:20;not null;default:'registered';index" json:"status"`
	ModToken       string            `gorm:"uniqueIndex;size:64;not null" json:"-"`
	IGTMs          int64             `gorm:"not null;default:0" json:"igt_ms"`
	DeathCount     int               `gorm:"not null;default:0" json:"death_count"`
	CurrentZone    string            `gorm:"size:100" json:"current_zone"`
	CurrentLayer   int               `gorm:"not null;default:0" json:"current_layer"`
	GapMs          *int64            `json:"gap_ms,omitempty"` // 完赛时刻冻结的与头名差距
	LastProgressAt *time.Time        `json:"last_progress_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`

	// 关联
	ZoneHistory []ZoneVisit `gorm:"foreignKey:ParticipantID" json:"zone_history,omitempty"`
}

// TableName 指定表名
func (Participant) TableName() string {
	return "participants"
}

// IsTerminal 是否处于终态
func (p *Participant) IsTerminal() bool {
	return p.Status == ParticipantStatusFinished || p.Status == ParticipantStatusAbandoned
}

// LayerEntryIGT 首次到达指定层的IGT（用于排行榜同层并列时的先后）
// 找不到时返回 false。
func (p *Participant) LayerEntryIGT(layer int) (int64, bool) {
	var best int64
	found := false
	for i := range p.ZoneHistory {
		v := &p.ZoneHistory[i]
		if v.Layer != layer {
			continue
		}
		if !found || v.IGTMs < best {
			best = v.IGTMs
			found = true
		}
	}
	return best, found
}

// ZoneVisit 区域进度记录（按选手追加，区域ID唯一）
// (participant_id, node_id) 唯一索引是并发重复投递的最后防线。
type ZoneVisit struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ParticipantID uint      `gorm:"not null;uniqueIndex:idx_participant_node;index" json:"participant_id"`
	NodeID        string    `gorm:"size:100;not null;uniqueIndex:idx_participant_node" json:"node_id"`
	Layer         int       `gorm:"not null;default:0" json:"layer"`
	IGTMs         int64     `gorm:"not null;default:0" json:"igt_ms"`
	Deaths        int       `gorm:"not null;default:0" json:"deaths"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName 指定表名
func (ZoneVisit) TableName() string {
	return "zone_visits"
}
