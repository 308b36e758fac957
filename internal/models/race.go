package models

import (
	"time"
)

// RaceStatus 比赛状态
type RaceStatus string

const (
	RaceStatusSetup     RaceStatus = "setup"     // 报名/准备阶段
	RaceStatusCountdown RaceStatus = "countdown" // 倒计时
	RaceStatusRunning   RaceStatus = "running"   // 进行中
	RaceStatusFinished  RaceStatus = "finished"  // 已结束
)

// Race 比赛表
// Version 是乐观锁令牌：每次提交的比赛变更都会自增，
// RUNNING→FINISHED 的自动转换依赖它实现精确一次。
type Race struct {
	BaseModel
	Name       string     `gorm:"size:100;not null" json:"name"`
	Slug       string     `gorm:"uniqueIndex;size:120;not null" json:"slug"`
	Status     RaceStatus `gorm:"size:20;not null;default:'setup';index" json:"status"`
	SeedID     uint       `gorm:"not null;index" json:"seed_id"`
	Version    int64      `gorm:"not null;default:0" json:"version"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Metadata   JSONMap    `gorm:"type:json" json:"metadata,omitempty"`

	// 关联
	Seed         Seed          `gorm:"foreignKey:SeedID" json:"-"`
	Participants []Participant `gorm:"foreignKey:RaceID" json:"participants,omitempty"`
}

// TableName 指定表名
func (Race) TableName() string {
	return "races"
}

// IsConnectable 遥测端是否可以连接该比赛
func (r *Race) IsConnectable() bool {
	return r.Status != RaceStatusFinished
}

// IsRunning 比赛是否进行中
func (r *Race) IsRunning() bool {
	return r.Status == RaceStatusRunning
}

// statusRank 状态的前进顺序（只允许向前转换）
var statusRank = map[RaceStatus]int{
	RaceStatusSetup:     0,
	RaceStatusCountdown: 1,
	RaceStatusRunning:   2,
	RaceStatusFinished:  3,
}

// CanTransitionTo 检查状态转换是否向前
func (r *Race) CanTransitionTo(next RaceStatus) bool {
	cur, ok1 := statusRank[r.Status]
	nxt, ok2 := statusRank[next]
	return ok1 && ok2 && nxt == cur+1
}
