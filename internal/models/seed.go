package models

import (
	"database/sql/driver"
	"encoding/json"
)

// SeedNode 种子图中的一个节点（区域）
type SeedNode struct {
	NodeID string `json:"node_id"`
	Layer  int    `json:"layer"` // 距起点的拓扑深度
	Tier   int    `json:"tier"`
	Type   string `json:"type"` // zone, boss, dlc ...
}

// SeedNodeList 节点列表（JSON存储）
type SeedNodeList []SeedNode

// Value 实现 driver.Valuer 接口
func (l SeedNodeList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan 实现 sql.Scanner 接口
func (l *SeedNodeList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		strVal, ok := value.(string)
		if !ok {
			return nil
		}
		bytes = []byte(strVal)
	}
	return json.Unmarshal(bytes, l)
}

// FlagMap 事件标志ID到目标节点的映射（JSON存储）
// 标志ID对遥测端是不透明的数字。
type FlagMap map[uint32]string

// Value 实现 driver.Valuer 接口
func (m FlagMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan 实现 sql.Scanner 接口
func (m *FlagMap) Scan(value interface{}) error {
	if value == nil {
		*m = make(FlagMap)
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		strVal, ok := value.(string)
		if !ok {
			return nil
		}
		bytes = []byte(strVal)
	}
	return json.Unmarshal(bytes, m)
}

// Seed 种子表（迷雾门随机化的联通图）
type Seed struct {
	BaseModel
	Name        string       `gorm:"size:100;not null" json:"name"`
	TotalLayers int          `gorm:"not null;default:0" json:"total_layers"`
	Nodes       SeedNodeList `gorm:"type:json" json:"nodes"`
	Flags       FlagMap      `gorm:"type:json" json:"flags"`
	FinishFlag  uint32       `gorm:"not null;default:0" json:"finish_flag"`
}

// TableName 指定表名
func (Seed) TableName() string {
	return "seeds"
}

// ResolveFlag 解析事件标志，返回目标节点ID
func (s *Seed) ResolveFlag(flagID uint32) (string, bool) {
	nodeID, ok := s.Flags[flagID]
	return nodeID, ok
}

// NodeLayer 查询节点所在层，未知节点返回0
func (s *Seed) NodeLayer(nodeID string) int {
	for i := range s.Nodes {
		if s.Nodes[i].NodeID == nodeID {
			return s.Nodes[i].Layer
		}
	}
	return 0
}

// SeedSummary 下发给遥测端的种子摘要
// 只包含总层数和要监听的标志ID列表，绝不暴露标志到区域的映射（防剧透）。
type SeedSummary struct {
	TotalLayers int      `json:"total_layers"`
	FlagIDs     []uint32 `json:"flag_ids"`
}

// Summary 生成种子摘要
func (s *Seed) Summary() *SeedSummary {
	ids := make([]uint32, 0, len(s.Flags))
	for id := range s.Flags {
		ids = append(ids, id)
	}
	return &SeedSummary{
		TotalLayers: s.TotalLayers,
		FlagIDs:     ids,
	}
}
