package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/rbignon/speedfog-racing-sub000/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 为测试套件设置测试数据库
func SetupTestDB() *gorm.DB {
	// 使用内存数据库进行测试（更快，不需要文件系统，在所有环境中都能工作）
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}

	// :memory: 下连接池里每个新连接都是一个独立的空库，必须固定单连接
	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}
	sqlDB.SetMaxOpenConns(1)

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.Seed{},
		&models.Race{},
		&models.Participant{},
		&models.ZoneVisit{},
		&models.Organizer{},
	)
	if err != nil {
		panic(err)
	}

	return db
}

// CleanupTestDB 清理测试数据库
func CleanupTestDB(db *gorm.DB) {
	sqlDB, _ := db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// CreateTestSeed 创建测试种子（三层小图）
func CreateTestSeed(t *testing.T, db *gorm.DB) *models.Seed {
	seed := &models.Seed{
		Name:        "test-seed",
		TotalLayers: 3,
		Nodes: models.SeedNodeList{
			{NodeID: "stormveil", Layer: 0, Tier: 1, Type: "zone"},
			{NodeID: "liurnia", Layer: 1, Tier: 2, Type: "zone"},
			{NodeID: "caelid", Layer: 1, Tier: 3, Type: "zone"},
			{NodeID: "leyndell", Layer: 2, Tier: 4, Type: "boss"},
		},
		Flags: models.FlagMap{
			1001: "stormveil",
			1002: "liurnia",
			1003: "caelid",
			1004: "leyndell",
		},
		FinishFlag: 9999,
	}
	err := db.Create(seed).Error
	require.NoError(t, err)
	return seed
}

// CreateTestRace 创建测试比赛
func CreateTestRace(t *testing.T, db *gorm.DB, seedID uint, status models.RaceStatus) *models.Race {
	race := &models.Race{
		Name:   "Test Race",
		Slug:   fmt.Sprintf("test-race-%d", time.Now().UnixNano()),
		Status: status,
		SeedID: seedID,
	}
	if status == models.RaceStatusRunning {
		now := time.Now()
		race.StartedAt = &now
	}
	err := db.Create(race).Error
	require.NoError(t, err)
	return race
}

// CreateTestParticipant 创建测试选手
func CreateTestParticipant(t *testing.T, db *gorm.DB, raceID uint, name string, status models.ParticipantStatus) *models.Participant {
	participant := &models.Participant{
		RaceID:   raceID,
		Name:     name,
		Status:   status,
		ModToken: fmt.Sprintf("token-%s-%d", name, time.Now().UnixNano()),
	}
	err := db.Create(participant).Error
	require.NoError(t, err)
	return participant
}
