package database

import (
	"github.com/rbignon/speedfog-racing-sub000/internal/logger"
	"github.com/rbignon/speedfog-racing-sub000/internal/models"
)

// AutoMigrate 自动迁移所有表结构
func AutoMigrate() error {
	logger.Info("开始数据库迁移...")

	err := DB.AutoMigrate(
		// 比赛系统
		&models.Seed{},
		&models.Race{},
		&models.Participant{},
		&models.ZoneVisit{},

		// 主办方
		&models.Organizer{},
	)
	if err != nil {
		return err
	}

	logger.Info("数据库迁移完成")
	return nil
}
