package race

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rbignon/speedfog-racing-sub000/internal/config"
	"github.com/rbignon/speedfog-racing-sub000/internal/logger"
	"github.com/rbignon/speedfog-racing-sub000/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Monitor 超时巡检器
// 周期性扫描进行中比赛里长时间没有进度的选手并判定弃赛。
// 单个选手处理失败不影响同一轮里的其他选手。
type Monitor struct {
	db        *gorm.DB
	service   *Service
	clock     clockwork.Clock
	scheduler gocron.Scheduler
	interval  time.Duration
	timeout   time.Duration
	log       *zap.Logger
}

// NewMonitor 创建超时巡检器
func NewMonitor(db *gorm.DB, service *Service, cfg *config.RaceConfig, clock clockwork.Clock) (*Monitor, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	scheduler, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, err
	}

	return &Monitor{
		db:        db,
		service:   service,
		clock:     clock,
		scheduler: scheduler,
		interval:  cfg.SweepInterval,
		timeout:   cfg.InactivityTimeout,
		log:       logger.GetModuleLogger("race"),
	}, nil
}

// Start 启动周期巡检
func (m *Monitor) Start() error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(func() {
			if err := m.SweepOnce(context.Background()); err != nil {
				m.log.Error("超时巡检失败", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return err
	}

	m.scheduler.Start()
	m.log.Info("超时巡检已启动",
		zap.Duration("interval", m.interval),
		zap.Duration("timeout", m.timeout),
	)
	return nil
}

// Stop 停止巡检
func (m *Monitor) Stop() error {
	return m.scheduler.Shutdown()
}

// SweepOnce 执行一轮超时扫描
func (m *Monitor) SweepOnce(ctx context.Context) error {
	cutoff := m.clock.Now().Add(-m.timeout)

	participants := repository.NewParticipantRepository(m.db)
	stale, err := participants.FindStale(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, p := range stale {
		if err := m.service.Forfeit(ctx, p.ID); err != nil {
			m.log.Error("超时弃赛处理失败",
				zap.Uint("race_id", p.RaceID),
				zap.Uint("participant_id", p.ID),
				zap.Error(err),
			)
			continue
		}

		m.log.Info("选手超时弃赛",
			zap.Uint("race_id", p.RaceID),
			zap.Uint("participant_id", p.ID),
			zap.Timep("last_progress_at", p.LastProgressAt),
		)
	}

	return nil
}
