package race

import (
	"context"

	"github.com/rbignon/speedfog-racing-sub000/internal/logger"
	"github.com/rbignon/speedfog-racing-sub000/internal/repository"
)

// checkAutoFinish 全员终态后把比赛推入finished
// 必须在终态写入提交之后调用：评估只看已提交的数据，
// 并发的两笔终态写入里至少最后提交的那次能看到全员终态。
// 版本号CAS保证转换恰好发生一次；未命中CAS说明别的
// 评估者已经完成转换，按无操作处理。
// 返回 true 表示本次调用完成了转换。
func (s *Service) checkAutoFinish(ctx context.Context, raceID uint) (bool, error) {
	races := repository.NewRaceRepository(s.db)
	participants := repository.NewParticipantRepository(s.db)

	race, err := races.FindByID(ctx, raceID)
	if err != nil {
		return false, err
	}
	if !race.IsRunning() {
		return false, nil
	}

	all, err := participants.FindByRace(ctx, raceID)
	if err != nil {
		return false, err
	}
	if len(all) == 0 {
		return false, nil
	}

	for _, p := range all {
		if !p.IsTerminal() {
			return false, nil
		}
	}

	won, err := races.FinishRunning(ctx, raceID, race.Version)
	if err != nil {
		return false, err
	}

	if won {
		logger.LogRaceEvent("race_finished", raceID, map[string]interface{}{
			"participants": len(all),
		})
	}

	return won, nil
}
