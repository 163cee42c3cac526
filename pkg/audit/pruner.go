package audit

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/capylabs/capybot/pkg/logger"
)

// Pruner runs Store.Prune on a cron schedule. It checks the expression once a
// minute; IsDue is evaluated against the tick's own timestamp so a slow prune
// never causes a double run.
type Pruner struct {
	store         Store
	schedule      string
	retentionDays int
	gron          *gronx.Gronx
}

func NewPruner(store Store, schedule string, retentionDays int) (*Pruner, error) {
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		return nil, &ScheduleError{Expression: schedule}
	}
	return &Pruner{
		store:         store,
		schedule:      schedule,
		retentionDays: retentionDays,
		gron:          gron,
	}, nil
}

type ScheduleError struct {
	Expression string
}

func (e *ScheduleError) Error() string {
	return "invalid prune schedule: " + e.Expression
}

// Run blocks until ctx is cancelled.
func (p *Pruner) Run(ctx context.Context) {
	logger.InfoCF("audit", "Pruner started", map[string]interface{}{
		"schedule": p.schedule, "retentionDays": p.retentionDays,
	})
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("audit", "Pruner stopped")
			return
		case tick := <-ticker.C:
			due, err := p.gron.IsDue(p.schedule, tick)
			if err != nil {
				logger.ErrorCF("audit", "Schedule check failed", map[string]interface{}{
					"schedule": p.schedule, "error": err.Error(),
				})
				continue
			}
			if !due {
				continue
			}
			p.runOnce()
		}
	}
}

func (p *Pruner) runOnce() {
	removed, err := p.store.Prune(p.retentionDays)
	if err != nil {
		logger.ErrorCF("audit", "Prune failed", map[string]interface{}{"error": err.Error()})
		return
	}
	logger.InfoCF("audit", "Prune completed", map[string]interface{}{
		"removed": removed, "retentionDays": p.retentionDays,
	})
}
