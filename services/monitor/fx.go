package monitor

import (
	"ispbss/pkg/config"
	"ispbss/pkg/task"
	"ispbss/pkg/taskname"
	"ispbss/services/enforcer"
	"ispbss/services/reporter"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("monitor.module",
	fx.Provide(
		func(e *enforcer.Service) Enforcer { return e },
		func(r *reporter.Service) Reporter { return r },
		NewService,
	),
)

// WorkerModule schedules the monitor and registers its task handler.
var WorkerModule = fx.Module("monitor.worker",
	Module,
	fx.Provide(
		fx.Annotate(runSchedule, fx.ResultTags(`group:"periodic_tasks"`)),
	),
	fx.Invoke(registerTaskHandlers),
)

func runSchedule(cfg *config.Config) task.Periodic {
	return task.Periodic{
		Spec: cfg.Instance.MonitorSchedule,
		Task: NewRunTask(),
	}
}

func registerTaskHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.LicenseMonitorRun, s.HandleRunTask)
}
