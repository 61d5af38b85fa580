package reporter

import (
	"ispbss/services/subscriber"

	"go.uber.org/fx"
)

var Module = fx.Module("reporter.module",
	fx.Provide(
		func(s *subscriber.Store) Counter { return s },
		NewService,
	),
)
