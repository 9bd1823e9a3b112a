// Package analyticsfx wires an analytics Client into an fx application.
package analyticsfx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/velmie/analytics"
)

// Params are the optional dependencies picked up from the container.
type Params struct {
	fx.In

	Logger         *zap.Logger              `optional:"true"`
	Metrics        analytics.Metrics        `optional:"true"`
	DeadLetterSink analytics.DeadLetterSink `optional:"true"`
}

// Module provides a *analytics.Client built from writeKey and opts. A
// *zap.Logger, analytics.Metrics or analytics.DeadLetterSink present in the
// container is applied before opts, so explicit options win.
// The client is shut down when the application stops.
func Module(writeKey string, opts ...analytics.Option) fx.Option {
	return fx.Module("analytics",
		fx.Provide(func(p Params) (*analytics.Client, error) {
			return newClient(p, writeKey, opts)
		}),
		fx.Invoke(registerLifecycle),
	)
}

func newClient(p Params, writeKey string, opts []analytics.Option) (*analytics.Client, error) {
	all := make([]analytics.Option, 0, len(opts)+3)
	if p.Logger != nil {
		all = append(all, analytics.WithLogger(analytics.NewZapLogger(p.Logger.Named("analytics").Sugar())))
	}
	if p.Metrics != nil {
		all = append(all, analytics.WithMetrics(p.Metrics))
	}
	if p.DeadLetterSink != nil {
		all = append(all, analytics.WithDeadLetterSink(p.DeadLetterSink))
	}
	all = append(all, opts...)

	return analytics.NewClient(writeKey, all...)
}

func registerLifecycle(lc fx.Lifecycle, client *analytics.Client) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Shutdown(ctx)
		},
	})
}
