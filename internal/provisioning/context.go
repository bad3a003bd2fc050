package provisioning

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/imamik/k3ssm/internal/config"
	"github.com/imamik/k3ssm/internal/metrics"
)

// Context wraps the dependencies shared by one stage run.
type Context struct {
	context.Context
	Stage    string
	Observer Observer
	Timeouts *config.Timeouts
	Metrics  *metrics.Recorder
}

// NewContext creates a stage context logging through log.
func NewContext(ctx context.Context, stage string, log logr.Logger, rec *metrics.Recorder) *Context {
	return &Context{
		Context:  ctx,
		Stage:    stage,
		Observer: NewLogObserver(log.WithName(stage)),
		Timeouts: config.LoadTimeouts(),
		Metrics:  rec,
	}
}

// WithContext returns a copy of c bound to ctx.
func (c *Context) WithContext(ctx context.Context) *Context {
	out := *c
	out.Context = ctx
	return &out
}

// WithObserver returns a copy of c using observer.
func (c *Context) WithObserver(observer Observer) *Context {
	out := *c
	out.Observer = observer
	return &out
}
