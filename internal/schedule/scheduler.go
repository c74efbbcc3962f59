package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Job is a named maintenance task run on a cron spec.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type CronScheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

func NewCronScheduler() *CronScheduler {
	logger := &cronLogger{log: logutil.GetLogger(context.Background()).Sugar()}
	return &CronScheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		)),
	}
}

func (c *CronScheduler) AddJob(j Job, spec string) error {
	_, err := c.cron.AddFunc(spec, func() { c.runJob(j, spec) })
	if err != nil {
		return err
	}
	logutil.GetLogger(context.Background()).Info("job scheduled",
		zap.String("job", j.Name()), zap.String("spec", spec))
	return nil
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx
	c.cron.Start()
}

func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CronScheduler) runJob(j Job, spec string) {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logutil.GetLogger(ctx).With(
		zap.String("job", j.Name()),
		zap.String("spec", spec),
	)
	start := time.Now()
	if err := j.Run(ctx); err != nil {
		logger.Error("job failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	logger.Info("job done", zap.Duration("duration", time.Since(start)))
}

// cronLogger adapts zap to the logger the cron wrappers expect.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l *cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Infow(msg, kv...)
}

func (l *cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Errorw(msg, append(kv, "error", err)...)
}
