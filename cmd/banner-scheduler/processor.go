package main

import (
	"context"
	"sync"
	"time"

	"github.com/personal/banner-lifecycle/internal/domain/schedule"
	"github.com/personal/banner-lifecycle/pkg/config"
	mylogger "github.com/personal/banner-lifecycle/pkg/logger"
	"github.com/personal/banner-lifecycle/pkg/monitoring"
)

// ActivationHandler applies one fired activation
type ActivationHandler interface {
	Handle(ctx context.Context, a *schedule.Activation) error
}

// Queue is the timer store seen from the scheduler: it claims due
// activations and takes back the ones it could not hand out
type Queue interface {
	schedule.Source
	Requeue(ctx context.Context, activation *schedule.Activation, delay time.Duration) error
}

// ActivationProcessor polls the timer store and fans due activations out to workers
type ActivationProcessor struct {
	queue    Queue
	handler  ActivationHandler
	logger   *mylogger.Logger
	config   config.SchedulerConfig
	jobs     chan *schedule.Activation
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewActivationProcessor creates a new ActivationProcessor
func NewActivationProcessor(queue Queue, handler ActivationHandler, logger *mylogger.Logger, cfg config.SchedulerConfig) *ActivationProcessor {
	return &ActivationProcessor{
		queue:    queue,
		handler:  handler,
		logger:   logger,
		config:   cfg,
		jobs:     make(chan *schedule.Activation, cfg.BatchSize),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start starts the workers and the polling loop
func (p *ActivationProcessor) Start(ctx context.Context) {
	p.logger.Infof("Starting activation processor with %d workers", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i+1)
	}
	monitoring.UpdateActiveWorkers("banner-scheduler", p.config.WorkerCount)

	p.wg.Add(1)
	go p.pollQueue(ctx)
}

// Stop stops polling, waits for in-flight activations and hands unstarted
// ones back to the timer store
func (p *ActivationProcessor) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping activation processor...")
		close(p.stopChan)
		p.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for {
			select {
			case a := <-p.jobs:
				p.giveBack(ctx, a)
			default:
				monitoring.UpdateActiveWorkers("banner-scheduler", 0)
				p.logger.Info("Activation processor stopped")
				return
			}
		}
	})
}

// pollQueue claims due activations on every tick
func (p *ActivationProcessor) pollQueue(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *ActivationProcessor) poll(ctx context.Context) {
	if pending, err := p.queue.Pending(ctx); err == nil {
		monitoring.UpdateActivationQueueSize(pending)
	}

	// Claim no more than the workers can take right away
	free := cap(p.jobs) - len(p.jobs)
	if free == 0 {
		return
	}

	due, err := p.queue.ClaimDue(ctx, p.now(), free)
	if err != nil {
		p.logger.WithError(err).Error("Failed to claim due activations")
		return
	}
	if len(due) == 0 {
		return
	}
	p.logger.Debugf("Claimed %d due activations", len(due))

	for i, a := range due {
		select {
		case p.jobs <- a:
		case <-p.stopChan:
			for _, rest := range due[i:] {
				p.giveBack(ctx, rest)
			}
			return
		}
	}
}

func (p *ActivationProcessor) giveBack(ctx context.Context, a *schedule.Activation) {
	if err := p.queue.Requeue(ctx, a, 0); err != nil {
		p.logger.WithError(err).WithField("jobKey", a.Key()).Error("Failed to return activation to the queue")
	}
}

// runWorker handles activations until the processor stops
func (p *ActivationProcessor) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debugf("Starting worker %d", id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case a := <-p.jobs:
			p.handle(ctx, id, a)
		}
	}
}

func (p *ActivationProcessor) handle(ctx context.Context, workerID int, a *schedule.Activation) {
	handleCtx := ctx
	if timeout := p.config.HandleTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		handleCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := p.handler.Handle(handleCtx, a); err != nil {
		p.logger.WithError(err).WithFields(mylogger.Fields{
			"workerId": workerID,
			"jobKey":   a.Key(),
		}).Warn("Activation not applied")
	}
}
