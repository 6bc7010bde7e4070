package fulfillment

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type PoolConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
	// OnComplete is called from the worker goroutine after each task.
	OnComplete func(Task, Result)
}

// Pool runs tasks on a fixed set of goroutines fed by a bounded queue.
type Pool struct {
	runner      Runner
	ch          chan Task
	workers     int
	taskTimeout time.Duration
	onComplete  func(Task, Result)

	mutex     sync.RWMutex
	closed    bool
	startOnce sync.Once
	running   sync.WaitGroup

	// pending counts dispatched tasks that have not finished. Dispatch may
	// run while Wait blocks.
	pendingMu sync.Mutex
	pending   int
	idle      *sync.Cond

	logger *logrus.Logger
}

func NewPool(runner Runner, cfg PoolConfig, logger *logrus.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = time.Minute
	}
	p := &Pool{
		runner:      runner,
		ch:          make(chan Task, cfg.QueueSize),
		workers:     cfg.Workers,
		taskTimeout: cfg.TaskTimeout,
		onComplete:  cfg.OnComplete,
		logger:      logger,
	}
	p.idle = sync.NewCond(&p.pendingMu)
	return p
}

func (p *Pool) addPending(delta int) {
	p.pendingMu.Lock()
	p.pending += delta
	if p.pending == 0 {
		p.idle.Broadcast()
	}
	p.pendingMu.Unlock()
}

func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.running.Add(1)
			go p.work(i)
		}
		p.logger.WithField("workers", p.workers).Info("Fulfillment pool started")
	})
}

func (p *Pool) work(id int) {
	defer p.running.Done()
	for task := range p.ch {
		p.run(id, task)
	}
}

func (p *Pool) run(worker int, task Task) {
	defer p.addPending(-1)

	logger := p.logger.WithFields(logrus.Fields{
		"worker":   worker,
		"kind":     task.Kind,
		"order_id": task.Order.ID,
	})

	var result Result
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("panic", r).Error("Fulfillment task panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), p.taskTimeout)
		defer cancel()
		result = p.runner.Run(ctx, task)
	}()

	logger.WithFields(logrus.Fields{
		"customer_email": result.CustomerEmail,
		"team_email":     result.TeamEmail,
		"sheet_row":      result.SheetRow,
		"reminder_email": result.ReminderEmail,
		"failed":         result.Failed(task.Kind),
		"latency":        time.Since(task.EnqueuedAt).String(),
	}).Info("Fulfillment task finished")

	if p.onComplete != nil {
		p.onComplete(task, result)
	}
}

// Dispatch enqueues a task without blocking. It fails with ErrQueueFull
// when the queue is saturated and ErrClosed after Shutdown.
func (p *Pool) Dispatch(ctx context.Context, task Task) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}

	p.mutex.RLock()
	defer p.mutex.RUnlock()
	if p.closed {
		return ErrClosed
	}

	p.addPending(1)
	select {
	case p.ch <- task:
		return nil
	default:
		p.addPending(-1)
		p.logger.WithFields(logrus.Fields{
			"kind":     task.Kind,
			"order_id": task.Order.ID,
		}).Warn("Fulfillment queue full, dropping task")
		return ErrQueueFull
	}
}

// Wait blocks until no dispatched task is queued or running. Tasks
// dispatched while waiting extend the wait.
func (p *Pool) Wait() {
	p.pendingMu.Lock()
	for p.pending > 0 {
		p.idle.Wait()
	}
	p.pendingMu.Unlock()
}

func (p *Pool) QueueLen() int {
	return len(p.ch)
}

// Shutdown stops accepting tasks and drains the queue, giving up when ctx
// is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mutex.Lock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	p.mutex.Unlock()

	// Workers that were never started cannot drain the queue.
	p.Start()

	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Fulfillment pool drained")
		return nil
	case <-ctx.Done():
		p.logger.WithField("queued", len(p.ch)).Warn("Fulfillment pool shutdown timed out")
		return ctx.Err()
	}
}
