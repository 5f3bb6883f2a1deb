package compositor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const defaultQueueSize = 400
const queueHighWater = 390

type Task struct {
	Ctx          context.Context
	Payload      *Job
	RemoteAddr   string
	RequestBytes int
	Resp         chan *Result
	Error        chan error
}

func NewTask(ctx context.Context, job *Job) *Task {
	return &Task{
		Ctx:     ctx,
		Payload: job,
		Resp:    make(chan *Result, 1),
		Error:   make(chan error, 1),
	}
}

// WorkerPool runs queued jobs on a fixed number of goroutines.
type WorkerPool struct {
	TaskQueue chan *Task

	runner *Runner
	logger *zap.Logger
	wg     sync.WaitGroup
}

func (p *WorkerPool) AddQueue(task *Task) {
	if len(p.TaskQueue) > queueHighWater {
		task.Error <- fmt.Errorf("Pool TaskQueue is full")
		return
	}
	p.TaskQueue <- task
}

func CreateWorkerPool(n int, runner *Runner, logger *zap.Logger) *WorkerPool {
	if n <= 0 {
		n = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &WorkerPool{
		TaskQueue: make(chan *Task, defaultQueueSize),
		runner:    runner,
		logger:    logger,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	return p
}

func (p *WorkerPool) work(idx int) {
	defer p.wg.Done()
	for task := range p.TaskQueue {
		if err := task.Ctx.Err(); err != nil {
			task.Error <- err
			continue
		}
		p.logger.Debug("worker picked up job", zap.Int("worker", idx), zap.String("job", task.Payload.ID))
		res, err := p.runner.Run(task.Ctx, task.Payload, task.RemoteAddr, task.RequestBytes)
		if err != nil {
			p.logger.Warn("job failed", zap.String("job", task.Payload.ID), zap.Error(err))
			task.Error <- err
			continue
		}
		task.Resp <- res
	}
}

// Close stops accepting tasks and waits for the running ones.
func (p *WorkerPool) Close() {
	close(p.TaskQueue)
	p.wg.Wait()
}
