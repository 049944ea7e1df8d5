// Package lane provides the ordered event pipeline: a single worker draining
// an unbounded FIFO queue. Everything the feed delivers concurrently is
// serialized here before it touches the bus, which is the gateway's only hard
// ordering guarantee.
package lane

import (
	"context"
	"fmt"
	"sync"

	"fxgateway/logger"
)

// Job is one unit of work on the lane.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// ReportFunc receives job failures. The lane itself never stops on one.
type ReportFunc func(job string, err error)

type Lane struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Job
	running bool
	closed  bool
	abandon bool

	ctx    context.Context
	wg     sync.WaitGroup
	log    *logger.Log
	report ReportFunc

	processed int64
	errors    int64
}

func New(report ReportFunc) *Lane {
	l := &Lane{
		log:    logger.GetLogger(),
		report: report,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *Lane) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("lane already running")
	}
	l.running = true
	l.ctx = ctx
	l.mu.Unlock()

	log := l.log.WithComponent("lane")
	log.Info("starting event lane")

	// Cancellation abandons whatever is still queued; Stop drains it.
	go func() {
		<-ctx.Done()
		l.mu.Lock()
		l.abandon = true
		l.cond.Broadcast()
		l.mu.Unlock()
	}()

	l.wg.Add(1)
	go l.worker()
	return nil
}

// Submit enqueues a job. It reports whether the job was accepted; a closed
// lane drops work instead of blocking the feed's callback threads.
func (l *Lane) Submit(job Job) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.abandon {
		return false
	}
	l.queue = append(l.queue, job)
	l.cond.Signal()
	return true
}

// Stop closes the intake and waits for the worker to drain the queue.
func (l *Lane) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()

	l.wg.Wait()

	l.mu.Lock()
	l.running = false
	processed, errors := l.processed, l.errors
	l.mu.Unlock()

	l.log.WithComponent("lane").WithFields(logger.Fields{
		"jobs_processed": processed,
		"job_errors":     errors,
	}).Info("event lane stopped")
}

// Depth returns the number of queued jobs.
func (l *Lane) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Lane) worker() {
	defer l.wg.Done()

	log := l.log.WithComponent("lane")

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed && !l.abandon {
			l.cond.Wait()
		}
		if l.abandon {
			dropped := len(l.queue)
			l.queue = nil
			l.mu.Unlock()
			if dropped > 0 {
				log.WithFields(logger.Fields{"dropped": dropped}).Warn("abandoning queued jobs on cancellation")
			}
			return
		}
		if len(l.queue) == 0 {
			// closed and drained
			l.mu.Unlock()
			return
		}
		job := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		if err := job.Run(l.ctx); err != nil {
			l.mu.Lock()
			l.errors++
			l.mu.Unlock()
			log.WithError(err).WithFields(logger.Fields{"job": job.Name}).Warn("job failed")
			if l.report != nil {
				l.report(job.Name, err)
			}
			continue
		}
		l.mu.Lock()
		l.processed++
		l.mu.Unlock()
	}
}
