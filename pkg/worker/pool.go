/*
   Copyright Docker attest authors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers   = 8
	DefaultQueueSize = 64
)

var (
	ErrQueueFull  = errors.New("evaluation queue is full")
	ErrPoolClosed = errors.New("evaluation pool is shut down")
)

// Job is one unit of background work. Its context is cancelled when the job's
// timeout expires or the pool is shut down.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool runs jobs on a fixed number of workers fed by a bounded queue. Submit never
// blocks: when the queue is full the job is rejected.
type Pool struct {
	queue      chan Job
	group      errgroup.Group
	ctx        context.Context
	cancel     context.CancelFunc
	jobTimeout time.Duration
	log        logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
}

type Options struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Log        logrus.FieldLogger
}

func NewPool(opts *Options) *Pool {
	if opts == nil {
		opts = &Options{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:      make(chan Job, queueSize),
		ctx:        ctx,
		cancel:     cancel,
		jobTimeout: opts.JobTimeout,
		log:        log,
	}
	for i := 0; i < workers; i++ {
		p.group.Go(p.work)
	}
	return p
}

func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) work() error {
	for job := range p.queue {
		p.run(job)
	}
	return nil
}

// run supervises a single job: failures and panics are logged, never propagated.
func (p *Pool) run(job Job) {
	ctx := p.ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}
	log := p.log.WithField("job", job.Name)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("background job panicked: %v", r)
		}
	}()
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		log.WithError(err).WithField("duration", time.Since(start)).Error("background job failed")
		return
	}
	log.WithField("duration", time.Since(start)).Debug("background job finished")
}

// Shutdown stops accepting jobs and waits for queued and running jobs. When ctx
// expires first, running jobs are cancelled and Shutdown still waits for them to return.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("background jobs cancelled: %w", ctx.Err())
	}
}
