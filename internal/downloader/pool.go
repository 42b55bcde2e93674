package downloader

import (
	"context"
	"sync"

	"github.com/lvcoi/hlsget/internal/ws"
)

// Task represents one queued download job.
type Task struct {
	ID       string
	URL      string
	Options  Options
	Execute  func(ctx context.Context, url string, opts Options) error
	OnFinish func(id string, err error)
}

// WSBroadcaster decouples the pool from the WebSocket hub.
type WSBroadcaster interface {
	Broadcast(msg ws.WSMessage)
}

// Pool manages a fixed number of workers processing download tasks for the
// web job server, broadcasting progress through the hub.
type Pool struct {
	TaskQueue chan Task
	Workers   int
	Hub       WSBroadcaster
	wg        sync.WaitGroup
	quit      chan struct{}
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewPool(workers int, hub WSBroadcaster) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		TaskQueue: make(chan Task),
		Workers:   workers,
		Hub:       hub,
		quit:      make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		<-p.ctx.Done()
		p.Stop()
	}()
	for i := 0; i < p.Workers; i++ {
		go p.worker()
	}
}

// AddTask queues a task without blocking the caller. The task counts toward
// Wait from this point, not from when a worker picks it up, so Wait covers
// queued-but-unstarted work. Tasks may be queued before Start; they sit in
// the queue until workers exist.
func (p *Pool) AddTask(t Task) {
	p.wg.Add(1)
	go func() {
		select {
		case p.TaskQueue <- t:
		case <-p.quit:
			p.wg.Done()
		}
	}()
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.quit:
			return
		case task := <-p.TaskQueue:
			p.processTask(task)
			p.wg.Done()
		}
	}
}

func (p *Pool) processTask(t Task) {
	p.Hub.Broadcast(ws.WSMessage{
		Type: "progress",
		Payload: ws.ProgressPayload{
			ID:     t.ID,
			Label:  t.URL,
			Status: "starting",
		},
	})

	// Route the session's progress through the hub instead of the terminal.
	t.Options.Renderer = &poolRenderer{id: t.ID, hub: p.Hub}
	t.Options.Quiet = true

	err := t.Execute(p.ctx, t.URL, t.Options)
	if err != nil {
		p.Hub.Broadcast(ws.WSMessage{
			Type: "error",
			Payload: ws.ErrorPayload{
				ID:      t.ID,
				Message: err.Error(),
				Code:    ExitCode(err),
			},
		})
	}

	if t.OnFinish != nil {
		t.OnFinish(t.ID, err)
	}
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		close(p.quit)
	})
}

// poolRenderer satisfies ProgressRenderer by broadcasting via the hub.
type poolRenderer struct {
	id  string
	hub WSBroadcaster
}

func (r *poolRenderer) Register(label string, total int64) string {
	r.hub.Broadcast(ws.WSMessage{
		Type: "progress",
		Payload: ws.ProgressPayload{
			ID:     r.id,
			Label:  label,
			Total:  total,
			Status: "downloading",
		},
	})
	return r.id
}

func (r *poolRenderer) Update(id string, current, total int64) {
	percent := 0.0
	if total > 0 {
		percent = float64(current) * 100 / float64(total)
	}
	r.hub.Broadcast(ws.WSMessage{
		Type: "progress",
		Payload: ws.ProgressPayload{
			ID:       r.id,
			Percent:  percent,
			Resolved: current,
			Total:    total,
			Status:   "downloading",
		},
	})
}

func (r *poolRenderer) Finish(id string) {
	r.hub.Broadcast(ws.WSMessage{
		Type: "progress",
		Payload: ws.ProgressPayload{
			ID:      r.id,
			Percent: 100,
			Status:  "complete",
		},
	})
}

func (r *poolRenderer) Log(level LogLevel, msg string) {
	if level < LogWarn {
		return
	}
	status := "warn"
	if level == LogError {
		status = "error"
	}
	r.hub.Broadcast(ws.WSMessage{
		Type: "log",
		Payload: ws.ProgressPayload{
			ID:     r.id,
			Label:  msg,
			Status: status,
		},
	})
}
