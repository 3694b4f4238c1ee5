package gpu

import "log/slog"

// queueDepth bounds outstanding jobs on the shared queue.
const queueDepth = 64

// Context is the GPU state shared by every producer: one buffer pool and one
// queue. It is passed explicitly to each capability that needs it.
type Context struct {
	log   *slog.Logger
	pool  *Pool
	queue *HostQueue
}

// NewContext creates a host-memory GPU context. If log is nil,
// slog.Default() is used.
func NewContext(log *slog.Logger) *Context {
	if log == nil {
		log = slog.Default()
	}
	return &Context{
		log:   log.With("component", "gpu"),
		pool:  NewPool(),
		queue: NewHostQueue(queueDepth, log),
	}
}

// Pool returns the shared buffer pool.
func (c *Context) Pool() *Pool {
	return c.pool
}

// Queue returns the shared device queue.
func (c *Context) Queue() Queue {
	return c.queue
}

// Close stops the queue and reports leaked buffers.
func (c *Context) Close() {
	c.queue.Close()
	if live := c.pool.Live(); live != 0 {
		c.log.Warn("buffers still live at context close", "live", live)
	}
}
