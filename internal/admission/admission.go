// Package admission bounds concurrent inference per device. Each device has
// a fixed number of run slots and a bounded FIFO wait queue; everything past
// the queue is rejected immediately.
package admission

import (
	"context"
	"sort"
	"sync"
	"time"

	"ttsd/pkg/types"
)

// Priority selects queue behavior for a request.
type Priority int

const (
	// PriorityNormal waits its turn in the device queue.
	PriorityNormal Priority = iota
	// PriorityHigh skips the wait queue and contends directly for a run
	// slot. Policy hook; nothing in the serving path uses it yet.
	PriorityHigh
)

type lane struct {
	device  types.Device
	runCh   chan struct{} // cap = device concurrency
	queueCh chan struct{} // cap = queue depth
}

// Controller grants admission tickets against per-device budgets.
type Controller struct {
	lanes   map[types.Device]*lane
	maxWait time.Duration
}

// New builds a controller from device concurrency budgets. Devices absent
// from budgets are unavailable.
func New(budgets map[types.Device]int, queueDepth int, maxWait time.Duration) *Controller {
	lanes := make(map[types.Device]*lane, len(budgets))
	for dev, slots := range budgets {
		if slots <= 0 {
			slots = 1
		}
		lanes[dev] = &lane{
			device:  dev,
			runCh:   make(chan struct{}, slots),
			queueCh: make(chan struct{}, queueDepth),
		}
	}
	return &Controller{lanes: lanes, maxWait: maxWait}
}

// Ticket is a granted reservation against a device's concurrency budget.
// Release must be called exactly once; it is safe to defer.
type Ticket struct {
	lane *lane
	once sync.Once
}

// Release frees the run slot, unblocking the next queued request in arrival
// order.
func (t *Ticket) Release() {
	t.once.Do(func() {
		<-t.lane.runCh
	})
}

// Admit grants a run slot for the device. When the device is saturated the
// request takes a wait-queue slot and blocks for a free run slot. It fails
// with QueueFull when the wait queue is at its bound, QueueTimeout when no
// run slot frees up within the configured wait, and the context error when
// the caller goes away, in which case the request leaves the queue with no
// other side effects.
func (c *Controller) Admit(ctx context.Context, device types.Device, prio Priority) (*Ticket, error) {
	ln, ok := c.lanes[device]
	if !ok {
		return nil, deviceUnavailableError{device: device}
	}

	// Respect an already-canceled context before taking any slot.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Fast path: a free run slot needs no queueing.
	select {
	case ln.runCh <- struct{}{}:
		return &Ticket{lane: ln}, nil
	default:
	}

	queued := false
	if prio != PriorityHigh {
		select {
		case ln.queueCh <- struct{}{}:
			queued = true
		default:
			return nil, queueFullError{device: device}
		}
	}
	// The queue slot is held only while waiting for a run slot.
	defer func() {
		if queued {
			<-ln.queueCh
		}
	}()

	timer := time.NewTimer(c.maxWait)
	defer timer.Stop()
	select {
	case ln.runCh <- struct{}{}:
		return &Ticket{lane: ln}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, queueTimeoutError{device: device}
	}
}

// Has reports whether the device is configured.
func (c *Controller) Has(device types.Device) bool {
	_, ok := c.lanes[device]
	return ok
}

// Status reports lane occupancy for /status, sorted by device name.
func (c *Controller) Status() []types.LaneStatus {
	out := make([]types.LaneStatus, 0, len(c.lanes))
	for _, ln := range c.lanes {
		out = append(out, types.LaneStatus{
			Device:     ln.device,
			Slots:      cap(ln.runCh),
			Running:    len(ln.runCh),
			QueueLen:   len(ln.queueCh),
			QueueDepth: cap(ln.queueCh),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}
