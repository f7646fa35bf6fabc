package link

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DefaultIdleInterval is how long the sender sleeps when there's nothing to send.
const DefaultIdleInterval = 100 * time.Millisecond

// RetryPolicy controls retransmission of unacknowledged messages.
type RetryPolicy struct {
	// AckTimeout is used for kinds with a zero AckTimeout.
	AckTimeout time.Duration
	// RetryInterval is an optional pause before retransmitting.
	RetryInterval time.Duration
	// MaxAttempts drops a message after this many transmissions.
	// Zero retries forever.
	MaxAttempts int
}

// DefaultRetryPolicy retries forever without pause.
var DefaultRetryPolicy = RetryPolicy{AckTimeout: DefaultAckTimeout}

// OutboundEntry is a queued message.
type OutboundEntry struct {
	Message    Message
	AckTimeout time.Duration // FireAndForget if no ack is expected
	Attempts   int
}

// SendFunc transmits an encoded inner message.
type SendFunc func(raw []byte) error

// DeliveryEngine owns the outbound queue and the ack echo queue and runs the
// sender loop.
type DeliveryEngine struct {
	Policy RetryPolicy
	Idle   time.Duration

	// OnSent is called after a message leaves the queue, and after every Ack.
	OnSent func(raw []byte, remaining int)
	// OnDropped is called when a message exceeds Policy.MaxAttempts.
	OnDropped func(raw []byte, attempts int)

	lock       sync.Mutex
	outbound   []*OutboundEntry
	echoes     []byte
	pendingAck byte
	hasAck     bool
	ackCh      chan struct{} // closed and replaced when an Ack is observed
	wakeCh     chan struct{}
}

// NewDeliveryEngine creates a DeliveryEngine.
func NewDeliveryEngine(policy RetryPolicy) *DeliveryEngine {
	if policy.AckTimeout <= 0 {
		policy.AckTimeout = DefaultAckTimeout
	}
	return &DeliveryEngine{
		Policy: policy,
		Idle:   DefaultIdleInterval,
		ackCh:  make(chan struct{}),
		wakeCh: make(chan struct{}, 1),
	}
}

// Enqueue appends a message to the outbound queue. It never blocks.
func (e *DeliveryEngine) Enqueue(msg Message) *OutboundEntry {
	entry := &OutboundEntry{Message: msg, AckTimeout: msg.Kind.AckTimeout}
	if entry.AckTimeout == 0 {
		entry.AckTimeout = e.Policy.AckTimeout
	}
	e.lock.Lock()
	e.outbound = append(e.outbound, entry)
	e.lock.Unlock()
	e.wake()
	return entry
}

// Pending returns the number of queued outbound messages.
func (e *DeliveryEngine) Pending() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.outbound)
}

// Reset clears both queues and the pending ack.
func (e *DeliveryEngine) Reset() {
	e.lock.Lock()
	e.outbound, e.echoes, e.hasAck = nil, nil, false
	e.lock.Unlock()
}

// HandleInbound does the ack bookkeeping for a valid inbound message.
func (e *DeliveryEngine) HandleInbound(env Envelope) {
	if !env.Valid {
		return
	}
	if env.Code != KindAck.Code {
		e.lock.Lock()
		e.echoes = append(e.echoes, env.Checksum)
		e.lock.Unlock()
		e.wake()
		return
	}
	if len(env.Message.Payload) == 0 {
		glog.V(2).Info("ack without checksum ignored")
		return
	}
	e.lock.Lock()
	e.pendingAck, e.hasAck = env.Message.Payload[0], true
	close(e.ackCh)
	e.ackCh = make(chan struct{})
	e.lock.Unlock()
}

// Run is the sender loop. It returns when ctx is done or send fails.
func (e *DeliveryEngine) Run(ctx context.Context, send SendFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.step(ctx, send); err != nil {
			return err
		}
	}
}

func (e *DeliveryEngine) step(ctx context.Context, send SendFunc) error {
	if sum, ok := e.popEcho(); ok {
		raw := NewMessage(KindAck, sum).Encode()
		if err := send(raw); err != nil {
			return err
		}
		glog.V(2).Infof("outbound ack: 0x%02X", sum)
		e.notifySent(raw, e.Pending())
		return nil
	}

	entry := e.head()
	if entry == nil {
		e.idle(ctx)
		return nil
	}

	raw := entry.Message.Encode()
	e.clearAck()
	entry.Attempts++
	if err := send(raw); err != nil {
		return err
	}
	if entry.AckTimeout < 0 {
		e.notifySent(raw, e.remove(entry))
		return nil
	}

	acked := e.awaitAck(ctx, raw[0], entry.AckTimeout)
	if glog.V(2) {
		glog.Infof("outbound [%v] %s attempt %d", acked, HexString(raw), entry.Attempts)
	}
	if acked {
		e.notifySent(raw, e.remove(entry))
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if max := e.Policy.MaxAttempts; max > 0 && entry.Attempts >= max {
		glog.Warningf("dropping %s after %d attempts", entry.Message, entry.Attempts)
		e.remove(entry)
		if fn := e.OnDropped; fn != nil {
			fn(raw, entry.Attempts)
		}
		return nil
	}
	if d := e.Policy.RetryInterval; d > 0 {
		sleep(ctx, d)
	}
	return nil
}

func (e *DeliveryEngine) popEcho() (byte, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if len(e.echoes) == 0 {
		return 0, false
	}
	sum := e.echoes[0]
	e.echoes = e.echoes[1:]
	return sum, true
}

func (e *DeliveryEngine) head() *OutboundEntry {
	e.lock.Lock()
	defer e.lock.Unlock()
	if len(e.outbound) == 0 {
		return nil
	}
	return e.outbound[0]
}

// remove pops entry if it's still the head and returns the remaining count.
func (e *DeliveryEngine) remove(entry *OutboundEntry) int {
	e.lock.Lock()
	defer e.lock.Unlock()
	if len(e.outbound) > 0 && e.outbound[0] == entry {
		e.outbound[0] = nil
		e.outbound = e.outbound[1:]
	}
	return len(e.outbound)
}

func (e *DeliveryEngine) clearAck() {
	e.lock.Lock()
	e.hasAck = false
	e.lock.Unlock()
}

func (e *DeliveryEngine) awaitAck(ctx context.Context, sum byte, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		e.lock.Lock()
		if e.hasAck && e.pendingAck == sum {
			e.hasAck = false
			e.lock.Unlock()
			return true
		}
		ch := e.ackCh
		e.lock.Unlock()
		select {
		case <-ch:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (e *DeliveryEngine) idle(ctx context.Context) {
	d := e.Idle
	if d <= 0 {
		d = DefaultIdleInterval
	}
	select {
	case <-e.wakeCh:
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (e *DeliveryEngine) wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

func (e *DeliveryEngine) notifySent(raw []byte, remaining int) {
	if fn := e.OnSent; fn != nil {
		fn(raw, remaining)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
