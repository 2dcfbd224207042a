package waitqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// WaitQueue serializes calls against a rate-sensitive upstream: at most
// capacity sends per interval, with a fixed gap between consecutive sends.
type WaitQueue struct {
	timer           *time.Timer
	gap             time.Duration
	capacity        int32
	intervalTicker  *time.Ticker
	intervalCounter atomic.Int32
	sendLock        *sync.Mutex
	cancelTicker    context.CancelFunc
	done            chan struct{}
}

func New(ctx context.Context, interval time.Duration, capacity int32, gap time.Duration) *WaitQueue {
	ctx, cancel := context.WithCancel(ctx)
	wq := &WaitQueue{
		timer:           time.NewTimer(0),
		gap:             gap,
		capacity:        capacity,
		done:            make(chan struct{}),
		intervalTicker:  time.NewTicker(interval),
		intervalCounter: atomic.Int32{},
		sendLock:        &sync.Mutex{},
		cancelTicker:    cancel,
	}

	go wq.runTicker(ctx)
	return wq
}

func (w *WaitQueue) runTicker(ctx context.Context) {
	defer func() { w.done <- struct{}{} }()
	for {
		select {
		case <-w.intervalTicker.C:
			w.intervalCounter.Store(0)
		case <-ctx.Done():
			return
		}
	}
}

func (w *WaitQueue) Close() {
	w.cancelTicker()
	<-w.done
}

func (w *WaitQueue) SendSingle(ctx context.Context, fn func() error) error {
	return w.SendMany(ctx, 1, fn)
}

func (w *WaitQueue) SendMany(ctx context.Context, n int32, fn func() error) error {
	<-w.timer.C
	defer w.timer.Reset(w.gap)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := w.trySend(fn, n); nil != err {
				if errors.Is(err, errIntervalCapReached) {
					continue
				}
				return err
			}
			return nil
		}
	}
}

var errIntervalCapReached = errors.New("wait queue interval capacity has reached, waiting for next interval")

func (w *WaitQueue) trySend(fn func() error, n int32) error {
	w.sendLock.Lock()
	defer w.sendLock.Unlock()

	if c := w.intervalCounter.Load(); w.capacity-c >= n {
		if err := fn(); nil != err {
			return err
		}
		w.intervalCounter.Add(n)
		return nil
	}
	return errIntervalCapReached
}
