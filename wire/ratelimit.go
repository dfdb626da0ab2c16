package wire

import (
	"sync"
	"time"
)

// rateLimiter tracks how many bytes of chunk data this server has
// sent and makes sure it stays under a configured bytes-per-second
// budget. Credits accumulate in a pool on a fixed interval; serving a
// chunk spends credits, and once the pool goes negative, senders wait
// until it goes positive again.
type rateLimiter struct {
	c       chan struct{}
	stop    chan struct{}
	m       sync.Mutex
	credits int64
}

const rateLimiterInterval = 1 * time.Minute

// newRateLimiter returns a limiter admitting roughly ratePerSecond
// bytes per second, averaged over rateLimiterInterval.
func newRateLimiter(ratePerSecond float64) *rateLimiter {
	amount := int64(ratePerSecond * rateLimiterInterval.Seconds())
	r := &rateLimiter{
		c:       make(chan struct{}),
		stop:    make(chan struct{}),
		credits: amount,
	}
	go r.adder(amount)
	return r
}

func (r *rateLimiter) use(n int) {
	r.m.Lock()
	r.credits -= int64(n)
	r.m.Unlock()
}

func (r *rateLimiter) wait() {
	<-r.c
}

func (r *rateLimiter) stopAdding() {
	close(r.stop)
}

func (r *rateLimiter) adder(amount int64) {
	tick := time.NewTicker(rateLimiterInterval)
	defer tick.Stop()
	for {
		var signal chan struct{}
		r.m.Lock()
		if r.credits > 0 {
			signal = r.c
		}
		r.m.Unlock()
		select {
		case <-tick.C:
			r.use(int(-amount))
		case signal <- struct{}{}:
		case <-r.stop:
			close(r.c)
			return
		}
	}
}
