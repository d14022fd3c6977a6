package inmemory_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramlabs/engram/pkg/store"
	"github.com/engramlabs/engram/pkg/store/inmemory"
)

var _ = Describe("LockDriver", func() {
	var (
		d   *inmemory.LockDriver
		ctx context.Context
	)

	BeforeEach(func() {
		d = inmemory.NewLockDriver()
		ctx = context.Background()
	})

	It("grants a lease to the first holder", func() {
		lease, err := d.Acquire(ctx, "fp-1", "worker-a", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(lease.Holder).To(Equal("worker-a"))
	})

	It("refuses a second holder while the lease is live", func() {
		_, err := d.Acquire(ctx, "fp-1", "worker-a", time.Minute)
		Expect(err).NotTo(HaveOccurred())

		_, err = d.Acquire(ctx, "fp-1", "worker-b", time.Minute)
		Expect(err).To(MatchError(store.ErrLockHeld))
	})

	It("is reentrant for the same holder", func() {
		_, err := d.Acquire(ctx, "fp-1", "worker-a", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		_, err = d.Acquire(ctx, "fp-1", "worker-a", time.Minute)
		Expect(err).NotTo(HaveOccurred())
	})

	It("lets unrelated keys be held simultaneously", func() {
		_, err := d.Acquire(ctx, "fp-1", "worker-a", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		_, err = d.Acquire(ctx, "fp-2", "worker-b", time.Minute)
		Expect(err).NotTo(HaveOccurred())
	})

	It("allows takeover of an expired lease", func() {
		now := time.Now()
		d.SetClock(func() time.Time { return now })

		_, err := d.Acquire(ctx, "fp-1", "worker-a", time.Second)
		Expect(err).NotTo(HaveOccurred())

		d.SetClock(func() time.Time { return now.Add(2 * time.Second) })

		lease, err := d.Acquire(ctx, "fp-1", "worker-b", time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(lease.Holder).To(Equal("worker-b"))
	})

	It("frees the key on release", func() {
		_, err := d.Acquire(ctx, "fp-1", "worker-a", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Release(ctx, "fp-1", "worker-a")).To(Succeed())

		_, err = d.Acquire(ctx, "fp-1", "worker-b", time.Minute)
		Expect(err).NotTo(HaveOccurred())
	})

	It("ignores a release from a superseded holder", func() {
		now := time.Now()
		d.SetClock(func() time.Time { return now })
		_, err := d.Acquire(ctx, "fp-1", "worker-a", time.Second)
		Expect(err).NotTo(HaveOccurred())

		d.SetClock(func() time.Time { return now.Add(2 * time.Second) })
		_, err = d.Acquire(ctx, "fp-1", "worker-b", time.Minute)
		Expect(err).NotTo(HaveOccurred())

		// worker-a's late release must not free worker-b's lease.
		Expect(d.Release(ctx, "fp-1", "worker-a")).To(Succeed())
		_, err = d.Acquire(ctx, "fp-1", "worker-c", time.Minute)
		Expect(err).To(MatchError(store.ErrLockHeld))
	})

	It("grants exactly one lease under concurrent acquisition", func() {
		const workers = 32
		var wins int32
		var mu sync.Mutex
		var wg sync.WaitGroup

		wg.Add(workers)
		for i := range workers {
			go func(n int) {
				defer wg.Done()
				_, err := d.Acquire(ctx, "fp-contended", string(rune('a'+n)), time.Minute)
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else {
					Expect(err).To(MatchError(store.ErrLockHeld))
				}
			}(i)
		}
		wg.Wait()

		Expect(wins).To(Equal(int32(1)))
	})
})
