package worker

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/consolidate"
	graphmem "github.com/engramlabs/engram/pkg/graph/inmemory"
	"github.com/engramlabs/engram/pkg/item"
	lexmem "github.com/engramlabs/engram/pkg/lexical/inmemory"
	"github.com/engramlabs/engram/pkg/store"
	"github.com/engramlabs/engram/pkg/store/inmemory"
	"github.com/engramlabs/engram/pkg/synthesis/naive"
	"github.com/engramlabs/engram/pkg/tier"
	vecmem "github.com/engramlabs/engram/pkg/vector/inmemory"
)

func TestWorkerPool(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Maintenance Pool Suite")
}

var _ = Describe("Worker Pool", func() {
	var (
		ctx     context.Context
		docs    *inmemory.Driver
		tiers   *tier.Manager
		sweeper *consolidate.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		docs = inmemory.NewDriver()
		tiers = tier.NewManager(docs, tier.DefaultConfig(), zap.NewNop())
		sweeper = consolidate.NewEngine(
			docs,
			inmemory.NewLockDriver(),
			vecmem.NewDriver(),
			lexmem.NewDriver(),
			graphmem.NewDriver(),
			naive.NewMerger(),
			consolidate.DefaultConfig(),
			zap.NewNop(),
		)
	})

	newPool := func() *Pool {
		wp, err := NewPool(&Config{
			Tiers:        tiers,
			Consolidator: sweeper,
			Logger:       zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
		return wp
	}

	put := func(id, content string) {
		m := &item.MemoryItem{
			ID:          id,
			Content:     content,
			Fingerprint: item.ComputeFingerprint(content),
			Tier:        item.TierWorking,
			Importance:  0.5,
			CreatedAt:   time.Now().Add(-time.Hour),
		}
		Expect(docs.Put(ctx, m)).To(Succeed())
	}

	Describe("Enqueue", func() {
		It("returns true when the queue has capacity", func() {
			wp := newPool()
			Expect(wp.Enqueue(Job{Kind: KindResurrect, ItemID: "nope"})).To(BeTrue())
			wp.Close()
		})

		It("bounds every job with the default timeout", func() {
			wp := newPool()
			defer wp.Close()
			Expect(wp.config.JobTimeout).To(Equal(time.Minute))
		})
	})

	Describe("resurrection jobs", func() {
		It("promotes an archived item that passes the gate", func() {
			put("item-1", "an old but busy memory")
			m, _ := docs.Get(ctx, "item-1")
			m.Tier = item.TierArchived
			m.AccessCount = 9
			m.DecayScore = 0.8
			Expect(docs.UpdateCAS(ctx, m, m.Version)).To(Succeed())

			wp := newPool()
			Expect(wp.Enqueue(Job{Kind: KindResurrect, ItemID: "item-1"})).To(BeTrue())
			wp.Close()

			got, err := docs.Get(ctx, "item-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Tier).To(Equal(item.TierWorking))
		})

		It("leaves an item that fails the gate untouched", func() {
			put("item-1", "a cold memory")
			m, _ := docs.Get(ctx, "item-1")
			m.Tier = item.TierArchived
			m.AccessCount = 1
			m.DecayScore = 0.1
			Expect(docs.UpdateCAS(ctx, m, m.Version)).To(Succeed())

			wp := newPool()
			wp.Enqueue(Job{Kind: KindResurrect, ItemID: "item-1"})
			wp.Close()

			got, _ := docs.Get(ctx, "item-1")
			Expect(got.Tier).To(Equal(item.TierArchived))
		})
	})

	Describe("consolidation jobs", func() {
		It("merges exact duplicates discovered in the batch", func() {
			put("item-a", "the sky is blue")
			put("item-b", "the sky is blue")

			wp := newPool()
			Expect(wp.Enqueue(Job{Kind: KindConsolidate, BatchSize: 100})).To(BeTrue())
			wp.Close()

			stats, err := docs.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalLive).To(Equal(int64(1)))
			Expect(stats.Tombstoned).To(Equal(int64(1)))
		})

		It("abandons a batch whose deadline has already passed", func() {
			put("item-a", "the sky is blue")
			put("item-b", "the sky is blue")

			wp, err := NewPool(&Config{
				Tiers:        tiers,
				Consolidator: sweeper,
				JobTimeout:   -time.Millisecond,
				Logger:       zap.NewNop(),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(wp.Enqueue(Job{Kind: KindConsolidate, BatchSize: 100})).To(BeTrue())
			wp.Close()

			stats, err := docs.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalLive).To(Equal(int64(2)))
			Expect(stats.Tombstoned).To(BeZero())
		})
	})

	It("ignores unknown job kinds", func() {
		wp := newPool()
		Expect(wp.Enqueue(Job{Kind: Kind("bogus")})).To(BeTrue())
		wp.Close()
	})

	It("tolerates a missing item in a resurrection job", func() {
		wp := newPool()
		Expect(wp.Enqueue(Job{Kind: KindResurrect, ItemID: "ghost"})).To(BeTrue())
		wp.Close()

		_, err := docs.Get(ctx, "ghost")
		Expect(err).To(MatchError(store.ErrNotFound))
	})
})
