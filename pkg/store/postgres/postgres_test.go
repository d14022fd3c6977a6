package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramlabs/engram/pkg/item"
	"github.com/engramlabs/engram/pkg/store"
	"github.com/engramlabs/engram/pkg/store/postgres"
)

func TestPostgresStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Postgres Store Suite")
}

// connStr returns the PostgreSQL connection string from environment or skips the test.
func connStr() string {
	dsn := os.Getenv("ENGRAM_TEST_POSTGRES_DSN")
	if dsn == "" {
		Skip("ENGRAM_TEST_POSTGRES_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

func pgItem(id, content string) *item.MemoryItem {
	return &item.MemoryItem{
		ID:          id,
		Content:     content,
		Fingerprint: item.ComputeFingerprint(content),
		Tier:        item.TierWorking,
		Importance:  0.5,
		CreatedAt:   time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		driver *postgres.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		driver, err = postgres.NewDriver(ctx, connStr(), nil)
		Expect(err).NotTo(HaveOccurred())

		// Clean all items before each test for isolation.
		for {
			items, _, err := driver.List(ctx, store.ListFilter{IncludeTombstoned: true}, "", 100)
			Expect(err).NotTo(HaveOccurred())
			if len(items) == 0 {
				break
			}
			for _, m := range items {
				Expect(driver.Delete(ctx, m.ID)).To(Succeed())
			}
		}
	})

	AfterEach(func() {
		if driver != nil {
			driver.Close()
		}
	})

	It("round-trips an item and enforces unique ids", func() {
		m := pgItem("item-1", "the sky is blue")
		Expect(driver.Put(ctx, m)).To(Succeed())

		got, err := driver.Get(ctx, "item-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Content).To(Equal("the sky is blue"))
		Expect(got.Version).To(Equal(int64(1)))

		Expect(driver.Put(ctx, pgItem("item-1", "other"))).To(MatchError(store.ErrAlreadyExists))
	})

	It("enforces compare-and-swap versioning", func() {
		Expect(driver.Put(ctx, pgItem("item-1", "original"))).To(Succeed())

		first, _ := driver.Get(ctx, "item-1")
		second, _ := driver.Get(ctx, "item-1")

		first.Content = "writer one"
		Expect(driver.UpdateCAS(ctx, first, first.Version)).To(Succeed())
		Expect(first.Version).To(Equal(int64(2)))

		second.Content = "writer two"
		Expect(driver.UpdateCAS(ctx, second, second.Version)).To(MatchError(store.ErrStaleVersion))
	})

	It("pages with a resumable cursor", func() {
		for _, id := range []string{"item-a", "item-b", "item-c"} {
			Expect(driver.Put(ctx, pgItem(id, "content of "+id))).To(Succeed())
		}

		page1, cursor, err := driver.List(ctx, store.ListFilter{}, "", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(page1).To(HaveLen(2))
		Expect(cursor).To(Equal("item-b"))

		page2, cursor, err := driver.List(ctx, store.ListFilter{}, cursor, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(page2).To(HaveLen(1))
		Expect(page2[0].ID).To(Equal("item-c"))
		Expect(cursor).To(BeEmpty())
	})

	It("finds live fingerprint twins in id order", func() {
		Expect(driver.Put(ctx, pgItem("item-b", "the sky is blue"))).To(Succeed())
		Expect(driver.Put(ctx, pgItem("item-a", "the sky is blue"))).To(Succeed())

		twins, err := driver.ByFingerprint(ctx, item.ComputeFingerprint("the sky is blue"))
		Expect(err).NotTo(HaveOccurred())
		Expect(twins).To(HaveLen(2))
		Expect(twins[0].ID).To(Equal("item-a"))
	})

	It("records access without bumping the version", func() {
		Expect(driver.Put(ctx, pgItem("item-1", "content"))).To(Succeed())

		at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
		Expect(driver.RecordAccess(ctx, "item-1", at)).To(Succeed())
		Expect(driver.RecordAccess(ctx, "item-1", at.Add(time.Hour))).To(Succeed())

		got, err := driver.Get(ctx, "item-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.AccessCount).To(Equal(int64(2)))
		Expect(got.LastAccessedAt).NotTo(BeNil())
		Expect(got.LastAccessedAt.Equal(at.Add(time.Hour))).To(BeTrue())
		Expect(got.Version).To(Equal(int64(1)))
	})

	It("reports stats by tier and tombstone state", func() {
		Expect(driver.Put(ctx, pgItem("item-1", "one"))).To(Succeed())
		Expect(driver.Put(ctx, pgItem("item-2", "two"))).To(Succeed())

		m, _ := driver.Get(ctx, "item-2")
		m.Tombstoned = true
		Expect(driver.UpdateCAS(ctx, m, m.Version)).To(Succeed())

		stats, err := driver.Stats(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.TotalLive).To(Equal(int64(1)))
		Expect(stats.Tombstoned).To(Equal(int64(1)))
	})
})

var _ = Describe("LockDriver", func() {
	var (
		ctx   context.Context
		locks *postgres.LockDriver
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		locks, err = postgres.NewLockDriver(ctx, connStr())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if locks != nil {
			locks.Close()
		}
	})

	It("grants, blocks, takes over expired leases, and releases", func() {
		key := "fp:" + item.ComputeFingerprint(time.Now().String())

		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		now := base
		locks.SetClock(func() time.Time { return now })

		lease, err := locks.Acquire(ctx, key, "worker-1", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(lease.Holder).To(Equal("worker-1"))

		_, err = locks.Acquire(ctx, key, "worker-2", time.Minute)
		Expect(err).To(MatchError(store.ErrLockHeld))

		now = base.Add(2 * time.Minute)
		lease, err = locks.Acquire(ctx, key, "worker-2", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(lease.Holder).To(Equal("worker-2"))

		Expect(locks.Release(ctx, key, "worker-2")).To(Succeed())
		_, err = locks.Acquire(ctx, key, "worker-3", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(locks.Release(ctx, key, "worker-3")).To(Succeed())
	})
})
