package tier_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/google/uuid"

	"github.com/engramlabs/engram/pkg/item"
	"github.com/engramlabs/engram/pkg/store"
	"github.com/engramlabs/engram/pkg/store/inmemory"
	"github.com/engramlabs/engram/pkg/tier"
)

func TestTier(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Tier Manager Suite")
}

var _ = Describe("Manager", func() {
	var (
		ctx     context.Context
		st      *inmemory.Driver
		manager *tier.Manager
		now     time.Time
	)

	newItem := func(t item.Tier, decayScore float64) *item.MemoryItem {
		m := &item.MemoryItem{
			ID:            uuid.NewString(),
			Content:       "the sky is blue",
			Fingerprint:   item.ComputeFingerprint("the sky is blue"),
			Tier:          t,
			Importance:    0.8,
			DecayScore:    decayScore,
			CreatedAt:     now.Add(-time.Hour),
			TierChangedAt: now.Add(-time.Hour),
		}
		Expect(st.Put(ctx, m)).To(Succeed())
		stored, err := st.Get(ctx, m.ID)
		Expect(err).NotTo(HaveOccurred())
		return stored
	}

	BeforeEach(func() {
		ctx = context.Background()
		st = inmemory.NewDriver()
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		manager = tier.NewManager(st, tier.DefaultConfig(), nil)
		manager.SetClock(func() time.Time { return now })
	})

	Describe("Evaluate", func() {
		It("demotes Working when the decay score drops below threshold", func() {
			m := newItem(item.TierWorking, 0.2)
			target, reason := manager.Evaluate(m, now)
			Expect(target).To(Equal(item.TierShortTerm))
			Expect(reason).To(Equal(tier.ReasonDecay))
		})

		It("demotes Working when the TTL elapses even with a healthy score", func() {
			m := newItem(item.TierWorking, 0.9)
			target, reason := manager.Evaluate(m, now.Add(25*time.Hour))
			Expect(target).To(Equal(item.TierShortTerm))
			Expect(reason).To(Equal(tier.ReasonTTL))
		})

		It("keeps a healthy Working item in place", func() {
			m := newItem(item.TierWorking, 0.9)
			target, reason := manager.Evaluate(m, now)
			Expect(target).To(Equal(item.TierWorking))
			Expect(reason).To(BeEmpty())
		})

		It("promotes ShortTerm to LongTerm with enough access and dwell", func() {
			m := newItem(item.TierShortTerm, 0.7)
			m.AccessCount = 4
			m.TierChangedAt = now.Add(-72 * time.Hour)
			target, reason := manager.Evaluate(m, now)
			Expect(target).To(Equal(item.TierLongTerm))
			Expect(reason).To(Equal(tier.ReasonPromotion))
		})

		It("refuses promotion from an access burst without dwell", func() {
			m := newItem(item.TierShortTerm, 0.7)
			m.AccessCount = 50
			target, _ := manager.Evaluate(m, now)
			Expect(target).To(Equal(item.TierShortTerm))
		})

		It("never moves Archived forward", func() {
			m := newItem(item.TierArchived, 0.0)
			target, _ := manager.Evaluate(m, now)
			Expect(target).To(Equal(item.TierArchived))
		})
	})

	Describe("Apply", func() {
		It("commits the transition and recomputes expiry", func() {
			m := newItem(item.TierWorking, 0.2)
			changed, err := manager.Apply(ctx, m)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(m.Tier).To(Equal(item.TierShortTerm))
			Expect(m.TierChangedAt).To(Equal(now))
			Expect(m.ExpiresAt).NotTo(BeNil())
			Expect(*m.ExpiresAt).To(Equal(now.Add(7 * 24 * time.Hour)))

			stored, err := st.Get(ctx, m.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Tier).To(Equal(item.TierShortTerm))
		})

		It("is idempotent: a second apply is a no-op", func() {
			m := newItem(item.TierWorking, 0.4)
			changed, err := manager.Apply(ctx, m)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())

			changed, err = manager.Apply(ctx, m)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(m.Tier).To(Equal(item.TierShortTerm))
		})

		It("never cascades through tiers on back-to-back applies of a rotten item", func() {
			m := newItem(item.TierWorking, 0.05)
			changed, err := manager.Apply(ctx, m)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(m.Tier).To(Equal(item.TierShortTerm))

			// The score is below every threshold, but the fresh dwell
			// clock holds the item in ShortTerm for now.
			changed, err = manager.Apply(ctx, m)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(m.Tier).To(Equal(item.TierShortTerm))

			// Once the minimum dwell has passed the next demotion fires.
			now = now.Add(2 * time.Hour)
			changed, err = manager.Apply(ctx, m)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(m.Tier).To(Equal(item.TierLongTerm))
		})

		It("clears expiry when the target tier has no TTL", func() {
			m := newItem(item.TierLongTerm, 0.05)
			changed, err := manager.Apply(ctx, m)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(m.Tier).To(Equal(item.TierArchived))
			Expect(m.ExpiresAt).To(BeNil())
		})

		It("surfaces a stale version instead of overwriting", func() {
			m := newItem(item.TierWorking, 0.2)

			// Concurrent writer bumps the stored version.
			other, err := st.Get(ctx, m.ID)
			Expect(err).NotTo(HaveOccurred())
			other.Importance = 0.5
			Expect(st.UpdateCAS(ctx, other, other.Version)).To(Succeed())

			_, err = manager.Apply(ctx, m)
			Expect(err).To(MatchError(store.ErrStaleVersion))
		})

		It("skips tombstoned items", func() {
			m := newItem(item.TierWorking, 0.2)
			m.Tombstoned = true
			changed, err := manager.Apply(ctx, m)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
		})
	})

	Describe("Resurrect", func() {
		It("returns a strongly-hit item to Working", func() {
			m := newItem(item.TierLongTerm, 0.7)
			m.AccessCount = 6
			Expect(st.UpdateCAS(ctx, m, m.Version)).To(Succeed())

			changed, err := manager.Resurrect(ctx, m.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())

			stored, err := st.Get(ctx, m.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Tier).To(Equal(item.TierWorking))
		})

		It("refuses when the access count is short of the gate", func() {
			m := newItem(item.TierLongTerm, 0.9)
			m.AccessCount = 2
			Expect(st.UpdateCAS(ctx, m, m.Version)).To(Succeed())

			changed, err := manager.Resurrect(ctx, m.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
		})

		It("refuses when the decay score is below the gate", func() {
			m := newItem(item.TierLongTerm, 0.1)
			m.AccessCount = 100
			Expect(st.UpdateCAS(ctx, m, m.Version)).To(Succeed())

			changed, err := manager.Resurrect(ctx, m.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
		})

		It("is a no-op for items already in Working", func() {
			m := newItem(item.TierWorking, 0.9)
			changed, err := manager.Resurrect(ctx, m.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
		})
	})
})
