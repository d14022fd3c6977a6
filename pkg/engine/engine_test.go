package engine

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/embeddings/mock"
	"github.com/engramlabs/engram/pkg/eventstream"
	graphmem "github.com/engramlabs/engram/pkg/graph/inmemory"
	"github.com/engramlabs/engram/pkg/item"
	lexmem "github.com/engramlabs/engram/pkg/lexical/inmemory"
	"github.com/engramlabs/engram/pkg/retrieval"
	"github.com/engramlabs/engram/pkg/store/inmemory"
	"github.com/engramlabs/engram/pkg/synthesis/naive"
	vecmem "github.com/engramlabs/engram/pkg/vector/inmemory"
)

func TestEngine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Engine Suite")
}

// capturePublisher records lifecycle events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []*eventstream.LifecycleEvent
}

func (p *capturePublisher) Publish(_ context.Context, e *eventstream.LifecycleEvent) error {
	if e == nil {
		return eventstream.ErrNilEvent
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) ofType(eventType string) []*eventstream.LifecycleEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*eventstream.LifecycleEvent
	for _, e := range p.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

var _ = Describe("Engine", func() {
	var (
		ctx    context.Context
		docs   *inmemory.Driver
		events *capturePublisher
		eng    *Engine
		base   time.Time
		now    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		docs = inmemory.NewDriver()
		events = &capturePublisher{}
		base = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
		now = base

		var err error
		eng, err = New(Deps{
			Store:    docs,
			Locks:    inmemory.NewLockDriver(),
			Vectors:  vecmem.NewDriver(),
			Lexical:  lexmem.NewDriver(),
			Graph:    graphmem.NewDriver(),
			Embedder: mock.NewEmbedder(32),
			Merger:   naive.NewMerger(),
			Events:   events,
			Logger:   zap.NewNop(),
		}, DefaultConfig())
		Expect(err).NotTo(HaveOccurred())
		eng.SetClock(func() time.Time { return now })
	})

	AfterEach(func() {
		Expect(eng.Close()).To(Succeed())
	})

	Describe("Submit", func() {
		It("stores a working-tier item with initial decay equal to importance", func() {
			id, err := eng.Submit(ctx, SubmitInput{
				Content:    "deploy pipeline requires the staging smoke test",
				Importance: 0.8,
				Namespace:  "ops",
				Tags:       []string{"deploy"},
			})
			Expect(err).NotTo(HaveOccurred())

			m, err := docs.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Tier).To(Equal(item.TierWorking))
			Expect(m.DecayScore).To(Equal(0.8))
			Expect(m.Fingerprint).To(Equal(item.ComputeFingerprint(m.Content)))
			Expect(m.CreatedAt.Equal(base)).To(BeTrue())
			Expect(m.ExpiresAt).NotTo(BeNil())
			Expect(m.ExpiresAt.Equal(base.Add(24 * time.Hour))).To(BeTrue())
			Expect(m.SemanticEmbedding()).To(HaveLen(32))
		})

		It("rejects invalid input loudly", func() {
			_, err := eng.Submit(ctx, SubmitInput{Content: "", Importance: 0.5})
			var verr *item.ValidationError
			Expect(err).To(BeAssignableToTypeOf(verr))

			_, err = eng.Submit(ctx, SubmitInput{Content: "fine", Importance: 1.5})
			Expect(err).To(BeAssignableToTypeOf(verr))
		})

		It("creates entity nodes and records relationships", func() {
			id, err := eng.Submit(ctx, SubmitInput{
				Content:    "alice owns the billing service",
				Importance: 0.6,
				Entities:   []EntityInput{{Name: "alice", Kind: "person"}},
			})
			Expect(err).NotTo(HaveOccurred())

			m, _ := docs.Get(ctx, id)
			Expect(m.Relationships).To(HaveLen(1))
			Expect(m.Relationships[0].TargetKind).To(Equal(item.TargetEntity))
			Expect(m.Relationships[0].Type).To(Equal("mentions"))

			// A second mention attaches to the same entity node.
			id2, err := eng.Submit(ctx, SubmitInput{
				Content:    "alice also reviews infra changes",
				Importance: 0.6,
				Entities:   []EntityInput{{Name: "alice", Kind: "person"}},
			})
			Expect(err).NotTo(HaveOccurred())

			m2, _ := docs.Get(ctx, id2)
			Expect(m2.Relationships[0].TargetID).To(Equal(m.Relationships[0].TargetID))
		})

		It("publishes an ingestion event", func() {
			id, err := eng.Submit(ctx, SubmitInput{
				Content:    "event stream check",
				Importance: 0.5,
				Namespace:  "ops",
			})
			Expect(err).NotTo(HaveOccurred())

			ingested := events.ofType(eventstream.EventTypeItemIngested)
			Expect(ingested).To(HaveLen(1))
			Expect(ingested[0].ItemID).To(Equal(id))
			Expect(ingested[0].Namespace).To(Equal("ops"))
			Expect(ingested[0].Ingested.Tier).To(Equal(string(item.TierWorking)))
			Expect(ingested[0].EventID).NotTo(BeEmpty())
			Expect(ingested[0].SchemaVersion).To(Equal(eventstream.SchemaVersionV1))
		})
	})

	Describe("Retrieve", func() {
		It("finds a submitted item through the hybrid path", func() {
			id, err := eng.Submit(ctx, SubmitInput{
				Content:    "postgres connection pool exhaustion during deploys",
				Importance: 0.7,
			})
			Expect(err).NotTo(HaveOccurred())

			result, err := eng.Retrieve(ctx, retrieval.Query{
				Text: "postgres connection pool exhaustion",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Items).NotTo(BeEmpty())
			Expect(result.Items[0].Item.ID).To(Equal(id))
			Expect(result.Degraded).To(BeEmpty())
		})

		It("asynchronously resurrects a hot item hit outside working", func() {
			id, err := eng.Submit(ctx, SubmitInput{
				Content:    "the incident runbook lives in the ops wiki",
				Importance: 0.9,
			})
			Expect(err).NotTo(HaveOccurred())

			m, _ := docs.Get(ctx, id)
			m.Tier = item.TierLongTerm
			m.AccessCount = 9
			m.DecayScore = 0.8
			m.TierChangedAt = base
			Expect(docs.UpdateCAS(ctx, m, m.Version)).To(Succeed())

			_, err = eng.Retrieve(ctx, retrieval.Query{Text: "incident runbook ops wiki"})
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() item.Tier {
				got, gerr := docs.Get(ctx, id)
				if gerr != nil {
					return ""
				}
				return got.Tier
			}).Should(Equal(item.TierWorking))
		})
	})

	Describe("RunDecaySweep", func() {
		It("halves-ish a one-day-old item and demotes it out of working", func() {
			id, err := eng.Submit(ctx, SubmitInput{
				Content:    "importance point nine, half life one day",
				Importance: 0.9,
			})
			Expect(err).NotTo(HaveOccurred())

			now = base.Add(24 * time.Hour)
			report, err := eng.RunDecaySweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Scanned).To(Equal(1))
			Expect(report.Rescored).To(Equal(1))
			Expect(report.Transitions).To(Equal(1))

			m, _ := docs.Get(ctx, id)
			Expect(m.DecayScore).To(BeNumerically("~", 0.45, 0.01))
			Expect(m.Tier).To(Equal(item.TierShortTerm))

			changed := events.ofType(eventstream.EventTypeTierChanged)
			Expect(changed).To(HaveLen(1))
			Expect(changed[0].TierChanged.From).To(Equal(string(item.TierWorking)))
			Expect(changed[0].TierChanged.To).To(Equal(string(item.TierShortTerm)))
		})

		It("leaves a fresh item in place", func() {
			_, err := eng.Submit(ctx, SubmitInput{
				Content:    "a fresh memory",
				Importance: 0.9,
			})
			Expect(err).NotTo(HaveOccurred())

			now = base.Add(time.Minute)
			report, err := eng.RunDecaySweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Transitions).To(BeZero())
		})
	})

	Describe("RunConsolidationSweep", func() {
		It("merges exact duplicates and publishes the merge", func() {
			id1, err := eng.Submit(ctx, SubmitInput{Content: "the sky is blue", Importance: 0.5})
			Expect(err).NotTo(HaveOccurred())
			id2, err := eng.Submit(ctx, SubmitInput{Content: "the sky is blue", Importance: 0.5})
			Expect(err).NotTo(HaveOccurred())

			report, next, err := eng.RunConsolidationSweep(ctx, "", 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(next).To(BeEmpty())
			Expect(report.Merges).To(HaveLen(1))

			merged := events.ofType(eventstream.EventTypeItemsMerged)
			Expect(merged).To(HaveLen(1))
			Expect([]string{id1, id2}).To(ContainElement(merged[0].Merged.SurvivorID))
			Expect(merged[0].Merged.AbsorbedIDs).To(HaveLen(1))

			stats, _ := eng.Stats(ctx)
			Expect(stats.TotalLive).To(Equal(int64(1)))
			Expect(stats.Tombstoned).To(Equal(int64(1)))
		})
	})

	Describe("RunEviction", func() {
		It("hard-deletes cold archived items and publishes the eviction", func() {
			id, err := eng.Submit(ctx, SubmitInput{Content: "ancient forgotten trivia", Importance: 0.3})
			Expect(err).NotTo(HaveOccurred())

			m, _ := docs.Get(ctx, id)
			m.Tier = item.TierArchived
			m.DecayScore = 0.01
			m.TierChangedAt = base.Add(-60 * 24 * time.Hour)
			Expect(docs.UpdateCAS(ctx, m, m.Version)).To(Succeed())

			report, err := eng.RunEviction(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Evicted).To(HaveLen(1))
			Expect(report.Evicted[0].ID).To(Equal(id))

			evicted := events.ofType(eventstream.EventTypeItemEvicted)
			Expect(evicted).To(HaveLen(1))
			Expect(evicted[0].ItemID).To(Equal(id))
			Expect(evicted[0].Evicted).NotTo(BeNil())
			Expect(evicted[0].Evicted.DecayScore).To(Equal(0.01))

			stats, _ := eng.Stats(ctx)
			Expect(stats.TotalLive).To(BeZero())
		})
	})

	Describe("Export and Import", func() {
		It("round-trips items into a fresh engine", func() {
			_, err := eng.Submit(ctx, SubmitInput{Content: "first exported memory", Importance: 0.5})
			Expect(err).NotTo(HaveOccurred())
			_, err = eng.Submit(ctx, SubmitInput{Content: "second exported memory", Importance: 0.7})
			Expect(err).NotTo(HaveOccurred())

			var buf bytes.Buffer
			exported, err := eng.Export(ctx, &buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(exported).To(Equal(2))

			restoredDocs := inmemory.NewDriver()
			restored, err := New(Deps{
				Store:    restoredDocs,
				Locks:    inmemory.NewLockDriver(),
				Vectors:  vecmem.NewDriver(),
				Lexical:  lexmem.NewDriver(),
				Graph:    graphmem.NewDriver(),
				Embedder: mock.NewEmbedder(32),
				Merger:   naive.NewMerger(),
				Logger:   zap.NewNop(),
			}, DefaultConfig())
			Expect(err).NotTo(HaveOccurred())
			defer restored.Close()

			imported, err := restored.Import(ctx, &buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(imported).To(Equal(2))

			result, err := restored.Retrieve(ctx, retrieval.Query{Text: "second exported memory"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Items).NotTo(BeEmpty())
			Expect(result.Items[0].Item.Content).To(Equal("second exported memory"))
		})

		It("skips items that already exist on re-import", func() {
			_, err := eng.Submit(ctx, SubmitInput{Content: "idempotent snapshot", Importance: 0.5})
			Expect(err).NotTo(HaveOccurred())

			var buf bytes.Buffer
			_, err = eng.Export(ctx, &buf)
			Expect(err).NotTo(HaveOccurred())

			imported, err := eng.Import(ctx, &buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(imported).To(BeZero())
		})
	})
})
