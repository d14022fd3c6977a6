package retrieval_test

import (
	"context"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	graphmem "github.com/engramlabs/engram/pkg/graph/inmemory"
	"github.com/engramlabs/engram/pkg/graph"
	"github.com/engramlabs/engram/pkg/item"
	"github.com/engramlabs/engram/pkg/lexical"
	lexmem "github.com/engramlabs/engram/pkg/lexical/inmemory"
	storemem "github.com/engramlabs/engram/pkg/store/inmemory"
	"github.com/engramlabs/engram/pkg/retrieval"
	"github.com/engramlabs/engram/pkg/vector"
	vecmem "github.com/engramlabs/engram/pkg/vector/inmemory"
)

func TestRetrieval(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Retrieval Suite")
}

// brokenVectors simulates a vector index outage.
type brokenVectors struct{}

func (brokenVectors) Add(context.Context, []vector.Document) error { return nil }

func (brokenVectors) Query(context.Context, []float32, int, vector.Filter) ([]vector.QueryResult, error) {
	return nil, vector.ErrUnavailable
}

func (brokenVectors) Get(context.Context, []string) ([]vector.Document, error) {
	return nil, vector.ErrUnavailable
}

func (brokenVectors) Delete(context.Context, []string) error { return nil }

func (brokenVectors) Close() error { return nil }

var _ = Describe("Orchestrator", func() {
	var (
		ctx  context.Context
		st   *storemem.Driver
		vec  *vecmem.Driver
		lex  *lexmem.Driver
		gr   *graphmem.Driver
		orch *retrieval.Orchestrator
		now  time.Time
	)

	put := func(id, content string, embedding []float32) *item.MemoryItem {
		m := &item.MemoryItem{
			ID:            id,
			Content:       content,
			Fingerprint:   item.ComputeFingerprint(content),
			Tier:          item.TierWorking,
			Importance:    0.5,
			DecayScore:    0.5,
			CreatedAt:     now.Add(-time.Hour),
			TierChangedAt: now.Add(-time.Hour),
		}
		Expect(st.Put(ctx, m)).To(Succeed())
		if embedding != nil {
			Expect(vec.Add(ctx, []vector.Document{{
				ID:        id,
				Tier:      string(m.Tier),
				Embedding: embedding,
			}})).To(Succeed())
		}
		Expect(lex.Index(ctx, []lexical.Document{{
			ID:      id,
			Content: content,
			Tier:    string(m.Tier),
		}})).To(Succeed())
		return m
	}

	newOrchestrator := func(v vector.Driver, topK int) *retrieval.Orchestrator {
		o := retrieval.NewOrchestrator(st, v, lex, gr, nil, retrieval.Config{
			TopK:          topK,
			GraphHops:     2,
			SignalTimeout: time.Second,
		}, nil)
		o.SetClock(func() time.Time { return now })
		return o
	}

	BeforeEach(func() {
		ctx = context.Background()
		st = storemem.NewDriver()
		vec = vecmem.NewDriver()
		lex = lexmem.NewDriver()
		gr = graphmem.NewDriver()
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		orch = newOrchestrator(vec, 20)
	})

	Describe("fusion", func() {
		It("ranks cross-signal agreement above any single signal", func() {
			put("item-x", "quarterly totals", []float32{1, 0})
			put("item-y", "blue sky observation", []float32{0.9, 0.1})
			put("item-z", "sky report", []float32{0, 1})

			tight := newOrchestrator(vec, 2)
			result, err := tight.Retrieve(ctx, retrieval.Query{
				Text:      "blue sky",
				Embedding: []float32{1, 0},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Degraded).To(BeEmpty())

			ids := resultIDs(result)
			Expect(ids).To(Equal([]string{"item-y", "item-x", "item-z"}))

			Expect(result.Items[0].Signals).To(ConsistOf("vector", "lexical"))
		})

		It("is deterministic across repeated queries", func() {
			put("item-a", "the sky is blue today", []float32{1, 0})
			put("item-b", "the sky is blue today again", []float32{0.95,0.05})
			put("item-c", "grocery list", []float32{0, 1})

			q := retrieval.Query{Text: "sky blue", Embedding: []float32{1, 0}}
			first, err := orch.Retrieve(ctx, q)
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < 5; i++ {
				again, err := orch.Retrieve(ctx, q)
				Expect(err).NotTo(HaveOccurred())
				Expect(resultIDs(again)).To(Equal(resultIDs(first)))
			}
		})

		It("returns an empty result, not an error, when nothing matches", func() {
			result, err := orch.Retrieve(ctx, retrieval.Query{Text: "nonexistent topic"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Items).To(BeEmpty())
			Expect(result.Degraded).To(BeEmpty())
		})

		It("never returns tombstoned items", func() {
			m := put("item-dead", "blue sky observation", []float32{1, 0})
			m.Tombstoned = true
			Expect(st.UpdateCAS(ctx, m, 1)).To(Succeed())

			result, err := orch.Retrieve(ctx, retrieval.Query{Text: "blue sky", Embedding: []float32{1, 0}})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Items).To(BeEmpty())
		})
	})

	Describe("structural filters", func() {
		It("filters by tier scope before fusion", func() {
			a := put("item-a", "blue sky fact", []float32{1, 0})
			put("item-b", "blue sky fact two", []float32{0.9, 0.1})

			a.Tier = item.TierArchived
			Expect(st.UpdateCAS(ctx, a, 1)).To(Succeed())

			result, err := orch.Retrieve(ctx, retrieval.Query{
				Text:      "blue sky",
				Embedding: []float32{1, 0},
				TierScope: []item.Tier{item.TierWorking},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resultIDs(result)).To(Equal([]string{"item-b"}))
		})

		It("filters by tags", func() {
			a := put("item-a", "tagged blue sky", []float32{1, 0})
			put("item-b", "untagged blue sky", []float32{0.9, 0.1})

			a.Tags = []string{"weather"}
			Expect(st.UpdateCAS(ctx, a, 1)).To(Succeed())

			result, err := orch.Retrieve(ctx, retrieval.Query{
				Text: "blue sky",
				Tags: []string{"weather"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resultIDs(result)).To(Equal([]string{"item-a"}))
		})
	})

	Describe("graph signal", func() {
		It("surfaces items reached from entity seeds", func() {
			put("item-a", "meeting notes", nil)
			Expect(gr.PutEntity(ctx, &item.Entity{ID: "ent-alice", Name: "alice", Kind: "person", CreatedAt: now})).To(Succeed())
			Expect(gr.PutEdge(ctx, graph.Edge{
				SourceID: "item-a", SourceKind: graph.KindItem,
				TargetID: "ent-alice", TargetKind: graph.KindEntity,
				Type: "mentions", Strength: 1, AssertedAt: now, ObservedAt: now,
			})).To(Succeed())

			result, err := orch.Retrieve(ctx, retrieval.Query{EntitySeeds: []string{"ent-alice"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(resultIDs(result)).To(Equal([]string{"item-a"}))
			Expect(result.Items[0].Signals).To(ConsistOf("graph"))
		})
	})

	Describe("degradation", func() {
		It("reports a failed signal and serves the rest", func() {
			put("item-a", "blue sky fact", nil)

			degraded := newOrchestrator(brokenVectors{}, 20)
			result, err := degraded.Retrieve(ctx, retrieval.Query{
				Text:      "blue sky",
				Embedding: []float32{1, 0},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Degraded).To(Equal([]string{"vector"}))
			Expect(resultIDs(result)).To(Equal([]string{"item-a"}))
		})
	})

	Describe("budgets", func() {
		It("truncates to the result limit", func() {
			put("item-a", "blue sky one", nil)
			put("item-b", "blue sky two", nil)
			put("item-c", "blue sky three", nil)

			result, err := orch.Retrieve(ctx, retrieval.Query{Text: "blue sky", Limit: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Items).To(HaveLen(2))
		})

		It("packs whole items into the token budget, skipping ones that do not fit", func() {
			big := strings.Repeat("blue sky observation ", 40)
			put("item-big", big, []float32{1, 0})
			put("item-small", "blue sky", []float32{0.9, 0.1})

			result, err := orch.Retrieve(ctx, retrieval.Query{
				Text:        "blue sky",
				Embedding:   []float32{1, 0},
				TokenBudget: 50,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resultIDs(result)).To(Equal([]string{"item-small"}))
		})
	})

	Describe("access bookkeeping", func() {
		It("records access for returned items only", func() {
			put("item-a", "blue sky fact", nil)
			put("item-b", "grocery list", nil)

			_, err := orch.Retrieve(ctx, retrieval.Query{Text: "blue sky"})
			Expect(err).NotTo(HaveOccurred())

			a, err := st.Get(ctx, "item-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(a.AccessCount).To(Equal(int64(1)))
			Expect(a.LastAccessedAt).NotTo(BeNil())
			Expect(*a.LastAccessedAt).To(Equal(now))

			b, err := st.Get(ctx, "item-b")
			Expect(err).NotTo(HaveOccurred())
			Expect(b.AccessCount).To(BeZero())
		})
	})
})

func resultIDs(r retrieval.Result) []string {
	ids := make([]string, 0, len(r.Items))
	for _, si := range r.Items {
		ids = append(ids, si.Item.ID)
	}
	return ids
}
