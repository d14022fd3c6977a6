package engine

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/config"
	"github.com/engramlabs/engram/pkg/dotdir"
	"github.com/engramlabs/engram/pkg/retrieval"
)

// testConfig returns a file configuration wired entirely to in-process
// providers so construction needs no external services.
func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Storage.Provider = "memory"
	cfg.VectorStore.Provider = "memory"
	cfg.Lexical.Provider = "memory"
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimensions = 16
	cfg.Synthesis.Provider = "naive"
	cfg.EventStream.Provider = "nop"
	return cfg
}

var _ = Describe("NewFromConfig", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("builds a working engine from file configuration", func() {
		eng, err := NewFromConfig(ctx, testConfig(), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		defer eng.Close()

		id, err := eng.Submit(ctx, SubmitInput{
			Content:    "configuration-wired engines still remember things",
			Importance: 0.5,
		})
		Expect(err).NotTo(HaveOccurred())

		result, err := eng.Retrieve(ctx, retrieval.Query{Text: "configuration-wired engines"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Items).NotTo(BeEmpty())
		Expect(result.Items[0].Item.ID).To(Equal(id))
	})

	It("rejects an unknown provider", func() {
		cfg := testConfig()
		cfg.Storage.Provider = "etcd"
		_, err := NewFromConfig(ctx, cfg, zap.NewNop())
		Expect(err).To(HaveOccurred())
	})

	Describe("ResumeConsolidation", func() {
		It("persists and clears the sweep cursor across batches", func() {
			eng, err := NewFromConfig(ctx, testConfig(), zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			defer eng.Close()

			for _, content := range []string{
				"the sky is blue",
				"the sky is blue",
				"grass is green",
			} {
				_, err := eng.Submit(ctx, SubmitInput{Content: content, Importance: 0.5})
				Expect(err).NotTo(HaveOccurred())
			}

			dot := dotdir.NewManager()
			stateDir := GinkgoT().TempDir()

			// Batch of 2 leaves a cursor behind; the next call resumes.
			_, err = eng.ResumeConsolidation(ctx, dot, stateDir, 2)
			Expect(err).NotTo(HaveOccurred())

			state, err := dot.LoadSweepState(stateDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).NotTo(BeNil())
			Expect(state.Cursor).NotTo(BeEmpty())

			_, err = eng.ResumeConsolidation(ctx, dot, stateDir, 2)
			Expect(err).NotTo(HaveOccurred())

			state, err = dot.LoadSweepState(stateDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())

			stats, err := eng.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalLive).To(Equal(int64(2)))
			Expect(stats.Tombstoned).To(Equal(int64(1)))
		})
	})
})
