package dotdir_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramlabs/engram/pkg/dotdir"
)

var _ = Describe("SweepState", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "sweep-test-*")
		Expect(err).NotTo(HaveOccurred())
		tmpDir, err = filepath.EvalSymlinks(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		m = dotdir.NewManager()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("returns nil, nil for a fresh scan", func() {
		state, err := m.LoadSweepState(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(BeNil())
	})

	It("round-trips the cursor", func() {
		saved := &dotdir.SweepState{
			Cursor:    "item-0042",
			UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}
		Expect(m.SaveSweepState(saved, tmpDir)).To(Succeed())

		loaded, err := m.LoadSweepState(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).NotTo(BeNil())
		Expect(loaded.Cursor).To(Equal("item-0042"))
		Expect(loaded.UpdatedAt).To(BeTemporally("==", saved.UpdatedAt))
	})

	It("rejects saving nil state", func() {
		Expect(m.SaveSweepState(nil, tmpDir)).To(HaveOccurred())
	})

	It("clears state idempotently", func() {
		Expect(m.SaveSweepState(&dotdir.SweepState{Cursor: "x"}, tmpDir)).To(Succeed())
		Expect(m.ClearSweepState(tmpDir)).To(Succeed())

		state, err := m.LoadSweepState(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(BeNil())

		Expect(m.ClearSweepState(tmpDir)).To(Succeed())
	})
})
