package item_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramlabs/engram/pkg/item"
)

var _ = Describe("Fingerprint", func() {
	It("is deterministic for identical content", func() {
		a := item.ComputeFingerprint("the sky is blue")
		b := item.ComputeFingerprint("the sky is blue")
		Expect(a).To(Equal(b))
	})

	It("normalizes case and whitespace", func() {
		a := item.ComputeFingerprint("The  Sky   is BLUE")
		b := item.ComputeFingerprint("the sky is blue")
		Expect(a).To(Equal(b))
	})

	It("differs for different content", func() {
		a := item.ComputeFingerprint("the sky is blue")
		b := item.ComputeFingerprint("the sea is blue")
		Expect(a).NotTo(Equal(b))
	})

	It("produces a hex-encoded sha256 digest", func() {
		Expect(item.ComputeFingerprint("x")).To(HaveLen(64))
	})

	It("collapses whitespace during normalization", func() {
		Expect(item.NormalizeContent("  a\tb\nc  ")).To(Equal("a b c"))
	})
})
