package eventstream_test

import (
	"encoding/json"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramlabs/engram/pkg/eventstream"
)

func TestEventstream(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Eventstream Suite")
}

var _ = Describe("Event", func() {
	It("marshals a merge event with expected top-level keys", func() {
		now := time.Unix(1735689600, 0).UTC()
		event := eventstream.LifecycleEvent{
			SchemaVersion: eventstream.SchemaVersionV1,
			EventType:     eventstream.EventTypeItemsMerged,
			EventID:       "evt_123",
			EmittedAt:     now,
			Namespace:     "agent-7",
			ItemID:        "item-a",
			Merged: &eventstream.MergedMeta{
				SurvivorID:  "item-a",
				AbsorbedIDs: []string{"item-b", "item-c"},
				ClusterKey:  "fp:abc123",
			},
		}

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKey("event_type"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKey("merged"))
		Expect(got).NotTo(HaveKey("tier_changed"))
		Expect(got).NotTo(HaveKey("evicted"))
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeItemIngested).To(Equal("engram.item.ingested"))
		Expect(eventstream.EventTypeItemsMerged).To(Equal("engram.items.merged"))
		Expect(eventstream.EventTypeTierChanged).To(Equal("engram.tier.changed"))
		Expect(eventstream.EventTypeItemEvicted).To(Equal("engram.item.evicted"))
	})

	It("provides ErrNilEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilEvent).To(MatchError("nil lifecycle event"))
	})
})
