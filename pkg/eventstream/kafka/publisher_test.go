package kafka

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestKafkaPublisher(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Kafka Publisher Suite")
}

var _ = Describe("NewPublisher", func() {
	It("rejects an empty broker list", func() {
		_, err := NewPublisher(Config{Topic: "engram.lifecycle"})
		Expect(err).To(HaveOccurred())
	})

	It("rejects an empty topic", func() {
		_, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}})
		Expect(err).To(HaveOccurred())
	})

	It("constructs a publisher with brokers and a topic", func() {
		pub, err := NewPublisher(Config{
			Brokers: []string{"localhost:9092"},
			Topic:   "engram.lifecycle",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(pub).NotTo(BeNil())
		Expect(pub.Close()).To(Succeed())
	})
})
