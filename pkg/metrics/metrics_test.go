package metrics

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "metrics Suite")
}

var _ = Describe("RecordSyncRun", func() {
	It("increments the counter for the given kind and state", func() {
		initial := testutil.ToFloat64(SyncRunsTotal.WithLabelValues("elevation", "done"))

		RecordSyncRun("elevation", "done")
		RecordSyncRun("elevation", "done")

		after := testutil.ToFloat64(SyncRunsTotal.WithLabelValues("elevation", "done"))
		Expect(after).To(Equal(initial + 2.0))
	})
})

var _ = Describe("RecordSyncAttempt", func() {
	It("observes a duration into the histogram", func() {
		RecordSyncAttempt("project", "updated", 250*time.Millisecond)
		Expect(testutil.CollectAndCount(SyncAttemptDurationSeconds)).To(BeNumerically(">", 0))
	})
})

var _ = Describe("RecordAlert", func() {
	It("increments the counter for the given category and severity", func() {
		initial := testutil.ToFloat64(AlertsRaisedTotal.WithLabelValues("staleness", "warning"))
		RecordAlert("staleness", "warning")
		Expect(testutil.ToFloat64(AlertsRaisedTotal.WithLabelValues("staleness", "warning"))).To(Equal(initial + 1.0))
	})
})

var _ = Describe("RecordPartsParsed", func() {
	It("increments the counter for the given outcome", func() {
		initial := testutil.ToFloat64(PartsParsedTotal.WithLabelValues("parsed"))
		RecordPartsParsed("parsed")
		Expect(testutil.ToFloat64(PartsParsedTotal.WithLabelValues("parsed"))).To(Equal(initial + 1.0))
	})
})

var _ = Describe("RecordHTTPRequest", func() {
	It("observes a duration into the histogram", func() {
		RecordHTTPRequest("/projects", "GET", "200", 10*time.Millisecond)
		Expect(testutil.CollectAndCount(HTTPRequestDurationSeconds)).To(BeNumerically(">", 0))
	})
})

var _ = Describe("QueueDepthGauge", func() {
	It("reports the last value set", func() {
		QueueDepthGauge.Set(5)
		Expect(testutil.ToFloat64(QueueDepthGauge)).To(Equal(5.0))
	})
})
