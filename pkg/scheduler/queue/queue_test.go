package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/scrollit/logikal-sync/pkg/scheduler/queue"
)

func TestQueue(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "queue Suite")
}

func newTestQueue() (*queue.Queue, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	Expect(err).NotTo(HaveOccurred())
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return queue.New(client, "logikal-sync-test"), mr
}

var _ = Describe("Queue", func() {
	var (
		ctx = context.Background()
		q   *queue.Queue
		mr  *miniredis.Miniredis
	)

	BeforeEach(func() {
		q, mr = newTestQueue()
	})

	AfterEach(func() {
		mr.Close()
	})

	It("delivers an enqueued job back out", func() {
		Expect(q.Enqueue(ctx, "project")).To(Succeed())

		job, err := q.Dequeue(ctx, time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(job).NotTo(BeNil())
		Expect(job.Kind).To(Equal("project"))
		Expect(job.Attempt).To(Equal(0))
	})

	It("returns nil with no error when the wait elapses empty", func() {
		job, err := q.Dequeue(ctx, 10*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(job).To(BeNil())
	})

	It("removes an acked job from the processing list", func() {
		Expect(q.Enqueue(ctx, "elevation")).To(Succeed())
		job, err := q.Dequeue(ctx, time.Second)
		Expect(err).NotTo(HaveOccurred())

		Expect(q.Ack(ctx, *job)).To(Succeed())

		depth, err := q.Depth(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(depth).To(Equal(int64(0)))

		recovered, err := q.Recover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(recovered).To(Equal(0))
	})

	It("requeues a nacked job under its retry budget", func() {
		Expect(q.Enqueue(ctx, "phase")).To(Succeed())
		job, err := q.Dequeue(ctx, time.Second)
		Expect(err).NotTo(HaveOccurred())

		Expect(q.Nack(ctx, *job, 3)).To(Succeed())

		requeued, err := q.Dequeue(ctx, time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(requeued).NotTo(BeNil())
		Expect(requeued.Attempt).To(Equal(1))
	})

	It("drops a nacked job once its retry budget is exhausted", func() {
		Expect(q.Enqueue(ctx, "phase")).To(Succeed())
		job, err := q.Dequeue(ctx, time.Second)
		Expect(err).NotTo(HaveOccurred())

		Expect(q.Nack(ctx, *job, 0)).To(Succeed())

		depth, err := q.Depth(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(depth).To(Equal(int64(0)))
	})

	It("recovers jobs left in the processing list by a crashed worker", func() {
		Expect(q.Enqueue(ctx, "directory")).To(Succeed())
		_, err := q.Dequeue(ctx, time.Second)
		Expect(err).NotTo(HaveOccurred())

		recovered, err := q.Recover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(recovered).To(Equal(1))

		depth, err := q.Depth(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(depth).To(Equal(int64(1)))
	})
})
