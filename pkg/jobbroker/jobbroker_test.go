package jobbroker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/auditeng/compliance/internal/config"
)

func TestJobBroker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "JobBroker Suite")
}

var _ = Describe("Broker.backoff", func() {
	b := &Broker{cfg: config.BrokerConfig{
		BaseBackoff: time.Second,
		MaxBackoff:  5 * time.Minute,
	}}

	It("doubles from a 1s base, capped at 5min", func() {
		Expect(b.backoff(1)).To(Equal(time.Second))
		Expect(b.backoff(2)).To(Equal(2 * time.Second))
		Expect(b.backoff(3)).To(Equal(4 * time.Second))
		Expect(b.backoff(4)).To(Equal(8 * time.Second))
	})

	It("never exceeds the configured cap", func() {
		Expect(b.backoff(20)).To(Equal(5 * time.Minute))
	})

	It("falls back to 1s/5min defaults when unconfigured", func() {
		zero := &Broker{}
		Expect(zero.backoff(1)).To(Equal(time.Second))
		Expect(zero.backoff(30)).To(Equal(5 * time.Minute))
	})
})

var _ = Describe("Broker enqueue/promote over a real Redis stream", func() {
	var (
		mr  *miniredis.Miniredis
		rdb *redis.Client
		ctx context.Context
		b   *Broker
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		ctx = context.Background()
		b = New(rdb, config.BrokerConfig{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: 5 * time.Minute, JobAgeLimit: 24 * time.Hour}, zap.NewNop())
	})

	AfterEach(func() {
		rdb.Close()
		mr.Close()
	})

	It("publishes an enqueued job onto the ready stream", func() {
		Expect(b.Enqueue(ctx, "task-1")).To(Succeed())

		depth, err := b.Depth(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(depth).To(Equal(int64(1)))
	})

	It("does not promote a retry scheduled in the future", func() {
		Expect(b.scheduleRetry(ctx, job{TaskID: "task-2", Attempt: 2}, time.Now().Add(time.Hour))).To(Succeed())
		Expect(b.promoteDue(ctx)).To(Succeed())

		depth, err := b.Depth(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(depth).To(Equal(int64(0)))
	})

	It("promotes a due retry back onto the ready stream", func() {
		Expect(b.scheduleRetry(ctx, job{TaskID: "task-3", Attempt: 2}, time.Now().Add(-time.Second))).To(Succeed())
		Expect(b.promoteDue(ctx)).To(Succeed())

		depth, err := b.Depth(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(depth).To(Equal(int64(1)))
	})
})
