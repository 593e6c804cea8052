package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/auditeng/compliance/internal/ratelimit"
)

func TestRateLimit(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "RateLimit Suite")
}

var _ = Describe("Limiter", func() {
	var (
		mr  *miniredis.Miniredis
		rdb *redis.Client
		ctx context.Context
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		ctx = context.Background()
	})

	AfterEach(func() {
		rdb.Close()
		mr.Close()
	})

	It("allows requests up to the per-minute cap", func() {
		lim := ratelimit.New(rdb, 3, zap.NewNop())

		for i := 0; i < 3; i++ {
			d := lim.Allow(ctx, "user-1")
			Expect(d.Allowed).To(BeTrue(), "request %d should be allowed", i+1)
		}
		d := lim.Allow(ctx, "user-1")
		Expect(d.Allowed).To(BeFalse())
		Expect(d.Remaining).To(Equal(0))
	})

	It("tracks distinct identifiers independently", func() {
		lim := ratelimit.New(rdb, 1, zap.NewNop())

		Expect(lim.Allow(ctx, "user-a").Allowed).To(BeTrue())
		Expect(lim.Allow(ctx, "user-a").Allowed).To(BeFalse())
		Expect(lim.Allow(ctx, "user-b").Allowed).To(BeTrue())
	})

	It("fails open when the backing store is unreachable", func() {
		mr.Close() // simulate an unreachable Redis
		lim := ratelimit.New(rdb, 1, zap.NewNop())

		d := lim.Allow(ctx, "user-1")
		Expect(d.Allowed).To(BeTrue())
	})

	It("resets after the minute bucket rolls over", func() {
		lim := ratelimit.New(rdb, 1, zap.NewNop())
		Expect(lim.Allow(ctx, "user-1").Allowed).To(BeTrue())
		Expect(lim.Allow(ctx, "user-1").Allowed).To(BeFalse())

		mr.FastForward(71 * time.Second)
		Expect(lim.Allow(ctx, "user-1").Allowed).To(BeTrue())
	})
})
