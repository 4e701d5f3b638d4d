package syncconfig_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scrollit/logikal-sync/pkg/model"
	"github.com/scrollit/logikal-sync/pkg/syncconfig"
)

func TestSyncConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Sync Config Registry Suite")
}

// fakeStore is a minimal in-memory stand-in for store.Store, exercising only
// the ObjectSyncConfig methods the Registry calls.
type fakeStore struct {
	configs map[string]model.ObjectSyncConfig
}

func newFakeStore() *fakeStore {
	return &fakeStore{configs: make(map[string]model.ObjectSyncConfig)}
}

func (f *fakeStore) ListObjectSyncConfigs(ctx context.Context) ([]model.ObjectSyncConfig, error) {
	var out []model.ObjectSyncConfig
	for _, c := range f.configs {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) UpsertObjectSyncConfig(ctx context.Context, cfg model.ObjectSyncConfig) error {
	f.configs[cfg.ObjectType] = cfg
	return nil
}

var _ = Describe("Registry", func() {
	var (
		fs  *fakeStore
		reg *syncconfig.Registry
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		fs = newFakeStore()
		reg = syncconfig.New(fs)
	})

	Describe("Seed", func() {
		It("populates all six default object types", func() {
			Expect(reg.Seed(ctx)).To(Succeed())
			for _, objType := range []string{
				syncconfig.TypeDirectory, syncconfig.TypeProject, syncconfig.TypePhase,
				syncconfig.TypeElevation, syncconfig.TypePartsParser, syncconfig.TypeErrorHousekeep,
			} {
				_, ok := reg.Get(objType)
				Expect(ok).To(BeTrue(), objType)
			}
		})

		It("does not overwrite an existing customized row", func() {
			custom := model.ObjectSyncConfig{ObjectType: syncconfig.TypeDirectory, Priority: 99, Enabled: false}
			Expect(fs.UpsertObjectSyncConfig(ctx, custom)).To(Succeed())
			Expect(reg.Seed(ctx)).To(Succeed())
			got, ok := reg.Get(syncconfig.TypeDirectory)
			Expect(ok).To(BeTrue())
			Expect(got.Priority).To(Equal(99))
			Expect(got.Enabled).To(BeFalse())
		})
	})

	Describe("Order", func() {
		BeforeEach(func() {
			Expect(reg.Seed(ctx)).To(Succeed())
		})

		It("places every kind after everything it depends_on", func() {
			order, err := reg.Order()
			Expect(err).NotTo(HaveOccurred())

			position := make(map[string]int, len(order))
			for i, t := range order {
				position[t] = i
			}
			Expect(position[syncconfig.TypeDirectory]).To(BeNumerically("<", position[syncconfig.TypeProject]))
			Expect(position[syncconfig.TypeProject]).To(BeNumerically("<", position[syncconfig.TypePhase]))
			Expect(position[syncconfig.TypePhase]).To(BeNumerically("<", position[syncconfig.TypeElevation]))
			Expect(position[syncconfig.TypeElevation]).To(BeNumerically("<", position[syncconfig.TypePartsParser]))
		})
	})

	Describe("Upsert", func() {
		BeforeEach(func() {
			Expect(reg.Seed(ctx)).To(Succeed())
		})

		It("rejects a depends_on edge that would create a cycle", func() {
			broken := model.ObjectSyncConfig{
				ObjectType: syncconfig.TypeDirectory,
				DependsOn:  []string{syncconfig.TypeElevation},
				Priority:   1, Enabled: true,
			}
			err := reg.Upsert(ctx, broken)
			Expect(err).To(HaveOccurred())
		})

		It("rejects a dependency on an unknown object type", func() {
			broken := model.ObjectSyncConfig{
				ObjectType: syncconfig.TypeDirectory,
				DependsOn:  []string{"nonexistent"},
				Priority:   1, Enabled: true,
			}
			err := reg.Upsert(ctx, broken)
			Expect(err).To(HaveOccurred())
		})

		It("accepts a non-cyclic change and makes it visible through Get", func() {
			updated := model.ObjectSyncConfig{
				ObjectType: syncconfig.TypeDirectory, Priority: 1, Enabled: false,
				Interval: 90 * time.Minute,
			}
			Expect(reg.Upsert(ctx, updated)).To(Succeed())
			got, ok := reg.Get(syncconfig.TypeDirectory)
			Expect(ok).To(BeTrue())
			Expect(got.Enabled).To(BeFalse())
			Expect(got.Interval).To(Equal(90 * time.Minute))
		})
	})
})

var _ = Describe("Due", func() {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	It("is due when never synced", func() {
		cfg := model.ObjectSyncConfig{Enabled: true, Interval: time.Hour}
		Expect(syncconfig.Due(cfg, now)).To(BeTrue())
	})

	It("is not due when disabled", func() {
		cfg := model.ObjectSyncConfig{Enabled: false}
		Expect(syncconfig.Due(cfg, now)).To(BeFalse())
	})

	It("is not due before the interval has elapsed", func() {
		synced := now.Add(-30 * time.Minute)
		cfg := model.ObjectSyncConfig{Enabled: true, Interval: time.Hour, LastSync: &synced}
		Expect(syncconfig.Due(cfg, now)).To(BeFalse())
	})

	It("is due once the interval has elapsed", func() {
		synced := now.Add(-90 * time.Minute)
		cfg := model.ObjectSyncConfig{Enabled: true, Interval: time.Hour, LastSync: &synced}
		Expect(syncconfig.Due(cfg, now)).To(BeTrue())
	})
})
