package store_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ormasoftchile/missionkit/pkg/kernel/mapping"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
	"github.com/ormasoftchile/missionkit/pkg/kernel/value"
	"github.com/ormasoftchile/missionkit/pkg/kernel/variable"
	"github.com/ormasoftchile/missionkit/pkg/store"
)

// snapshotFor returns a minimal mission snapshot saved at the given time.
func snapshotFor(id string, status scope.Status, savedAt time.Time) *scope.Snapshot {
	return &scope.Snapshot{
		Version:   scope.SnapshotVersion,
		Template:  "summarise",
		CreatedAt: savedAt.Add(-time.Minute),
		SavedAt:   savedAt,
		Mission: scope.Record{
			ID:     id,
			Name:   "summarise",
			Kind:   scope.KindMission,
			Status: status,
			Variables: []variable.Record{{
				ID:        "var-topic",
				Name:      "topic",
				Schema:    value.Schema{Type: value.TypeString},
				IOType:    variable.IOInput,
				Status:    variable.StatusReady,
				Value:     "golang",
				CreatedBy: id,
			}},
			InputMappings: []mapping.Mapping{mapping.ToVariable("var-topic", "var-subject")},
		},
	}
}

var _ = Describe("Store", func() {
	runStoreTests := func(newStore func() (store.Store, func())) {
		var (
			s       store.Store
			cleanup func()
			ctx     context.Context
			now     time.Time
		)

		BeforeEach(func() {
			s, cleanup = newStore()
			ctx = context.Background()
			now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		})

		AfterEach(func() {
			cleanup()
		})

		It("returns an empty list when nothing is saved", func() {
			list, err := s.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(BeEmpty())
		})

		It("round-trips variable ids, names and mappings", func() {
			Expect(s.Save(ctx, snapshotFor("m-1", scope.StatusRunning, now))).To(Succeed())

			got, err := s.Load(ctx, "m-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Template).To(Equal("summarise"))
			Expect(got.Mission.Variables).To(HaveLen(1))
			Expect(got.Mission.Variables[0].ID).To(Equal("var-topic"))
			Expect(got.Mission.Variables[0].Name).To(Equal("topic"))
			Expect(got.Mission.Variables[0].Value).To(Equal("golang"))
			Expect(got.Mission.InputMappings).To(ConsistOf(mapping.ToVariable("var-topic", "var-subject")))
			Expect(got.SavedAt.Equal(now)).To(BeTrue())
		})

		It("replaces an earlier snapshot of the same mission", func() {
			Expect(s.Save(ctx, snapshotFor("m-1", scope.StatusRunning, now))).To(Succeed())
			Expect(s.Save(ctx, snapshotFor("m-1", scope.StatusCompleted, now.Add(time.Second)))).To(Succeed())

			got, err := s.Load(ctx, "m-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Mission.Status).To(Equal(scope.StatusCompleted))

			list, err := s.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(list[0].Status).To(Equal(scope.StatusCompleted))
		})

		It("lists most recently saved first", func() {
			Expect(s.Save(ctx, snapshotFor("older", scope.StatusFailed, now))).To(Succeed())
			Expect(s.Save(ctx, snapshotFor("newer", scope.StatusCompleted, now.Add(time.Hour)))).To(Succeed())

			list, err := s.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
			Expect(list[0].ID).To(Equal("newer"))
			Expect(list[1].ID).To(Equal("older"))
			Expect(list[1].Template).To(Equal("summarise"))
			Expect(list[1].SavedAt).To(BeTemporally("~", now, time.Second))
		})

		It("reports missing missions as ErrNotFound", func() {
			_, err := s.Load(ctx, "nope")
			Expect(err).To(MatchError(store.ErrNotFound))
			Expect(s.Delete(ctx, "nope")).To(MatchError(store.ErrNotFound))
		})

		It("deletes a mission", func() {
			Expect(s.Save(ctx, snapshotFor("m-1", scope.StatusRunning, now))).To(Succeed())
			Expect(s.Delete(ctx, "m-1")).To(Succeed())

			_, err := s.Load(ctx, "m-1")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("rejects a snapshot without a mission id", func() {
			Expect(s.Save(ctx, &scope.Snapshot{Version: scope.SnapshotVersion})).NotTo(Succeed())
		})
	}

	Context("Memory backend", func() {
		runStoreTests(func() (store.Store, func()) {
			return store.NewMemoryStore(), func() {}
		})
	})

	Context("SQLite backend", func() {
		runStoreTests(func() (store.Store, func()) {
			dir, err := os.MkdirTemp("", "store-test-*")
			Expect(err).NotTo(HaveOccurred())

			s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
			Expect(err).NotTo(HaveOccurred())

			return s, func() {
				s.Close()
				os.RemoveAll(dir)
			}
		})
	})
})

var _ = Describe("Open", func() {
	It("defaults to memory", func() {
		s, err := store.Open(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(BeAssignableToTypeOf(&store.MemoryStore{}))
	})

	It("creates the sqlite directory", func() {
		path := filepath.Join(GinkgoT().TempDir(), "nested", "runs.db")
		s, err := store.Open(&store.Config{Backend: store.BackendSQLite, Path: path})
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()
		Expect(filepath.Dir(path)).To(BeADirectory())
	})

	It("rejects unknown backends", func() {
		_, err := store.Open(&store.Config{Backend: "etcd"})
		Expect(err).To(MatchError(ContainSubstring("unknown storage backend")))
	})

	It("requires a sqlite path", func() {
		_, err := store.Open(&store.Config{Backend: store.BackendSQLite})
		Expect(err).To(HaveOccurred())
	})
})
