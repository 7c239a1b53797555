package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/frahmantamala/facilities-console/internal/core/events"
	"github.com/frahmantamala/facilities-console/internal/session"
	sessionSqlite "github.com/frahmantamala/facilities-console/internal/session/sqlite"
	"github.com/frahmantamala/facilities-console/pkg/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

type recordedChanges struct {
	mu     sync.Mutex
	events []*events.SessionChangedEvent
}

func (r *recordedChanges) handler(_ context.Context, evt *events.SessionChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordedChanges) reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Reason
	}
	return out
}

func openStore(path string) *gorm.DB {
	db, err := sessionSqlite.Open(path)
	Expect(err).NotTo(HaveOccurred())
	sqlDB, err := db.DB()
	Expect(err).NotTo(HaveOccurred())
	Expect(sessionSqlite.Migrate(sqlDB)).To(Succeed())
	DeferCleanup(sqlDB.Close)
	return db
}

var _ = Describe("Manager", func() {
	var (
		ctx       context.Context
		storePath string
		manager   *session.Manager
		changes   *recordedChanges
	)

	BeforeEach(func() {
		ctx = context.Background()
		storePath = filepath.Join(GinkgoT().TempDir(), "session.db")

		repo := sessionSqlite.NewRepository(openStore(storePath))
		manager = session.NewManager(repo, events.NewEventBus(logger.Discard()), logger.Discard())
		Expect(manager.Init(ctx)).To(Succeed())

		changes = &recordedChanges{}
		manager.Subscribe(changes.handler)
	})

	It("should start unauthenticated on an empty store", func() {
		Expect(manager.IsAuthenticated()).To(BeFalse())
		Expect(manager.Current().Account).To(BeNil())
	})

	It("should persist updates and broadcast them", func() {
		// Given
		s := session.Session{
			Credentials: session.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"},
			Account:     &session.Account{ID: "9", Email: "ops@campus.edu", Role: "OPERATOR"},
		}

		// When
		Expect(manager.Update(ctx, s, session.ReasonLogin)).To(Succeed())

		// Then
		Expect(manager.AccessToken()).To(Equal("access-1"))
		Expect(changes.reasons()).To(Equal([]string{session.ReasonLogin}))
		Expect(changes.events[0].Authenticated).To(BeTrue())
		Expect(changes.events[0].UserID).To(Equal("9"))

		reloaded := session.NewManager(sessionSqlite.NewRepository(openStore(storePath)), events.NewEventBus(logger.Discard()), logger.Discard())
		Expect(reloaded.Init(ctx)).To(Succeed())
		Expect(reloaded.Current().Equal(s)).To(BeTrue())
	})

	It("should keep the cached account when tokens are refreshed without one", func() {
		Expect(manager.Update(ctx, session.Session{
			Credentials: session.Credentials{AccessToken: "a1", RefreshToken: "r1"},
			Account:     &session.Account{ID: "9"},
		}, session.ReasonLogin)).To(Succeed())

		Expect(manager.UpdateTokens(ctx, manager.Epoch(), session.Credentials{AccessToken: "a2", RefreshToken: "r2"}, nil)).To(Succeed())

		current := manager.Current()
		Expect(current.AccessToken).To(Equal("a2"))
		Expect(current.RefreshToken).To(Equal("r2"))
		Expect(current.Account.ID).To(Equal("9"))
	})

	Describe("updates that outlive their session", func() {
		var epoch uint64

		BeforeEach(func() {
			// Given a signed-in operator and an exchange started under that session
			Expect(manager.Update(ctx, session.Session{
				Credentials: session.Credentials{AccessToken: "a1", RefreshToken: "r1"},
				Account:     &session.Account{ID: "9", Role: "OPERATOR"},
			}, session.ReasonLogin)).To(Succeed())
			epoch = manager.Epoch()
		})

		It("should refuse refreshed tokens that arrive after a logout", func() {
			// When the operator logs out before the exchange answers
			Expect(manager.Clear(ctx, session.ReasonLogout)).To(Succeed())
			err := manager.UpdateTokens(ctx, epoch, session.Credentials{AccessToken: "a2", RefreshToken: "r2"}, nil)

			// Then the tokens are dropped and nothing re-announces a session
			Expect(errors.Is(err, session.ErrNotAuthenticated)).To(BeTrue())
			Expect(manager.IsAuthenticated()).To(BeFalse())
			Expect(changes.reasons()).To(Equal([]string{session.ReasonLogin, session.ReasonLogout}))

			reloaded := session.NewManager(sessionSqlite.NewRepository(openStore(storePath)), events.NewEventBus(logger.Discard()), logger.Discard())
			Expect(reloaded.Init(ctx)).To(Succeed())
			Expect(reloaded.IsAuthenticated()).To(BeFalse())
		})

		It("should refuse refreshed tokens that belong to a previous login", func() {
			// When another operator signs in before the exchange answers
			Expect(manager.Clear(ctx, session.ReasonLogout)).To(Succeed())
			Expect(manager.Update(ctx, session.Session{
				Credentials: session.Credentials{AccessToken: "b1", RefreshToken: "s1"},
				Account:     &session.Account{ID: "12"},
			}, session.ReasonLogin)).To(Succeed())
			err := manager.UpdateTokens(ctx, epoch, session.Credentials{AccessToken: "a2", RefreshToken: "r2"}, nil)

			// Then the new session is untouched
			Expect(errors.Is(err, session.ErrNotAuthenticated)).To(BeTrue())
			Expect(manager.AccessToken()).To(Equal("b1"))
			Expect(manager.Current().UserID()).To(Equal("12"))
		})

		It("should refuse a synced account after a logout", func() {
			Expect(manager.Clear(ctx, session.ReasonLogout)).To(Succeed())

			err := manager.UpdateAccount(ctx, epoch, session.Account{ID: "9", Role: "SUPERVISOR"})

			Expect(errors.Is(err, session.ErrNotAuthenticated)).To(BeTrue())
			Expect(manager.Current().Account).To(BeNil())
		})

		It("should keep the epoch across a refresh so later updates still land", func() {
			Expect(manager.UpdateTokens(ctx, epoch, session.Credentials{AccessToken: "a2", RefreshToken: "r2"}, nil)).To(Succeed())
			Expect(manager.Epoch()).To(Equal(epoch))

			Expect(manager.UpdateAccount(ctx, epoch, session.Account{ID: "9", Role: "SUPERVISOR"})).To(Succeed())
			Expect(manager.Current().Role()).To(Equal("SUPERVISOR"))
			Expect(manager.AccessToken()).To(Equal("a2"))
		})

		It("should never let a refresh broadcast follow a concurrent logout", func() {
			// When a refresh and a logout race
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_ = manager.UpdateTokens(ctx, epoch, session.Credentials{AccessToken: "a2", RefreshToken: "r2"}, nil)
			}()
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				Expect(manager.Clear(ctx, session.ReasonLogout)).To(Succeed())
			}()
			wg.Wait()

			// Then whichever won, the logout is the last word
			reasons := changes.reasons()
			Expect(reasons[len(reasons)-1]).To(Equal(session.ReasonLogout))
			Expect(manager.IsAuthenticated()).To(BeFalse())
		})
	})

	It("should clear every credential", func() {
		Expect(manager.Update(ctx, session.Session{
			Credentials: session.Credentials{AccessToken: "a1", RefreshToken: "r1"},
		}, session.ReasonLogin)).To(Succeed())

		Expect(manager.Clear(ctx, session.ReasonLogout)).To(Succeed())

		Expect(manager.IsAuthenticated()).To(BeFalse())
		Expect(manager.RefreshToken()).To(BeEmpty())
		Expect(changes.reasons()).To(Equal([]string{session.ReasonLogin, session.ReasonLogout}))
		Expect(changes.events[1].Authenticated).To(BeFalse())
	})

	It("should hand out copies that callers cannot mutate", func() {
		Expect(manager.Update(ctx, session.Session{
			Credentials: session.Credentials{AccessToken: "a1"},
			Account:     &session.Account{ID: "9", Permissions: []string{"REPORT:READ"}},
		}, session.ReasonLogin)).To(Succeed())

		current := manager.Current()
		current.Account.Permissions[0] = "REPORT:ALL"

		Expect(manager.Current().Account.Permissions).To(Equal([]string{"REPORT:READ"}))
	})

	Describe("Reload", func() {
		It("should not broadcast when nothing changed", func() {
			changed, err := manager.Reload(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(changes.reasons()).To(BeEmpty())
		})

		It("should pick up writes from another process", func() {
			// Given another owner of the same store
			other := session.NewManager(sessionSqlite.NewRepository(openStore(storePath)), events.NewEventBus(logger.Discard()), logger.Discard())
			Expect(other.Init(ctx)).To(Succeed())
			Expect(other.Update(ctx, session.Session{Credentials: session.Credentials{AccessToken: "external"}}, session.ReasonLogin)).To(Succeed())

			// When
			changed, err := manager.Reload(ctx)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(manager.AccessToken()).To(Equal("external"))
			Expect(changes.reasons()).To(Equal([]string{session.ReasonExternal}))
		})
	})

	Describe("Watcher", func() {
		It("should reload after the store file is written elsewhere", func() {
			// Given
			watcher, err := session.NewWatcher(session.WatcherConfig{
				StorePath:     storePath,
				DebounceDelay: 20 * time.Millisecond,
				Logger:        logger.Discard(),
			}, manager)
			Expect(err).NotTo(HaveOccurred())
			watcher.Start(ctx)
			DeferCleanup(watcher.Stop)

			other := session.NewManager(sessionSqlite.NewRepository(openStore(storePath)), events.NewEventBus(logger.Discard()), logger.Discard())
			Expect(other.Init(ctx)).To(Succeed())

			// When
			Expect(other.Update(ctx, session.Session{Credentials: session.Credentials{AccessToken: "from-cli"}}, session.ReasonLogin)).To(Succeed())

			// Then
			Eventually(manager.AccessToken, 2*time.Second, 20*time.Millisecond).Should(Equal("from-cli"))
			Eventually(changes.reasons, time.Second).Should(ContainElement(session.ReasonExternal))
		})

		It("should be safe to stop twice and without starting", func() {
			watcher, err := session.NewWatcher(session.WatcherConfig{StorePath: storePath, Logger: logger.Discard()}, manager)
			Expect(err).NotTo(HaveOccurred())
			watcher.Stop()
			watcher.Stop()
		})
	})
})
