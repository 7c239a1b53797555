package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frahmantamala/facilities-console/internal"
	"github.com/frahmantamala/facilities-console/internal/apiclient"
	"github.com/frahmantamala/facilities-console/internal/core/events"
	"github.com/frahmantamala/facilities-console/internal/session"
	sessionSqlite "github.com/frahmantamala/facilities-console/internal/session/sqlite"
	"github.com/frahmantamala/facilities-console/pkg/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeBackend accepts only the token it last issued.
type fakeBackend struct {
	mu          sync.Mutex
	validToken  string
	refreshErr  bool
	refreshWait time.Duration
	refreshGate chan struct{}
	alwaysDeny  bool

	refreshCalls  int32
	resourceCalls int32
	logoutCalls   int32
}

func (b *fakeBackend) token() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.validToken
}

func (b *fakeBackend) set(fn func(*fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBackend) gate() chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshGate
}

func (b *fakeBackend) snapshot() (wait time.Duration, fail, deny bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshWait, b.refreshErr, b.alwaysDeny
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body apiclient.LoginDTO
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"type":"UNAUTHORIZED","code":"INVALID_CREDENTIALS","message":"Invalid email or password"}}`))
			return
		}
		writeJSON(w, map[string]interface{}{
			"accessToken":  "access-1",
			"refreshToken": "refresh-1",
			"user": map[string]interface{}{
				"id": "u-7", "email": body.Email, "name": "Dana", "role": "TECHNICIAN",
			},
		})
	})

	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.refreshCalls, 1)
		wait, fail, _ := b.snapshot()
		if wait > 0 {
			time.Sleep(wait)
		}
		if gate := b.gate(); gate != nil {
			<-gate
		}
		if fail {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"refresh token revoked"}`))
			return
		}
		var body apiclient.RefreshTokenDTO
		_ = json.NewDecoder(r.Body).Decode(&body)

		b.mu.Lock()
		b.validToken = "access-2"
		b.mu.Unlock()
		writeJSON(w, map[string]interface{}{
			"accessToken":  "access-2",
			"refreshToken": "refresh-2",
		})
	})

	mux.HandleFunc("/auth/check-permission", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+b.token() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]interface{}{
			"data": map[string]interface{}{
				"role": "SUPERVISOR",
				"permissions": []interface{}{
					map[string]string{"resource": "report", "action": "read", "scope": "campus"},
					"AUDIT:ALL",
				},
			},
		})
	})

	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.logoutCalls, 1)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/reports", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.resourceCalls, 1)
		if _, _, deny := b.snapshot(); deny || r.Header.Get("Authorization") != "Bearer "+b.token() {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"token expired"}`))
			return
		}
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(body)
			return
		}
		writeJSON(w, map[string]interface{}{"count": 3})
	})

	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"INTERNAL_ERROR","code":"INTERNAL_ERROR","message":"database unavailable"}}`))
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

var _ = Describe("Client", func() {
	var (
		ctx      context.Context
		backend  *fakeBackend
		server   *httptest.Server
		store    *memoryStore
		client   *apiclient.Client
		expired  int32
		newStore func(access, refresh string)
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = &fakeBackend{validToken: "access-2"}
		server = httptest.NewServer(backend.handler())
		DeferCleanup(server.Close)
		atomic.StoreInt32(&expired, 0)

		newStore = func(access, refresh string) {
			store = newMemoryStore(access, refresh)
			client = apiclient.NewClient(
				apiclient.Config{BaseURL: server.URL, Timeout: 5 * time.Second},
				store,
				logger.Discard(),
				apiclient.WithSessionExpiredHook(func(context.Context, error) {
					atomic.AddInt32(&expired, 1)
				}),
			)
		}
		newStore("access-1", "refresh-1")
	})

	Describe("single-flight refresh", func() {
		It("refreshes exactly once for concurrent 401s and completes every request", func() {
			// Given an expired access token and a slow refresh endpoint
			backend.set(func(b *fakeBackend) {
				b.validToken = "not-yet-issued"
				b.refreshWait = 150 * time.Millisecond
			})

			// When ten requests hit a 401 at the same time
			const n = 10
			var wg sync.WaitGroup
			errs := make([]error, n)
			counts := make([]int, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					var out struct {
						Count int `json:"count"`
					}
					errs[i] = client.GetJSON(ctx, "/reports", &out)
					counts[i] = out.Count
				}(i)
			}
			wg.Wait()

			// Then one exchange served all of them
			Expect(atomic.LoadInt32(&backend.refreshCalls)).To(Equal(int32(1)))
			for i := 0; i < n; i++ {
				Expect(errs[i]).NotTo(HaveOccurred())
				Expect(counts[i]).To(Equal(3))
			}
			Expect(store.Current().Credentials).To(Equal(session.Credentials{
				AccessToken: "access-2", RefreshToken: "refresh-2",
			}))
		})

		It("replays a request body after refreshing", func() {
			// Given a stale token
			backend.set(func(b *fakeBackend) { b.validToken = "not-yet-issued" })

			// When a POST gets a 401
			var out map[string]string
			err := client.PostJSON(ctx, "/reports", map[string]string{"title": "Leaking pipe"}, &out)

			// Then the replay carries the same body
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveKeyWithValue("title", "Leaking pipe"))
			Expect(atomic.LoadInt32(&backend.resourceCalls)).To(Equal(int32(2)))
		})
	})

	Describe("no double retry", func() {
		It("surfaces the second 401 without another refresh", func() {
			// Given a backend that rejects every token
			backend.set(func(b *fakeBackend) { b.alwaysDeny = true })

			// When a request is made
			err := client.GetJSON(ctx, "/reports", nil)

			// Then it was sent twice and refreshed once
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(atomic.LoadInt32(&backend.refreshCalls)).To(Equal(int32(1)))
			Expect(atomic.LoadInt32(&backend.resourceCalls)).To(Equal(int32(2)))
		})
	})

	Describe("refresh failure", func() {
		It("fails every waiter, clears credentials and runs the expiry hook", func() {
			// Given a revoked refresh token
			backend.set(func(b *fakeBackend) {
				b.validToken = "not-yet-issued"
				b.refreshErr = true
				b.refreshWait = 100 * time.Millisecond
			})

			// When several requests hit a 401
			const n = 5
			var wg sync.WaitGroup
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					errs[i] = client.GetJSON(ctx, "/reports", nil)
				}(i)
			}
			wg.Wait()

			// Then all fail with a session-ending error
			for _, err := range errs {
				Expect(apiclient.IsSessionExpired(err)).To(BeTrue(), "unexpected error: %v", err)
			}
			Expect(atomic.LoadInt32(&backend.refreshCalls)).To(Equal(int32(1)))
			Expect(store.Current().IsAuthenticated()).To(BeFalse())
			Expect(store.Current().RefreshToken).To(BeEmpty())
			Expect(store.Reasons()).To(ContainElement(session.ReasonExpired))
			Expect(atomic.LoadInt32(&expired)).To(BeNumerically(">=", 1))
		})

		It("skips the exchange when no refresh token is stored", func() {
			// Given only an access token
			newStore("access-1", "")

			// When the request gets a 401
			err := client.GetJSON(ctx, "/reports", nil)

			// Then no refresh call was made and the session is gone
			Expect(errors.Is(err, internal.ErrNoRefreshToken)).To(BeTrue())
			Expect(atomic.LoadInt32(&backend.refreshCalls)).To(BeZero())
			Expect(store.Current().IsAuthenticated()).To(BeFalse())
			Expect(atomic.LoadInt32(&expired)).To(Equal(int32(1)))
		})
	})

	Describe("logout during a refresh", func() {
		It("keeps the session cleared when the exchange completes afterwards", func() {
			// Given a signed-in operator held by the real session owner
			db, err := sessionSqlite.Open(filepath.Join(GinkgoT().TempDir(), "session.db"))
			Expect(err).NotTo(HaveOccurred())
			sqlDB, err := db.DB()
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(sqlDB.Close)
			Expect(sessionSqlite.Migrate(sqlDB)).To(Succeed())

			manager := session.NewManager(sessionSqlite.NewRepository(db), events.NewEventBus(logger.Discard()), logger.Discard())
			Expect(manager.Init(ctx)).To(Succeed())
			Expect(manager.Update(ctx, session.Session{
				Credentials: session.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"},
				Account:     &session.Account{ID: "u-7", Role: "TECHNICIAN"},
			}, session.ReasonLogin)).To(Succeed())

			var mu sync.Mutex
			var changes []*events.SessionChangedEvent
			manager.Subscribe(func(_ context.Context, evt *events.SessionChangedEvent) error {
				mu.Lock()
				defer mu.Unlock()
				changes = append(changes, evt)
				return nil
			})
			managed := apiclient.NewClient(apiclient.Config{BaseURL: server.URL, Timeout: 5 * time.Second}, manager, logger.Discard())

			// And a refresh endpoint that holds its answer until released
			gate := make(chan struct{})
			DeferCleanup(func() {
				select {
				case <-gate:
				default:
					close(gate)
				}
			})
			backend.set(func(b *fakeBackend) {
				b.validToken = "not-yet-issued"
				b.refreshGate = gate
			})

			// When a request hits a 401 and starts the exchange
			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				done <- managed.GetJSON(ctx, "/reports", nil)
			}()
			Eventually(func() int32 { return atomic.LoadInt32(&backend.refreshCalls) }, 2*time.Second).Should(Equal(int32(1)))

			// And the operator logs out before the exchange answers
			Expect(managed.Logout(ctx)).To(Succeed())
			close(gate)

			// Then the request fails and the new tokens are dropped
			var reqErr error
			Eventually(done, 5*time.Second).Should(Receive(&reqErr))
			Expect(errors.Is(reqErr, internal.ErrNotAuthenticated)).To(BeTrue(), "unexpected error: %v", reqErr)
			Expect(manager.IsAuthenticated()).To(BeFalse())
			Expect(manager.RefreshToken()).To(BeEmpty())

			// And no authenticated session.changed followed the logout
			mu.Lock()
			defer mu.Unlock()
			Expect(changes).NotTo(BeEmpty())
			Expect(changes[0].Reason).To(Equal(session.ReasonLogout))
			for _, evt := range changes {
				Expect(evt.Authenticated).To(BeFalse(), "unexpected %s broadcast", evt.Reason)
			}
		})

		It("announces the expiry once however many requests fail afterwards", func() {
			// Given a revoked refresh token
			backend.set(func(b *fakeBackend) {
				b.validToken = "not-yet-issued"
				b.refreshErr = true
			})

			// When one request ends the session and more follow
			Expect(apiclient.IsSessionExpired(client.GetJSON(ctx, "/reports", nil))).To(BeTrue())
			for i := 0; i < 3; i++ {
				Expect(client.GetJSON(ctx, "/reports", nil)).To(HaveOccurred())
			}

			// Then the session was cleared and the hook ran a single time
			Expect(atomic.LoadInt32(&expired)).To(Equal(int32(1)))
			Expect(store.Reasons()).To(Equal([]string{session.ReasonExpired}))
			Expect(atomic.LoadInt32(&backend.refreshCalls)).To(Equal(int32(1)))
		})
	})

	Describe("pass-through", func() {
		It("returns non-401 errors unchanged", func() {
			err := client.GetJSON(ctx, "/broken", nil)

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(appErr.Message).To(Equal("database unavailable"))
			Expect(atomic.LoadInt32(&backend.refreshCalls)).To(BeZero())
		})

		It("returns network errors without refreshing", func() {
			server.Close()

			err := client.GetJSON(ctx, "/reports", nil)

			Expect(err).To(HaveOccurred())
			Expect(apiclient.IsSessionExpired(err)).To(BeFalse())
			Expect(store.Current().IsAuthenticated()).To(BeTrue())
		})
	})

	Describe("Login", func() {
		It("persists the session returned by the backend", func() {
			newStore("", "")

			s, err := client.Login(ctx, "dana@campus.edu", "secret")

			Expect(err).NotTo(HaveOccurred())
			Expect(s.UserID()).To(Equal("u-7"))
			Expect(store.Current().AccessToken).To(Equal("access-1"))
			Expect(store.Current().Account.Role).To(Equal("TECHNICIAN"))
			Expect(store.Reasons()).To(Equal([]string{session.ReasonLogin}))
		})

		It("decodes the backend error on bad credentials", func() {
			newStore("", "")

			_, err := client.Login(ctx, "dana@campus.edu", "wrong")

			Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(BeTrue())
			Expect(store.Current().IsAuthenticated()).To(BeFalse())
		})

		It("rejects an empty email before calling the backend", func() {
			_, err := client.Login(ctx, " ", "secret")

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
		})
	})

	Describe("CheckPermissions", func() {
		It("normalises object and string grants", func() {
			newStore("access-2", "refresh-2")

			set, err := client.CheckPermissions(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(set.Role).To(Equal("SUPERVISOR"))
			Expect(set.Grants).To(ConsistOf("REPORT:READ", "AUDIT:ALL"))
		})
	})

	Describe("Logout", func() {
		It("notifies the backend and clears the local session", func() {
			Expect(client.Logout(ctx)).To(Succeed())

			Expect(atomic.LoadInt32(&backend.logoutCalls)).To(Equal(int32(1)))
			Expect(store.Current().IsAuthenticated()).To(BeFalse())
			Expect(store.Reasons()).To(Equal([]string{session.ReasonLogout}))
		})

		It("clears locally even when the backend is unreachable", func() {
			server.Close()

			Expect(client.Logout(ctx)).To(Succeed())
			Expect(store.Current().IsAuthenticated()).To(BeFalse())
		})
	})
})

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

var _ = Describe("Transport", func() {
	It("replays with the current token when the 401 came from a superseded one", func() {
		// Given a store whose token is replaced while the request is in flight
		store := newMemoryStore("old", "refresh-1")
		var seen []string
		var mu sync.Mutex
		base := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			mu.Lock()
			seen = append(seen, r.Header.Get("Authorization"))
			mu.Unlock()
			if r.Header.Get("Authorization") == "Bearer old" {
				_ = store.UpdateTokens(r.Context(), store.Epoch(), session.Credentials{AccessToken: "new", RefreshToken: "refresh-2"}, nil)
				return &http.Response{StatusCode: http.StatusUnauthorized, Body: io.NopCloser(strings.NewReader("")), Request: r}, nil
			}
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok")), Request: r}, nil
		})

		var refreshes int32
		transport := apiclient.NewTransport(base, store, func(context.Context, string) (*apiclient.RefreshResult, error) {
			atomic.AddInt32(&refreshes, 1)
			return nil, errors.New("must not be called")
		}, logger.Discard())

		// When the request is sent
		req, err := http.NewRequest(http.MethodGet, "http://facilities.test/reports", nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := transport.RoundTrip(req)

		// Then it replays with the newer token and never refreshes
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(atomic.LoadInt32(&refreshes)).To(BeZero())
		Expect(seen).To(Equal([]string{"Bearer old", "Bearer new"}))
	})

	It("sends no Authorization header when nothing is stored", func() {
		store := newMemoryStore("", "")
		var header string
		base := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			header = r.Header.Get("Authorization")
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("")), Request: r}, nil
		})
		transport := apiclient.NewTransport(base, store, nil, logger.Discard())

		req, _ := http.NewRequest(http.MethodGet, "http://facilities.test/ping", nil)
		resp, err := transport.RoundTrip(req)

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(header).To(BeEmpty())
	})
})
