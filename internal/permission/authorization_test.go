package permission_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/frahmantamala/facilities-console/internal/permission"
	"github.com/frahmantamala/facilities-console/pkg/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type staticAuth bool

func (a staticAuth) IsAuthenticated() bool { return bool(a) }

var _ = Describe("Authorization", func() {
	var (
		evaluator *permission.Evaluator
		ok        http.Handler
	)

	BeforeEach(func() {
		evaluator = permission.NewEvaluator(nil, nil, logger.Discard())
		ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	serve := func(h http.Handler) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil))
		return rec.Code
	}

	It("rejects requests without a session", func() {
		authz := permission.NewAuthorization(staticAuth(false), evaluator, logger.Discard())
		evaluator.Load([]string{"REPORT:READ"})

		Expect(serve(authz.RequirePermission("REPORT", "READ")(ok))).To(Equal(http.StatusUnauthorized))
		Expect(serve(authz.RequireSession()(ok))).To(Equal(http.StatusUnauthorized))
	})

	It("forbids operators missing the grant", func() {
		authz := permission.NewAuthorization(staticAuth(true), evaluator, logger.Discard())
		evaluator.Load([]string{"AUDIT:READ"})

		Expect(serve(authz.RequirePermission("REPORT", "READ")(ok))).To(Equal(http.StatusForbidden))
		Expect(serve(authz.RequireResource("REPORT")(ok))).To(Equal(http.StatusForbidden))
	})

	It("passes operators holding the grant", func() {
		authz := permission.NewAuthorization(staticAuth(true), evaluator, logger.Discard())
		evaluator.Load([]string{"REPORT:UPDATE"})

		Expect(serve(authz.RequireResource("report")(ok))).To(Equal(http.StatusNoContent))
		Expect(serve(authz.RequirePermission("REPORT", "UPDATE")(ok))).To(Equal(http.StatusNoContent))
		Expect(serve(authz.RequireSession()(ok))).To(Equal(http.StatusNoContent))
	})

	It("lets a super-admin through resource guards", func() {
		authz := permission.NewAuthorization(staticAuth(true), evaluator, logger.Discard())
		evaluator.Load([]string{"SYSTEM:ADMIN_ACTION"})

		Expect(evaluator.HasResourcePermission("REPORT")).To(BeFalse())
		Expect(serve(authz.RequireResource("REPORT")(ok))).To(Equal(http.StatusNoContent))
	})
})
