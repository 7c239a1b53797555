package session_test

import (
	"time"

	"github.com/frahmantamala/facilities-console/internal/session"
	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func signToken(userID, role string, expiresAt time.Time) string {
	claims := &session.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-side-secret"))
	Expect(err).NotTo(HaveOccurred())
	return token
}

var _ = Describe("Session", func() {
	Describe("AccessExpiresAt", func() {
		It("should decode the exp claim without the signing key", func() {
			// Given
			exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
			s := session.Session{Credentials: session.Credentials{AccessToken: signToken("42", "TECHNICIAN", exp)}}

			// When
			got, ok := s.AccessExpiresAt()

			// Then
			Expect(ok).To(BeTrue())
			Expect(got.Equal(exp)).To(BeTrue())
		})

		It("should report false for opaque tokens", func() {
			s := session.Session{Credentials: session.Credentials{AccessToken: "opaque-token"}}
			_, ok := s.AccessExpiresAt()
			Expect(ok).To(BeFalse())
		})
	})

	Describe("identity", func() {
		It("should prefer the cached account over token claims", func() {
			s := session.Session{
				Credentials: session.Credentials{AccessToken: signToken("42", "TECHNICIAN", time.Now().Add(time.Minute))},
				Account:     &session.Account{ID: "7", Role: "ADMIN"},
			}
			Expect(s.UserID()).To(Equal("7"))
			Expect(s.Role()).To(Equal("ADMIN"))
		})

		It("should fall back to token claims without an account", func() {
			s := session.Session{
				Credentials: session.Credentials{AccessToken: signToken("42", "TECHNICIAN", time.Now().Add(time.Minute))},
			}
			Expect(s.UserID()).To(Equal("42"))
			Expect(s.Role()).To(Equal("TECHNICIAN"))
		})

		It("should not be authenticated without an access token", func() {
			Expect(session.Session{}.IsAuthenticated()).To(BeFalse())
		})
	})

	Describe("Equal", func() {
		It("should compare accounts by value", func() {
			a := session.Session{Account: &session.Account{ID: "1", Permissions: []string{"REPORT:READ"}}}
			b := session.Session{Account: &session.Account{ID: "1", Permissions: []string{"REPORT:READ"}}}
			c := session.Session{Account: &session.Account{ID: "1", Permissions: []string{"REPORT:ALL"}}}

			Expect(a.Equal(b)).To(BeTrue())
			Expect(a.Equal(c)).To(BeFalse())
			Expect(a.Equal(session.Session{})).To(BeFalse())
		})
	})
})
