package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func writeConfig(dir, baseURL string) {
	content := fmt.Sprintf(`api:
  base_url: %q
  ws_url: "ws://127.0.0.1:1/ws"
  timeout: 2s
session:
  store_path: %q
  watch: false
observability:
  logging:
    level: error
    format: text
`, baseURL, filepath.Join(dir, "session.db"))
	Expect(os.WriteFile(filepath.Join(dir, "config.yml"), []byte(content), 0o600)).To(Succeed())
}

func run(args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

var _ = Describe("CLI", func() {
	var (
		dir     string
		backend *httptest.Server
	)

	BeforeEach(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"accessToken":  "access-1",
				"refreshToken": "refresh-1",
				"user":         map[string]any{"id": "u-7", "name": "Dana", "role": "TECHNICIAN"},
			})
		})
		mux.HandleFunc("/auth/check-permission", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"role":        "TECHNICIAN",
				"permissions": []string{"REPORT:READ", "asset:update"},
			})
		})
		mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		backend = httptest.NewServer(mux)
		DeferCleanup(backend.Close)

		dir = GinkgoT().TempDir()
		writeConfig(dir, backend.URL)
	})

	It("walks an operator through login, grants and logout", func() {
		out, err := run("--config", dir, "whoami")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Not signed in"))

		out, err = run("--config", dir, "login", "--email", "dana@example.com", "--password", "secret")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Signed in as Dana"))

		out, err = run("--config", dir, "permissions", "check", "REPORT", "READ")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("REPORT:READ denied"))

		out, err = run("--config", dir, "permissions", "sync")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("2 grants for role TECHNICIAN"))
		Expect(out).To(ContainSubstring("ASSET:UPDATE"))

		out, err = run("--config", dir, "permissions", "check", "report", "read")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("REPORT:READ allowed"))

		out, err = run("--config", dir, "whoami")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Dana"))
		Expect(out).To(ContainSubstring("grants:  2"))

		out, err = run("--config", dir, "logout")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Signed out"))

		out, err = run("--config", dir, "whoami")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Not signed in"))
	})

	It("refuses to sync without a session", func() {
		_, err := run("--config", dir, "permissions", "sync")
		Expect(err).To(MatchError(ContainSubstring("not signed in")))
	})

	It("fails on an invalid config", func() {
		Expect(os.WriteFile(filepath.Join(dir, "config.yml"), []byte("api:\n  base_url: \"\"\n"), 0o600)).To(Succeed())

		_, err := run("--config", dir, "whoami")
		Expect(err).To(MatchError(ContainSubstring("base_url is required")))
	})

	Describe("event preview", func() {
		It("renders a critical frame as an alert", func() {
			out, err := run("event", "preview",
				`{"event":"notification","data":{"type":"REPORT_CREATED","data":{"priority":"CRITICAL","reportId":"R-5","location":"Library"}}}`)

			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("CRITICAL ALERT"))
			Expect(out).To(ContainSubstring("R-5"))
			Expect(out).To(ContainSubstring("Library"))
		})

		It("says when a frame would stay silent", func() {
			out, err := run("event", "preview",
				`{"event":"notification","data":{"type":"REPORT_UPDATED","data":{"id":"n-2","priority":"LOW"}}}`)

			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("would not be shown"))
		})
	})
})
