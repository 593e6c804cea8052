package config

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when the config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  http_port: "8080"
  metrics_port: "9090"

database:
  host: "db.internal"
  port: 5432
  user: "auditeng"
  database: "compliance"

llm:
  provider: "anthropic"
  model: "claude-sonnet-4"
  max_retries: 3

auth:
  jwt_signing_key: "test-signing-key"
  cors_origins:
    - "https://console.example.com"

rate_limit:
  enabled: true
  per_minute_cap: 20

profiles:
  default_profile: "MICROSOFT"

logging:
  level: "debug"
  format: "json"
`
				Expect(os.WriteFile(configFile, []byte(validConfig), 0644)).To(Succeed())
			})

			It("should load every section", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())

				Expect(cfg.Server.HTTPPort).To(Equal("8080"))
				Expect(cfg.Database.Host).To(Equal("db.internal"))
				Expect(cfg.LLM.Provider).To(Equal("anthropic"))
				Expect(cfg.Auth.JWTSigningKey).To(Equal("test-signing-key"))
				Expect(cfg.Auth.CORSOrigins).To(ContainElement("https://console.example.com"))
				Expect(cfg.RateLimit.PerMinuteCap).To(Equal(20))
				Expect(cfg.Profiles.DefaultProfile).To(Equal("MICROSOFT"))
				Expect(cfg.Logging.Level).To(Equal("debug"))
			})
		})

		Context("when the config file has minimal content", func() {
			BeforeEach(func() {
				minimal := `
auth:
  jwt_signing_key: "k"
`
				Expect(os.WriteFile(configFile, []byte(minimal), 0644)).To(Succeed())
			})

			It("fills in defaults for everything else", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.HTTPPort).To(Equal("8080"))
				Expect(cfg.LLM.Provider).To(Equal("anthropic"))
				Expect(cfg.Broker.Processes).To(Equal(1))
				Expect(cfg.Broker.Threads).To(Equal(4))
				Expect(cfg.Profiles.DefaultProfile).To(Equal("NETA"))
			})
		})

		Context("when the config file does not exist", func() {
			It("returns an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when the config file has invalid YAML", func() {
			BeforeEach(func() {
				invalid := "server:\n  http_port: [unterminated\n"
				Expect(os.WriteFile(configFile, []byte(invalid), 0644)).To(Succeed())
			})

			It("returns an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when an unsupported LLM provider is configured", func() {
			BeforeEach(func() {
				bad := `
auth:
  jwt_signing_key: "k"
llm:
  provider: "made-up-provider"
`
				Expect(os.WriteFile(configFile, []byte(bad), 0644)).To(Succeed())
			})

			It("returns a validation error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("unsupported LLM provider"))
			})
		})

		Context("when a CORS wildcard is configured", func() {
			BeforeEach(func() {
				bad := `
auth:
  jwt_signing_key: "k"
  cors_origins:
    - "*"
`
				Expect(os.WriteFile(configFile, []byte(bad), 0644)).To(Succeed())
			})

			It("rejects the wildcard", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("wildcard"))
			})
		})
	})

	Describe("LoadFromEnv", func() {
		It("overlays environment variables onto an existing config", func() {
			cfg := DefaultConfig()
			os.Setenv("DB_HOST", "envhost")
			os.Setenv("RATE_LIMIT_PER_MINUTE", "42")
			defer os.Unsetenv("DB_HOST")
			defer os.Unsetenv("RATE_LIMIT_PER_MINUTE")

			cfg.LoadFromEnv()

			Expect(cfg.Database.Host).To(Equal("envhost"))
			Expect(cfg.RateLimit.PerMinuteCap).To(Equal(42))
		})

		It("keeps the existing value when an env var is malformed", func() {
			cfg := DefaultConfig()
			originalCap := cfg.RateLimit.PerMinuteCap
			os.Setenv("RATE_LIMIT_PER_MINUTE", "not-a-number")
			defer os.Unsetenv("RATE_LIMIT_PER_MINUTE")

			cfg.LoadFromEnv()

			Expect(cfg.RateLimit.PerMinuteCap).To(Equal(originalCap))
		})
	})

	Describe("DefaultConfig", func() {
		It("returns sane defaults", func() {
			cfg := DefaultConfig()

			Expect(cfg.Broker.Processes).To(Equal(1))
			Expect(cfg.Broker.Threads).To(Equal(4))
			Expect(cfg.Broker.MaxAttempts).To(Equal(3))
			Expect(cfg.Auth.JWTExpiry.Minutes()).To(Equal(30.0))
			Expect(cfg.RateLimit.PerMinuteCap).To(Equal(10))
		})
	})
})
