package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultFrontendURL is where browsers land when no redirect_url is supplied
// and FRONTEND_URL is unset.
const DefaultFrontendURL = "https://preview.edulearn.app"

// Config holds every environment-driven setting of the server, worker and CLIs.
type Config struct {
	Env          string
	Port         string
	DatabaseURL  string
	RedisURL     string
	FrontendURL  string
	PublicAPIURL string

	// AllowedRedirectHosts restricts redirect_url targets. Empty allows any host.
	AllowedRedirectHosts []string

	PaymentGateway string

	CashfreeClientID     string
	CashfreeClientSecret string
	CashfreeEnvironment  string
	CashfreeAPIVersion   string

	MidtransServerKey    string
	MidtransClientKey    string
	MidtransIsProduction bool

	SupabaseJWTSecret       string
	FirebaseCredentialsPath string

	SMTPHost  string
	SMTPPort  int
	SMTPUser  string
	SMTPPass  string
	EmailFrom string

	WahaBaseURL string
	WahaAPIKey  string

	PendingSweepAge  time.Duration
	// PendingSweepRule is the RRULE of the pending-order sweep task.
	PendingSweepRule string
	WorkerInterval   time.Duration
}

// LoadEnv loads .env into the process environment if the file exists.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}
}

// Load reads the configuration from the environment. Call LoadEnv first when
// a .env file should be honoured.
func Load() Config {
	return Config{
		Env:          getEnv("ENV", "development"),
		Port:         getEnv("PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		FrontendURL:  strings.TrimRight(getEnv("FRONTEND_URL", DefaultFrontendURL), "/"),
		PublicAPIURL: strings.TrimRight(getEnv("PUBLIC_API_URL", "http://localhost:8080"), "/"),

		AllowedRedirectHosts: splitList(os.Getenv("ALLOWED_REDIRECT_HOSTS")),

		PaymentGateway: strings.ToLower(getEnv("PAYMENT_GATEWAY", "cashfree")),

		CashfreeClientID:     os.Getenv("CASHFREE_CLIENT_ID"),
		CashfreeClientSecret: os.Getenv("CASHFREE_CLIENT_SECRET"),
		CashfreeEnvironment:  strings.ToLower(getEnv("CASHFREE_ENVIRONMENT", "sandbox")),
		CashfreeAPIVersion:   getEnv("CASHFREE_API_VERSION", "2023-08-01"),

		MidtransServerKey:    os.Getenv("MIDTRANS_SERVER_KEY"),
		MidtransClientKey:    os.Getenv("MIDTRANS_CLIENT_KEY"),
		MidtransIsProduction: os.Getenv("MIDTRANS_IS_PRODUCTION") == "true",

		SupabaseJWTSecret:       os.Getenv("SUPABASE_JWT_SECRET"),
		FirebaseCredentialsPath: os.Getenv("FIREBASE_CREDENTIALS_PATH"),

		SMTPHost:  os.Getenv("SMTP_HOST"),
		SMTPPort:  getEnvInt("SMTP_PORT", 587),
		SMTPUser:  os.Getenv("SMTP_USER"),
		SMTPPass:  os.Getenv("SMTP_PASS"),
		EmailFrom: os.Getenv("EMAIL_FROM"),

		WahaBaseURL: os.Getenv("WAHA_BASE_URL"),
		WahaAPIKey:  os.Getenv("WAHA_API_KEY"),

		PendingSweepAge:  getEnvDuration("PENDING_SWEEP_AGE", 30*time.Minute),
		PendingSweepRule: os.Getenv("PENDING_SWEEP_RULE"),
		WorkerInterval:   getEnvDuration("WORKER_INTERVAL", 5*time.Minute),
	}
}

// IsProduction reports whether ENV=production.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// MissingReconcileSecrets returns the names of the variables the
// reconciliation endpoint cannot run without.
func (c Config) MissingReconcileSecrets() []string {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	switch c.PaymentGateway {
	case "midtrans":
		if c.MidtransServerKey == "" {
			missing = append(missing, "MIDTRANS_SERVER_KEY")
		}
	default:
		if c.CashfreeClientID == "" {
			missing = append(missing, "CASHFREE_CLIENT_ID")
		}
		if c.CashfreeClientSecret == "" {
			missing = append(missing, "CASHFREE_CLIENT_SECRET")
		}
	}
	return missing
}

// EmailEnabled reports whether SMTP is configured well enough to send mail.
func (c Config) EmailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPUser != "" && c.SMTPPass != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
