package main

import (
	"os"
	"strings"
)

// Config is the environment-driven wiring surface for jabberd. A config
// file format is explicitly out of scope (spec.md §1); every constructor
// downstream still takes typed options, so loadConfig's only job is
// turning the process environment into those options.
type Config struct {
	Domain  string
	C2SAddr string
	S2SAddr string

	TLSCert          string
	TLSKey           string
	TLSSelfSigned    bool
	TLSSelfSignedDir string

	XDBBackend string // "memory", "mysql", "postgres", "sqlite"
	XDBDSN     string

	DialbackSecret     string
	DialbackLegacyKeys bool

	DefaultAccounts []Account

	Groups []string // group ids to enable (jsm/groups is off unless named here)
}

// Account is a seeded username/password pair, the same shape the teacher
// uses for XMPP_DEFAULT_ACCOUNTS.
type Account struct {
	Username string
	Password string
}

func loadConfig() Config {
	cfg := Config{}
	cfg.Domain = getenv("JABBERD_DOMAIN", "example.com")
	cfg.C2SAddr = getenv("JABBERD_C2S_ADDR", ":5222")
	cfg.S2SAddr = getenv("JABBERD_S2S_ADDR", ":5269")

	cfg.TLSCert = os.Getenv("JABBERD_TLS_CERT")
	cfg.TLSKey = os.Getenv("JABBERD_TLS_KEY")
	cfg.TLSSelfSigned = getenvBool("JABBERD_TLS_SELF_SIGNED", true)
	cfg.TLSSelfSignedDir = getenv("JABBERD_TLS_SELF_SIGNED_DIR", "/var/lib/jabberd/tls")

	cfg.XDBBackend = strings.ToLower(getenv("JABBERD_XDB_BACKEND", "memory"))
	cfg.XDBDSN = os.Getenv("JABBERD_XDB_DSN")

	cfg.DialbackSecret = os.Getenv("JABBERD_DIALBACK_SECRET")
	cfg.DialbackLegacyKeys = getenvBool("JABBERD_DIALBACK_LEGACY_KEYS", false)

	cfg.DefaultAccounts = parseAccounts(os.Getenv("JABBERD_DEFAULT_ACCOUNTS"))
	cfg.Groups = parseCSV(getenv("JABBERD_GROUPS", ""))

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func parseCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func parseAccounts(v string) []Account {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]Account, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, ":", 2)
		if len(kv) != 2 {
			continue
		}
		user := strings.TrimSpace(kv[0])
		pass := strings.TrimSpace(kv[1])
		if user == "" || pass == "" {
			continue
		}
		out = append(out, Account{Username: user, Password: pass})
	}
	return out
}
