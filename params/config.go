package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

type Ledger struct {
	ID                order.LedgerID
	ChainID           int64 // EIP-712 domain chain id
	VerifyingContract common.Address
	Custody           common.Address
	MaxFillsPerSettle int
	// SettleInterval drives the keeper that flushes queued fills. Zero
	// disables it; solvers then settle on their own.
	SettleInterval time.Duration
}

type Policy struct {
	SupportedLedgers []order.LedgerID
	Solvers          []common.Address
	Hooks            []common.Address
	Admins           []common.Address
}

type Bus struct {
	Kind       string // memory | libp2p | kafka
	Listen     string
	Bootstrap  []string
	Brokers    []string
	FeeBase    uint64
	FeePerByte uint64
	FeePerGas  uint64
	// BLSSeed derives this ledger's attestation key. Empty disables
	// attestation of outbound envelopes.
	BLSSeed string
	// LedgerKeys are the peers' attestation public keys. When set, inbound
	// envelopes from ledgers without a key are rejected.
	LedgerKeys map[order.LedgerID]string
}

type Node struct {
	DBPath   string // empty keeps state in memory
	APIAddr  string
	LogFile  string
	LogLevel string // debug, info, warn, error
	AuditLog string
}

type Config struct {
	Ledger Ledger
	Policy Policy
	Bus    Bus
	Node   Node
}

func Default() Config {
	return Config{
		Ledger: Ledger{
			ID:                1,
			ChainID:           1337,
			Custody:           common.HexToAddress("0x00000000000000000000000000000000c0570d1e"),
			MaxFillsPerSettle: 100,
			SettleInterval:    0,
		},
		Bus: Bus{
			Kind:       "memory",
			Listen:     "/ip4/0.0.0.0/tcp/4001",
			FeeBase:    21000,
			FeePerByte: 16,
		},
		Node: Node{
			DBPath:   "./data/ledger",
			APIAddr:  ":8080",
			LogFile:  "data/node.log",
			LogLevel: "info",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if v := os.Getenv("LEDGER_ID"); v != "" {
		id, err := parseLedgerID(v)
		collect(err)
		cfg.Ledger.ID = id
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		collect(envErr("CHAIN_ID", err))
		cfg.Ledger.ChainID = n
	}
	if v := os.Getenv("VERIFYING_CONTRACT"); v != "" {
		a, err := parseAddress(v)
		collect(envErr("VERIFYING_CONTRACT", err))
		cfg.Ledger.VerifyingContract = a
	}
	if v := os.Getenv("CUSTODY_ADDRESS"); v != "" {
		a, err := parseAddress(v)
		collect(envErr("CUSTODY_ADDRESS", err))
		cfg.Ledger.Custody = a
	}
	if v := os.Getenv("MAX_FILLS_PER_SETTLE"); v != "" {
		n, err := strconv.Atoi(v)
		collect(envErr("MAX_FILLS_PER_SETTLE", err))
		cfg.Ledger.MaxFillsPerSettle = n
	}
	if v := os.Getenv("SETTLE_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		collect(envErr("SETTLE_INTERVAL_MS", err))
		cfg.Ledger.SettleInterval = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("SUPPORTED_LEDGERS"); v != "" {
		for _, s := range splitList(v) {
			id, err := parseLedgerID(s)
			collect(envErr("SUPPORTED_LEDGERS", err))
			cfg.Policy.SupportedLedgers = append(cfg.Policy.SupportedLedgers, id)
		}
	}
	for key, dst := range map[string]*[]common.Address{
		"ALLOWED_SOLVERS": &cfg.Policy.Solvers,
		"ALLOWED_HOOKS":   &cfg.Policy.Hooks,
		"ADMINS":          &cfg.Policy.Admins,
	} {
		for _, s := range splitList(os.Getenv(key)) {
			a, err := parseAddress(s)
			collect(envErr(key, err))
			*dst = append(*dst, a)
		}
	}

	cfg.Bus.Kind = getEnv("BUS_KIND", cfg.Bus.Kind)
	cfg.Bus.Listen = getEnv("LISTEN", cfg.Bus.Listen)
	cfg.Bus.Bootstrap = splitList(os.Getenv("BOOTSTRAP"))
	cfg.Bus.Brokers = splitList(os.Getenv("KAFKA_BROKERS"))
	for key, dst := range map[string]*uint64{
		"FEE_BASE":     &cfg.Bus.FeeBase,
		"FEE_PER_BYTE": &cfg.Bus.FeePerByte,
		"FEE_PER_GAS":  &cfg.Bus.FeePerGas,
	} {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			collect(envErr(key, err))
			*dst = n
		}
	}
	cfg.Bus.BLSSeed = os.Getenv("BLS_SEED")
	if v := os.Getenv("LEDGER_KEYS"); v != "" {
		// Example: "2=0xabc...,3=0xdef..."
		cfg.Bus.LedgerKeys = make(map[order.LedgerID]string)
		for _, pair := range splitList(v) {
			idStr, key, ok := strings.Cut(pair, "=")
			if !ok {
				collect(fmt.Errorf("LEDGER_KEYS: entry %q is not id=key", pair))
				continue
			}
			id, err := parseLedgerID(idStr)
			collect(envErr("LEDGER_KEYS", err))
			cfg.Bus.LedgerKeys[id] = strings.TrimSpace(key)
		}
	}

	cfg.Node.DBPath = getEnv("DB_PATH", cfg.Node.DBPath)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.AuditLog = getEnv("AUDIT_LOG", cfg.Node.AuditLog)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch {
	case c.Ledger.Custody == (common.Address{}):
		return errors.New("custody address must be set")
	case c.Ledger.MaxFillsPerSettle <= 0:
		return fmt.Errorf("MAX_FILLS_PER_SETTLE must be positive, got %d", c.Ledger.MaxFillsPerSettle)
	}
	switch c.Bus.Kind {
	case "memory", "libp2p":
	case "kafka":
		if len(c.Bus.Brokers) == 0 {
			return errors.New("BUS_KIND=kafka needs KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unknown BUS_KIND %q", c.Bus.Kind)
	}
	return nil
}

func envErr(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", key, err)
}

func parseLedgerID(s string) (order.LedgerID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid ledger id %q: %w", s, err)
	}
	return order.LedgerID(n), nil
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
