package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr            string
	DBDSN               string
	JWTIssuer           string
	JWTSecret           string
	JWTTTL              time.Duration
	InternalToken       string
	WebSocketOrigin     string
	PriceFeedURL        string
	PriceFeedTimeout    time.Duration
	PairsFile           string
	RepriceInterval     time.Duration
	MarginCheckInterval time.Duration
	MarginCallLevel     decimal.Decimal
	StopOutLevel        decimal.Decimal
	CommissionPerLot    decimal.Decimal
	SwapRollover        bool
	DefaultLeverage     int
	DefaultBalance      decimal.Decimal
	LogLevel            string
	LogFormat           string
}

// LoadDotEnv loads variables from the given files (".env" when none are
// named) without overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	c.InternalToken = os.Getenv("INTERNAL_API_TOKEN")
	if c.InternalToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	c.PriceFeedURL = strings.TrimSpace(os.Getenv("PRICE_FEED_URL"))
	c.PairsFile = os.Getenv("PAIRS_FILE")

	var err error
	if c.JWTTTL, err = durationEnv("JWT_TTL", time.Hour); err != nil {
		return c, err
	}
	if c.PriceFeedTimeout, err = durationEnv("PRICE_FEED_TIMEOUT", 2*time.Second); err != nil {
		return c, err
	}
	if c.RepriceInterval, err = durationEnv("REPRICE_INTERVAL", 5*time.Second); err != nil {
		return c, err
	}
	if c.MarginCheckInterval, err = durationEnv("MARGIN_CHECK_INTERVAL", 10*time.Second); err != nil {
		return c, err
	}
	if c.MarginCallLevel, err = decimalEnv("MARGIN_CALL_LEVEL", "120"); err != nil {
		return c, err
	}
	if c.StopOutLevel, err = decimalEnv("STOP_OUT_LEVEL", "50"); err != nil {
		return c, err
	}
	if c.CommissionPerLot, err = decimalEnv("COMMISSION_PER_LOT", "0"); err != nil {
		return c, err
	}
	if c.DefaultBalance, err = decimalEnv("DEFAULT_BALANCE", "10000"); err != nil {
		return c, err
	}
	if c.SwapRollover, err = boolEnv("SWAP_ROLLOVER_ENABLED", true); err != nil {
		return c, err
	}
	c.DefaultLeverage = 100
	if raw := strings.TrimSpace(os.Getenv("DEFAULT_LEVERAGE")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c, errors.New("invalid DEFAULT_LEVERAGE")
		}
		c.DefaultLeverage = n
	}
	if !c.StopOutLevel.LessThan(c.MarginCallLevel) {
		return c, errors.New("STOP_OUT_LEVEL must be below MARGIN_CALL_LEVEL")
	}
	if c.CommissionPerLot.IsNegative() || c.DefaultBalance.IsNegative() {
		return c, errors.New("COMMISSION_PER_LOT and DEFAULT_BALANCE must not be negative")
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return c, errors.New("invalid LOG_FORMAT: use text or json")
	}

	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return d, nil
}

func decimalEnv(key, def string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return b, nil
}
