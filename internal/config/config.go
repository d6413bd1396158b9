// Package config loads orderd configuration from file and environment.
//
// Configuration is read with viper: an optional YAML file (--config or
// ./orderd.yaml) plus ORDERD_* environment overrides, e.g.
// ORDERD_POOL_SIZE_MAX=40 overrides pool.size.max. Defaults are registered
// here so a bare binary runs against localhost with sane limits.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Datasource holds database connection settings.
type Datasource struct {
	URL      string
	User     string
	Password string
}

// Pool holds connection pool sizing and timeout settings.
type Pool struct {
	SizeMax       int
	SizeMinIdle   int
	ConnTimeoutMS int
	IdleTimeoutMS int
	MaxLifetimeMS int
	LeakDetectMS  int
}

// Gate holds concurrency gate settings.
type Gate struct {
	Permits          int // 0 means derive from pool size
	AcquireTimeoutMS int
}

// Breaker holds circuit breaker settings.
type Breaker struct {
	Enabled            bool
	UtilThreshold      float64
	ConsecutiveSamples int
	FailureThreshold   int
	OpenDurationMS     int
}

// TradeService holds downstream client settings.
type TradeService struct {
	URL              string
	TimeoutConnectMS int
	TimeoutTotalMS   int
	MaxConnections   int
}

// RetryAfter bounds the retry-after hint on overload responses.
type RetryAfter struct {
	BaseSeconds int
	MaxSeconds  int
}

// Config is the full service configuration.
type Config struct {
	Datasource   Datasource
	Pool         Pool
	Gate         Gate
	Breaker      Breaker
	TradeService TradeService
	RetryAfter   RetryAfter

	SubmitBatchMax     int
	CreateBatchMax     int
	ReconcileChunkSize int

	MonitorIntervalMS int
	ServerAddr        string

	ReadTxTimeoutMS  int
	WriteTxTimeoutMS int
}

// GatePermits resolves the effective permit count: the configured value, or
// 0.4 x pool size when unset, never exceeding pool size minus headroom.
func (c *Config) GatePermits() int {
	permits := c.Gate.Permits
	if permits <= 0 {
		permits = (c.Pool.SizeMax * 2) / 5
	}
	if max := c.Pool.SizeMax - 2; permits > max {
		permits = max
	}
	if permits < 1 {
		permits = 1
	}
	return permits
}

// AcquireTimeout returns the gate acquisition timeout as a duration.
func (c *Config) AcquireTimeout() time.Duration {
	return time.Duration(c.Gate.AcquireTimeoutMS) * time.Millisecond
}

// ReadTxTimeout returns the read-transaction deadline.
func (c *Config) ReadTxTimeout() time.Duration {
	return time.Duration(c.ReadTxTimeoutMS) * time.Millisecond
}

// WriteTxTimeout returns the write-transaction deadline.
func (c *Config) WriteTxTimeout() time.Duration {
	return time.Duration(c.WriteTxTimeoutMS) * time.Millisecond
}

// MonitorInterval returns the pool sampling cadence.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalMS) * time.Millisecond
}

// OpenDuration returns the breaker's base recovery interval.
func (c *Config) OpenDuration() time.Duration {
	return time.Duration(c.Breaker.OpenDurationMS) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("datasource.url", "postgres://localhost:5432/orderd")
	v.SetDefault("datasource.user", "orderd")
	v.SetDefault("datasource.password", "")

	v.SetDefault("pool.size.max", 25)
	v.SetDefault("pool.size.min-idle", 5)
	v.SetDefault("pool.timeout.connection-ms", 5000)
	v.SetDefault("pool.timeout.idle-ms", 600000)
	v.SetDefault("pool.timeout.max-lifetime-ms", 1800000)
	v.SetDefault("pool.leak-detect-ms", 60000)

	v.SetDefault("gate.permits", 0)
	v.SetDefault("gate.acquire-timeout-ms", 2000)

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.util-threshold", 0.90)
	v.SetDefault("breaker.consecutive-samples", 3)
	v.SetDefault("breaker.failure-threshold", 5)
	v.SetDefault("breaker.open-duration-ms", 15000)

	v.SetDefault("tradeService.url", "http://localhost:8081")
	v.SetDefault("tradeService.timeout-connect-ms", 10000)
	v.SetDefault("tradeService.timeout-total-ms", 60000)
	v.SetDefault("tradeService.max-connections", 10)

	v.SetDefault("submit.batch.max", 100)
	v.SetDefault("create.batch.max", 1000)
	v.SetDefault("reconcile.chunk.size", 50)

	v.SetDefault("retryAfter.base-seconds", 60)
	v.SetDefault("retryAfter.max-seconds", 300)

	v.SetDefault("monitor.interval-ms", 5000)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("tx.read-timeout-ms", 3000)
	v.SetDefault("tx.write-timeout-ms", 5000)
}

// Load reads configuration from the optional file path and the environment.
// Pass an empty path to rely on defaults and ORDERD_* variables only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ORDERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Datasource: Datasource{
			URL:      v.GetString("datasource.url"),
			User:     v.GetString("datasource.user"),
			Password: v.GetString("datasource.password"),
		},
		Pool: Pool{
			SizeMax:       v.GetInt("pool.size.max"),
			SizeMinIdle:   v.GetInt("pool.size.min-idle"),
			ConnTimeoutMS: v.GetInt("pool.timeout.connection-ms"),
			IdleTimeoutMS: v.GetInt("pool.timeout.idle-ms"),
			MaxLifetimeMS: v.GetInt("pool.timeout.max-lifetime-ms"),
			LeakDetectMS:  v.GetInt("pool.leak-detect-ms"),
		},
		Gate: Gate{
			Permits:          v.GetInt("gate.permits"),
			AcquireTimeoutMS: v.GetInt("gate.acquire-timeout-ms"),
		},
		Breaker: Breaker{
			Enabled:            v.GetBool("breaker.enabled"),
			UtilThreshold:      v.GetFloat64("breaker.util-threshold"),
			ConsecutiveSamples: v.GetInt("breaker.consecutive-samples"),
			FailureThreshold:   v.GetInt("breaker.failure-threshold"),
			OpenDurationMS:     v.GetInt("breaker.open-duration-ms"),
		},
		TradeService: TradeService{
			URL:              v.GetString("tradeService.url"),
			TimeoutConnectMS: v.GetInt("tradeService.timeout-connect-ms"),
			TimeoutTotalMS:   v.GetInt("tradeService.timeout-total-ms"),
			MaxConnections:   v.GetInt("tradeService.max-connections"),
		},
		RetryAfter: RetryAfter{
			BaseSeconds: v.GetInt("retryAfter.base-seconds"),
			MaxSeconds:  v.GetInt("retryAfter.max-seconds"),
		},
		SubmitBatchMax:     v.GetInt("submit.batch.max"),
		CreateBatchMax:     v.GetInt("create.batch.max"),
		ReconcileChunkSize: v.GetInt("reconcile.chunk.size"),
		MonitorIntervalMS:  v.GetInt("monitor.interval-ms"),
		ServerAddr:         v.GetString("server.addr"),
		ReadTxTimeoutMS:    v.GetInt("tx.read-timeout-ms"),
		WriteTxTimeoutMS:   v.GetInt("tx.write-timeout-ms"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pool.SizeMax < 1 {
		return fmt.Errorf("pool.size.max must be >= 1, got %d", c.Pool.SizeMax)
	}
	if c.Breaker.UtilThreshold <= 0 || c.Breaker.UtilThreshold > 1 {
		return fmt.Errorf("breaker.util-threshold must be in (0,1], got %v", c.Breaker.UtilThreshold)
	}
	if c.Gate.Permits > c.Pool.SizeMax {
		return fmt.Errorf("gate.permits (%d) must not exceed pool.size.max (%d)", c.Gate.Permits, c.Pool.SizeMax)
	}
	if c.SubmitBatchMax < 1 || c.CreateBatchMax < 1 {
		return fmt.Errorf("batch size limits must be >= 1")
	}
	if c.ReconcileChunkSize < 1 {
		return fmt.Errorf("reconcile.chunk.size must be >= 1, got %d", c.ReconcileChunkSize)
	}
	if c.RetryAfter.BaseSeconds < 1 || c.RetryAfter.MaxSeconds < c.RetryAfter.BaseSeconds {
		return fmt.Errorf("retryAfter bounds invalid: base=%d max=%d", c.RetryAfter.BaseSeconds, c.RetryAfter.MaxSeconds)
	}
	return nil
}
