package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "STAKEBRIDGE"

type StaleAction string

const (
	StaleAction_Fail    StaleAction = "fail"
	StaleAction_Requeue StaleAction = "requeue"
)

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DbName      string
	SchemaName  string
	SSLMode     string
	SSLCert     string
	SSLKey      string
	SSLRootCert string
}

type LedgerConfig struct {
	RpcUrl          string
	WsUrl           string
	RequestTimeout  time.Duration
	FinalityTimeout time.Duration
}

type PoolsConfig struct {
	SwapAddress  string
	SwapSecret   string
	StakeAddress string
	StakeSecret  string
}

type TokensConfig struct {
	StakeCurrency  string
	StakeIssuer    string
	RewardCurrency string
	RewardIssuer   string
	RatePair       string
}

type LimitsConfig struct {
	MinStake   decimal.Decimal
	MinSwap    decimal.Decimal
	MaxSwapOut decimal.Decimal
	SwapFee    decimal.Decimal
	ClaimFee   decimal.Decimal
}

type RewardsConfig struct {
	Apr decimal.Decimal
}

type SettlementConfig struct {
	SwapInterval    time.Duration
	UnstakeInterval time.Duration
	ClaimInterval   time.Duration
	LeaseTimeout    time.Duration
	SweepInterval   time.Duration
	StaleAction     StaleAction
}

type RecoveryConfig struct {
	OnBoot          bool
	Interval        time.Duration
	Since           time.Time
	LimitPerAddress int
	PageSize        int
}

type ExchangeRateConfig struct {
	RefreshInterval time.Duration
}

type AlertsConfig struct {
	InfoWebhookUrl  string
	WarnWebhookUrl  string
	ErrorWebhookUrl string
	RatePerSecond   float64
}

type PrometheusConfig struct {
	Enabled bool
	Port    int
}

type StatsdConfig struct {
	Enabled    bool
	Url        string
	SampleRate float64
}

type DataDogConfig struct {
	StatsdConfig StatsdConfig
}

type Config struct {
	Debug              bool
	JsonLogs           bool
	DatabaseConfig     DatabaseConfig
	LedgerConfig       LedgerConfig
	PoolsConfig        PoolsConfig
	TokensConfig       TokensConfig
	LimitsConfig       LimitsConfig
	RewardsConfig      RewardsConfig
	SettlementConfig   SettlementConfig
	RecoveryConfig     RecoveryConfig
	ExchangeRateConfig ExchangeRateConfig
	AlertsConfig       AlertsConfig
	PrometheusConfig   PrometheusConfig
	DataDogConfig      DataDogConfig
}

func normalizeFlagName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func parseDecimal(key string, fallback string) decimal.Decimal {
	raw := viper.GetString(normalizeFlagName(key))
	if raw == "" {
		raw = fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.RequireFromString(fallback)
	}
	return d
}

func parseTime(key string) time.Time {
	raw := viper.GetString(normalizeFlagName(key))
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func durationOr(key string, fallback time.Duration) time.Duration {
	d := viper.GetDuration(normalizeFlagName(key))
	if d <= 0 {
		return fallback
	}
	return d
}

func intOr(key string, fallback int) int {
	v := viper.GetInt(normalizeFlagName(key))
	if v <= 0 {
		return fallback
	}
	return v
}

func NewConfig() *Config {
	return &Config{
		Debug:    viper.GetBool(normalizeFlagName(Debug)),
		JsonLogs: viper.GetBool(normalizeFlagName(JsonLogs)),

		DatabaseConfig: DatabaseConfig{
			Host:        viper.GetString(normalizeFlagName(DatabaseHost)),
			Port:        viper.GetInt(normalizeFlagName(DatabasePort)),
			User:        viper.GetString(normalizeFlagName(DatabaseUser)),
			Password:    viper.GetString(normalizeFlagName(DatabasePassword)),
			DbName:      viper.GetString(normalizeFlagName(DatabaseDbName)),
			SchemaName:  viper.GetString(normalizeFlagName(DatabaseSchemaName)),
			SSLMode:     viper.GetString(normalizeFlagName(DatabaseSSLMode)),
			SSLCert:     viper.GetString(normalizeFlagName(DatabaseSSLCert)),
			SSLKey:      viper.GetString(normalizeFlagName(DatabaseSSLKey)),
			SSLRootCert: viper.GetString(normalizeFlagName(DatabaseSSLRootCert)),
		},

		LedgerConfig: LedgerConfig{
			RpcUrl:          viper.GetString(normalizeFlagName(LedgerRpcUrl)),
			WsUrl:           viper.GetString(normalizeFlagName(LedgerWsUrl)),
			RequestTimeout:  durationOr(LedgerRequestTimeout, 10*time.Second),
			FinalityTimeout: durationOr(LedgerFinalityTimeout, 30*time.Second),
		},

		PoolsConfig: PoolsConfig{
			SwapAddress:  viper.GetString(normalizeFlagName(PoolsSwapAddress)),
			SwapSecret:   viper.GetString(normalizeFlagName(PoolsSwapSecret)),
			StakeAddress: viper.GetString(normalizeFlagName(PoolsStakeAddress)),
			StakeSecret:  viper.GetString(normalizeFlagName(PoolsStakeSecret)),
		},

		TokensConfig: TokensConfig{
			StakeCurrency:  viper.GetString(normalizeFlagName(TokensStakeCurrency)),
			StakeIssuer:    viper.GetString(normalizeFlagName(TokensStakeIssuer)),
			RewardCurrency: viper.GetString(normalizeFlagName(TokensRewardCurrency)),
			RewardIssuer:   viper.GetString(normalizeFlagName(TokensRewardIssuer)),
			RatePair:       viper.GetString(normalizeFlagName(TokensRatePair)),
		},

		LimitsConfig: LimitsConfig{
			MinStake:   parseDecimal(LimitsMinStake, "1"),
			MinSwap:    parseDecimal(LimitsMinSwap, "0.1"),
			MaxSwapOut: parseDecimal(LimitsMaxSwapOut, "1000"),
			SwapFee:    parseDecimal(LimitsSwapFee, "0.05"),
			ClaimFee:   parseDecimal(LimitsClaimFee, "0.05"),
		},

		RewardsConfig: RewardsConfig{
			Apr: parseDecimal(RewardsApr, "0.72"),
		},

		SettlementConfig: SettlementConfig{
			SwapInterval:    durationOr(SettlementSwapInterval, time.Second),
			UnstakeInterval: durationOr(SettlementUnstakeInterval, time.Second),
			ClaimInterval:   durationOr(SettlementClaimInterval, time.Second),
			LeaseTimeout:    durationOr(SettlementLeaseTimeout, 5*time.Minute),
			SweepInterval:   durationOr(SettlementSweepInterval, time.Minute),
			StaleAction:     StaleAction(viper.GetString(normalizeFlagName(SettlementStaleAction))),
		},

		RecoveryConfig: RecoveryConfig{
			OnBoot:          viper.GetBool(normalizeFlagName(RecoveryOnBoot)),
			Interval:        viper.GetDuration(normalizeFlagName(RecoveryInterval)),
			Since:           parseTime(RecoverySince),
			LimitPerAddress: intOr(RecoveryLimitPerAddress, 5),
			PageSize:        intOr(RecoveryPageSize, 20),
		},

		ExchangeRateConfig: ExchangeRateConfig{
			RefreshInterval: durationOr(ExchangeRateRefreshInterval, 30*time.Second),
		},

		AlertsConfig: AlertsConfig{
			InfoWebhookUrl:  viper.GetString(normalizeFlagName(AlertsInfoWebhookUrl)),
			WarnWebhookUrl:  viper.GetString(normalizeFlagName(AlertsWarnWebhookUrl)),
			ErrorWebhookUrl: viper.GetString(normalizeFlagName(AlertsErrorWebhookUrl)),
			RatePerSecond:   viper.GetFloat64(normalizeFlagName(AlertsRatePerSecond)),
		},

		PrometheusConfig: PrometheusConfig{
			Enabled: viper.GetBool(normalizeFlagName(PrometheusEnabled)),
			Port:    viper.GetInt(normalizeFlagName(PrometheusPort)),
		},

		DataDogConfig: DataDogConfig{
			StatsdConfig: StatsdConfig{
				Enabled:    viper.GetBool(normalizeFlagName(DataDogStatsdEnabled)),
				Url:        viper.GetString(normalizeFlagName(DataDogStatsdUrl)),
				SampleRate: viper.GetFloat64(normalizeFlagName(DataDogStatsdSampleRate)),
			},
		},
	}
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.LedgerConfig.RpcUrl == "" {
		errs = append(errs, fmt.Errorf("%s is required", LedgerRpcUrl))
	}
	if c.PoolsConfig.SwapAddress == "" || c.PoolsConfig.StakeAddress == "" {
		errs = append(errs, fmt.Errorf("%s and %s are required", PoolsSwapAddress, PoolsStakeAddress))
	}
	if c.TokensConfig.StakeCurrency == "" || c.TokensConfig.RewardCurrency == "" {
		errs = append(errs, fmt.Errorf("%s and %s are required", TokensStakeCurrency, TokensRewardCurrency))
	}
	if c.TokensConfig.StakeIssuer == "" || c.TokensConfig.RewardIssuer == "" {
		errs = append(errs, fmt.Errorf("%s and %s are required", TokensStakeIssuer, TokensRewardIssuer))
	}
	switch c.SettlementConfig.StaleAction {
	case "", StaleAction_Fail, StaleAction_Requeue:
	default:
		errs = append(errs, fmt.Errorf("invalid %s '%s'", SettlementStaleAction, c.SettlementConfig.StaleAction))
	}
	return errors.Join(errs...)
}

// GetRatePair returns the exchange rate pair id, derived from the token symbols when unset.
func (c *Config) GetRatePair() string {
	if c.TokensConfig.RatePair != "" {
		return c.TokensConfig.RatePair
	}
	return fmt.Sprintf("%s_%s", c.TokensConfig.StakeCurrency, c.TokensConfig.RewardCurrency)
}

func (c *Config) GetStaleAction() StaleAction {
	if c.SettlementConfig.StaleAction == "" {
		return StaleAction_Fail
	}
	return c.SettlementConfig.StaleAction
}

var (
	Debug    = "debug"
	JsonLogs = "json-logs"

	DatabaseHost        = "database.host"
	DatabasePort        = "database.port"
	DatabaseUser        = "database.user"
	DatabasePassword    = "database.password"
	DatabaseDbName      = "database.db_name"
	DatabaseSchemaName  = "database.schema_name"
	DatabaseSSLMode     = "database.ssl_mode"
	DatabaseSSLCert     = "database.ssl_cert"
	DatabaseSSLKey      = "database.ssl_key"
	DatabaseSSLRootCert = "database.ssl_root_cert"

	LedgerRpcUrl          = "ledger.rpc-url"
	LedgerWsUrl           = "ledger.ws-url"
	LedgerRequestTimeout  = "ledger.request-timeout"
	LedgerFinalityTimeout = "ledger.finality-timeout"

	PoolsSwapAddress  = "pools.swap-address"
	PoolsSwapSecret   = "pools.swap-secret"
	PoolsStakeAddress = "pools.stake-address"
	PoolsStakeSecret  = "pools.stake-secret"

	TokensStakeCurrency  = "tokens.stake-currency"
	TokensStakeIssuer    = "tokens.stake-issuer"
	TokensRewardCurrency = "tokens.reward-currency"
	TokensRewardIssuer   = "tokens.reward-issuer"
	TokensRatePair       = "tokens.rate-pair"

	LimitsMinStake   = "limits.min-stake"
	LimitsMinSwap    = "limits.min-swap"
	LimitsMaxSwapOut = "limits.max-swap-out"
	LimitsSwapFee    = "limits.swap-fee"
	LimitsClaimFee   = "limits.claim-fee"

	RewardsApr = "rewards.apr"

	SettlementSwapInterval    = "settlement.swap-interval"
	SettlementUnstakeInterval = "settlement.unstake-interval"
	SettlementClaimInterval   = "settlement.claim-interval"
	SettlementLeaseTimeout    = "settlement.lease-timeout"
	SettlementSweepInterval   = "settlement.sweep-interval"
	SettlementStaleAction     = "settlement.stale-action"

	RecoveryOnBoot          = "recovery.on-boot"
	RecoveryInterval        = "recovery.interval"
	RecoverySince           = "recovery.since"
	RecoveryLimitPerAddress = "recovery.limit-per-address"
	RecoveryPageSize        = "recovery.page-size"

	ExchangeRateRefreshInterval = "exchange-rate.refresh-interval"

	AlertsInfoWebhookUrl  = "alerts.info-webhook-url"
	AlertsWarnWebhookUrl  = "alerts.warn-webhook-url"
	AlertsErrorWebhookUrl = "alerts.error-webhook-url"
	AlertsRatePerSecond   = "alerts.rate-per-second"

	PrometheusEnabled = "prometheus.enabled"
	PrometheusPort    = "prometheus.port"

	DataDogStatsdEnabled    = "datadog.statsd.enabled"
	DataDogStatsdUrl        = "datadog.statsd.url"
	DataDogStatsdSampleRate = "datadog.statsd.sample_rate"

	RolloverMode = "mode"

	PoolStartsAt     = "starts-at"
	PoolDurationDays = "duration-days"
	PoolTotalReward  = "total-reward"
)

func KebabToSnakeCase(str string) string {
	return strings.ReplaceAll(str, "-", "_")
}
