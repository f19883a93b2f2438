package tests

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/internal/sqlite"
	"github.com/goldstake/stakebridge/pkg/postgres/migrations"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	StakePoolAddress = "rStakePoo1111111111111111111111111"
	SwapPoolAddress  = "rSwapPoo11111111111111111111111111"
	StakeIssuer      = "rStakeIssuer11111111111111111111111"
	RewardIssuer     = "rRewardIssuer1111111111111111111111"
)

// GetConfig returns a configuration with the production defaults and a fixed pair of pools.
func GetConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.PoolsConfig = config.PoolsConfig{
		SwapAddress:  SwapPoolAddress,
		SwapSecret:   "sSwapSecret",
		StakeAddress: StakePoolAddress,
		StakeSecret:  "sStakeSecret",
	}
	cfg.TokensConfig = config.TokensConfig{
		StakeCurrency:  "GPC",
		StakeIssuer:    StakeIssuer,
		RewardCurrency: "RLUSD",
		RewardIssuer:   RewardIssuer,
	}
	cfg.LimitsConfig = config.LimitsConfig{
		MinStake:   decimal.RequireFromString("1"),
		MinSwap:    decimal.RequireFromString("0.1"),
		MaxSwapOut: decimal.RequireFromString("1000"),
		SwapFee:    decimal.RequireFromString("0.05"),
		ClaimFee:   decimal.RequireFromString("0.05"),
	}
	cfg.RewardsConfig.Apr = decimal.RequireFromString("0.72")
	return cfg
}

func GenerateTestDbName() (string, error) {
	return fmt.Sprintf("test_%s", strings.ReplaceAll(uuid.NewString(), "-", "")), nil
}

func GetDbConfigFromEnv() *config.DatabaseConfig {
	port, _ := strconv.Atoi(os.Getenv("STAKEBRIDGE_DATABASE_PORT"))
	return &config.DatabaseConfig{
		Host:     os.Getenv("STAKEBRIDGE_DATABASE_HOST"),
		Port:     port,
		User:     os.Getenv("STAKEBRIDGE_DATABASE_USER"),
		Password: os.Getenv("STAKEBRIDGE_DATABASE_PASSWORD"),
	}
}

// GetSqliteDatabase opens a private in-memory database and runs every migration against it.
func GetSqliteDatabase(l *zap.Logger) (*gorm.DB, error) {
	grm, err := sqlite.OpenInMemory(uuid.NewString())
	if err != nil {
		return nil, err
	}
	rawDb, err := grm.DB()
	if err != nil {
		return nil, err
	}

	migrator := migrations.NewMigrator(rawDb, grm, l)
	if err := migrator.MigrateAll(); err != nil {
		return nil, err
	}
	return grm, nil
}
