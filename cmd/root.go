package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "stakebridge",
	Short: "Custodial staking and swap bridge between the XRP Ledger and a relational ledger of record",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	initConfig(rootCmd)

	rootCmd.PersistentFlags().Bool(config.Debug, false, `"true" or "false"`)
	rootCmd.PersistentFlags().Bool(config.JsonLogs, false, `Emit logs as json`)

	rootCmd.PersistentFlags().String(config.DatabaseHost, "localhost", `PostgreSQL host`)
	rootCmd.PersistentFlags().Int(config.DatabasePort, 5432, `PostgreSQL port`)
	rootCmd.PersistentFlags().String(config.DatabaseUser, "stakebridge", `PostgreSQL username`)
	rootCmd.PersistentFlags().String(config.DatabasePassword, "", `PostgreSQL password`)
	rootCmd.PersistentFlags().String(config.DatabaseDbName, "stakebridge", `PostgreSQL database name`)
	rootCmd.PersistentFlags().String(config.DatabaseSchemaName, "", `PostgreSQL schema name (default "public")`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLMode, "disable", `PostgreSQL sslmode`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLCert, "", `Path to the client certificate`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLKey, "", `Path to the client key`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLRootCert, "", `Path to the root certificate`)

	rootCmd.PersistentFlags().String(config.LedgerRpcUrl, "", `e.g. "https://s1.ripple.com:51234"`)
	rootCmd.PersistentFlags().String(config.LedgerWsUrl, "", `e.g. "wss://s1.ripple.com"`)
	rootCmd.PersistentFlags().Duration(config.LedgerRequestTimeout, 10*time.Second, `Timeout for a single ledger RPC call`)
	rootCmd.PersistentFlags().Duration(config.LedgerFinalityTimeout, 30*time.Second, `How long to wait for a submitted transfer to validate`)

	rootCmd.PersistentFlags().String(config.PoolsSwapAddress, "", `Classic address of the swap pool`)
	rootCmd.PersistentFlags().String(config.PoolsSwapSecret, "", `Signing secret of the swap pool`)
	rootCmd.PersistentFlags().String(config.PoolsStakeAddress, "", `Classic address of the stake pool`)
	rootCmd.PersistentFlags().String(config.PoolsStakeSecret, "", `Signing secret of the stake pool`)

	rootCmd.PersistentFlags().String(config.TokensStakeCurrency, "", `Currency code of the stake token, e.g. "GPC"`)
	rootCmd.PersistentFlags().String(config.TokensStakeIssuer, "", `Issuer of the stake token`)
	rootCmd.PersistentFlags().String(config.TokensRewardCurrency, "", `Currency code of the reward token, e.g. "RLUSD"`)
	rootCmd.PersistentFlags().String(config.TokensRewardIssuer, "", `Issuer of the reward token`)
	rootCmd.PersistentFlags().String(config.TokensRatePair, "", `Exchange rate pair id (default "<stake>_<reward>")`)

	rootCmd.PersistentFlags().String(config.LimitsMinStake, "1", `Smallest accepted stake deposit`)
	rootCmd.PersistentFlags().String(config.LimitsMinSwap, "0.1", `Smallest accepted swap deposit`)
	rootCmd.PersistentFlags().String(config.LimitsMaxSwapOut, "1000", `Largest swap payout`)
	rootCmd.PersistentFlags().String(config.LimitsSwapFee, "0.05", `Fee deducted from stake to reward swaps`)
	rootCmd.PersistentFlags().String(config.LimitsClaimFee, "0.05", `Fee deducted from reward claims`)

	rootCmd.PersistentFlags().String(config.RewardsApr, "0.72", `Annual percentage rate as a fraction`)

	rootCmd.PersistentFlags().Duration(config.SettlementSwapInterval, time.Second, `Swap queue poll interval`)
	rootCmd.PersistentFlags().Duration(config.SettlementUnstakeInterval, time.Second, `Unstake queue poll interval`)
	rootCmd.PersistentFlags().Duration(config.SettlementClaimInterval, time.Second, `Claim queue poll interval`)
	rootCmd.PersistentFlags().Duration(config.SettlementLeaseTimeout, 5*time.Minute, `Age after which a processing request is stale`)
	rootCmd.PersistentFlags().Duration(config.SettlementSweepInterval, time.Minute, `Stale request sweep interval`)
	rootCmd.PersistentFlags().String(config.SettlementStaleAction, string(config.StaleAction_Fail), `What to do with stale requests ("fail" or "requeue")`)

	rootCmd.PersistentFlags().Bool(config.RecoveryOnBoot, true, `Run a recovery pass before listening`)
	rootCmd.PersistentFlags().Duration(config.RecoveryInterval, 0, `Periodic recovery interval, 0 disables`)
	rootCmd.PersistentFlags().String(config.RecoverySince, "", `RFC3339 lower bound for recovery (default: per address checkpoint)`)
	rootCmd.PersistentFlags().Int(config.RecoveryLimitPerAddress, 5, `Maximum history entries inspected per address`)
	rootCmd.PersistentFlags().Int(config.RecoveryPageSize, 20, `History page size`)

	rootCmd.PersistentFlags().Duration(config.ExchangeRateRefreshInterval, 30*time.Second, `Exchange rate reload interval`)

	rootCmd.PersistentFlags().String(config.AlertsInfoWebhookUrl, "", `Discord webhook for info alerts`)
	rootCmd.PersistentFlags().String(config.AlertsWarnWebhookUrl, "", `Discord webhook for warn alerts`)
	rootCmd.PersistentFlags().String(config.AlertsErrorWebhookUrl, "", `Discord webhook for error alerts`)
	rootCmd.PersistentFlags().Float64(config.AlertsRatePerSecond, 1, `Maximum alerts delivered per second`)

	rootCmd.PersistentFlags().Bool(config.DataDogStatsdEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().String(config.DataDogStatsdUrl, "", `e.g. "localhost:8125"`)
	rootCmd.PersistentFlags().Float64(config.DataDogStatsdSampleRate, 1.0, `The sample rate to use for statsd metrics`)

	rootCmd.PersistentFlags().Bool(config.PrometheusEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().Int(config.PrometheusPort, 2112, `The port to run the prometheus server on`)

	// setup sub commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(rolloverCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runVersionCmd)

	poolCmd.AddCommand(poolCreateCmd)

	// bind any subcommand flags
	rolloverCmd.Flags().String(config.RolloverMode, "end", `"end" closes the active pool, "snapshot" keeps it open`)

	poolCreateCmd.Flags().String(config.PoolStartsAt, "", `RFC3339 start of the reward period (default: now)`)
	poolCreateCmd.Flags().Int(config.PoolDurationDays, 30, `Length of the reward period in days`)
	poolCreateCmd.Flags().String(config.PoolTotalReward, "0", `Informational total reward budget`)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig(cmd *cobra.Command) {
	// a missing .env is fine, real environment variables still apply
	_ = godotenv.Load()

	viper.SetEnvPrefix(config.ENV_PREFIX)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.AutomaticEnv()
}

func bindCommandFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(f.Name); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
}
