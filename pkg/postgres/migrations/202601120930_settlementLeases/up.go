package _202601120930_settlementLeases

import (
	"database/sql"
	"fmt"

	"github.com/goldstake/stakebridge/pkg/postgres/helpers"
	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	ct := helpers.ColumnTypesFor(grm)

	queries := []string{
		fmt.Sprintf(`alter table swap_requests add column processing_started_at %s`, ct.Timestamp),
		fmt.Sprintf(`alter table unstake_requests add column processing_started_at %s`, ct.Timestamp),
		fmt.Sprintf(`alter table claim_requests add column processing_started_at %s`, ct.Timestamp),
		`create index if not exists idx_swap_requests_status on swap_requests(status, id)`,
		`create index if not exists idx_unstake_requests_status on unstake_requests(status, id)`,
		`create index if not exists idx_claim_requests_status on claim_requests(status, id)`,
		// ledger hashes are the de-duplication key for live and replayed intake
		`create unique index if not exists uniq_transaction_records_tx_hash on transaction_records(tx_hash)`,
		`create unique index if not exists uniq_swap_requests_source_tx_hash on swap_requests(source_tx_hash)`,
		`create unique index if not exists uniq_reward_pools_active on reward_pools(stake_token, reward_token) where status = 'active'`,
		fmt.Sprintf(`create table if not exists recovery_checkpoints (
			address varchar primary key,
			scanned_from %[1]s not null,
			completed_at %[1]s not null
		)`, ct.Timestamp),
	}

	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			fmt.Printf("Failed to execute query: %s\n", query)
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202601120930_settlementLeases"
}
