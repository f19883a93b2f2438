package _202601050900_bootstrapDb

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
		fmt.Sprintf(`create table if not exists stake_accounts (
			id %[1]s,
			address varchar not null unique,
			staked_amount %[2]s not null default '0',
			pocket_reward %[2]s not null default '0',
			last_claim_at %[3]s,
			updated_at %[3]s not null,
			created_at %[3]s not null
		)`, ct.Id, ct.Decimal, ct.Timestamp),
		fmt.Sprintf(`create table if not exists reward_pools (
			id %[1]s,
			stake_token varchar not null,
			reward_token varchar not null,
			period_start %[3]s not null,
			duration_days integer not null,
			total_reward %[2]s not null default '0',
			status varchar not null,
			ended_at %[3]s,
			created_at %[3]s not null
		)`, ct.Id, ct.Decimal, ct.Timestamp),
		fmt.Sprintf(`create table if not exists swap_requests (
			id %[1]s,
			account varchar not null,
			send_token varchar not null,
			send_amount %[2]s not null default '0',
			receive_token varchar not null,
			receive_amount %[2]s not null default '0',
			source_tx_hash varchar,
			status varchar not null,
			fail_reason varchar,
			created_at %[3]s not null,
			updated_at %[3]s not null
		)`, ct.Id, ct.Decimal, ct.Timestamp),
		fmt.Sprintf(`create table if not exists unstake_requests (
			id %[1]s,
			account varchar not null,
			send_token varchar not null,
			send_amount %[2]s not null default '0',
			status varchar not null,
			fail_reason varchar,
			created_at %[3]s not null,
			updated_at %[3]s not null
		)`, ct.Id, ct.Decimal, ct.Timestamp),
		fmt.Sprintf(`create table if not exists claim_requests (
			id %[1]s,
			account varchar not null,
			send_token varchar not null,
			send_amount %[2]s not null default '0',
			status varchar not null,
			fail_reason varchar,
			created_at %[3]s not null,
			updated_at %[3]s not null
		)`, ct.Id, ct.Decimal, ct.Timestamp),
		fmt.Sprintf(`create table if not exists transaction_records (
			id %[1]s,
			address varchar not null,
			type varchar not null,
			amount %[2]s not null,
			symbol varchar not null,
			tx_hash varchar not null,
			created_at %[3]s not null
		)`, ct.Id, ct.Decimal, ct.Timestamp),
		fmt.Sprintf(`create table if not exists authorization_intents (
			id %[1]s,
			account varchar not null,
			nonce varchar not null unique,
			action varchar not null,
			amount %[2]s not null,
			session_id varchar not null unique,
			status varchar not null,
			created_at %[3]s not null,
			verified_at %[3]s
		)`, ct.Id, ct.Decimal, ct.Timestamp),
		fmt.Sprintf(`create table if not exists exchange_rates (
			id %[1]s,
			pair varchar not null,
			rate %[2]s not null,
			updated_at %[3]s not null
		)`, ct.Id, ct.Decimal, ct.Timestamp),
		`create index if not exists idx_exchange_rates_pair on exchange_rates(pair, id)`,
		`create index if not exists idx_transaction_records_address on transaction_records(address)`,
		`create index if not exists idx_authorization_intents_account on authorization_intents(account, status)`,
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
	return "202601050900_bootstrapDb"
}
