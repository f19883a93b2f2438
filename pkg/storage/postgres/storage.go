package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/goldstake/stakebridge/pkg/postgres"
	"github.com/goldstake/stakebridge/pkg/postgres/helpers"
	"github.com/goldstake/stakebridge/pkg/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresSettlementStore struct {
	Db     *gorm.DB
	Logger *zap.Logger
}

func NewPostgresSettlementStore(db *gorm.DB, l *zap.Logger) *PostgresSettlementStore {
	return &PostgresSettlementStore{
		Db:     db,
		Logger: l,
	}
}

func (s *PostgresSettlementStore) GetDb() *gorm.DB {
	return s.Db
}

func (s *PostgresSettlementStore) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.Db
}

// forUpdate adds a row lock where the dialect supports one. SQLite serializes writers instead.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if helpers.IsPostgres(tx) {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (s *PostgresSettlementStore) GetStakeAccount(tx *gorm.DB, address string) (*storage.StakeAccount, error) {
	var accounts []*storage.StakeAccount
	res := s.conn(tx).Model(&storage.StakeAccount{}).Where("address = ?", address).Limit(1).Find(&accounts)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to get stake account '%s': %w", address, res.Error)
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return accounts[0], nil
}

// LockStakeAccount creates the account row if it is missing and returns it locked for the rest of tx.
func (s *PostgresSettlementStore) LockStakeAccount(tx *gorm.DB, address string, now time.Time) (*storage.StakeAccount, error) {
	seed := &storage.StakeAccount{
		Address:      address,
		StakedAmount: decimal.Zero,
		PocketReward: decimal.Zero,
		UpdatedAt:    now,
		CreatedAt:    now,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoNothing: true,
	}).Create(seed)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to seed stake account '%s': %w", address, res.Error)
	}

	var account storage.StakeAccount
	res = forUpdate(tx).Model(&storage.StakeAccount{}).Where("address = ?", address).First(&account)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to lock stake account '%s': %w", address, res.Error)
	}
	return &account, nil
}

func (s *PostgresSettlementStore) SaveStakeAccount(tx *gorm.DB, account *storage.StakeAccount) error {
	res := s.conn(tx).Model(&storage.StakeAccount{}).
		Where("id = ?", account.Id).
		Updates(map[string]interface{}{
			"staked_amount": account.StakedAmount,
			"pocket_reward": account.PocketReward,
			"last_claim_at": account.LastClaimAt,
			"updated_at":    account.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to save stake account '%s': %w", account.Address, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("stake account '%s' not found", account.Address)
	}
	return nil
}

func (s *PostgresSettlementStore) ListStakeAccounts() ([]*storage.StakeAccount, error) {
	var accounts []*storage.StakeAccount
	res := s.Db.Model(&storage.StakeAccount{}).Order("id asc").Find(&accounts)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to list stake accounts: %w", res.Error)
	}
	return accounts, nil
}

func (s *PostgresSettlementStore) GetActiveRewardPool(tx *gorm.DB, stakeToken string, rewardToken string) (*storage.RewardPool, error) {
	var pools []*storage.RewardPool
	res := s.conn(tx).Model(&storage.RewardPool{}).
		Where("stake_token = ? and reward_token = ? and status = ?", stakeToken, rewardToken, storage.PoolStatus_Active).
		Order("id desc").
		Limit(1).
		Find(&pools)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to get active reward pool: %w", res.Error)
	}
	if len(pools) == 0 {
		return nil, nil
	}
	return pools[0], nil
}

func (s *PostgresSettlementStore) CreateRewardPool(tx *gorm.DB, pool *storage.RewardPool) (*storage.RewardPool, error) {
	return helpers.WrapTxAndCommit(func(tx *gorm.DB) (*storage.RewardPool, error) {
		existing, err := s.GetActiveRewardPool(tx, pool.StakeToken, pool.RewardToken)
		if err != nil {
			return nil, err
		}
		if existing != nil && pool.Status == storage.PoolStatus_Active {
			return nil, storage.ErrActivePoolExists
		}
		if res := tx.Create(pool); res.Error != nil {
			if postgres.IsDuplicateKeyError(res.Error) {
				return nil, storage.ErrActivePoolExists
			}
			return nil, fmt.Errorf("failed to create reward pool: %w", res.Error)
		}
		return pool, nil
	}, s.Db, tx)
}

func (s *PostgresSettlementStore) EndRewardPool(tx *gorm.DB, id uint64, endedAt time.Time) error {
	res := s.conn(tx).Model(&storage.RewardPool{}).
		Where("id = ? and status = ?", id, storage.PoolStatus_Active).
		Updates(map[string]interface{}{
			"status":   storage.PoolStatus_Ended,
			"ended_at": endedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to end reward pool '%d': %w", id, res.Error)
	}
	return nil
}

func (s *PostgresSettlementStore) InsertTransactionRecord(tx *gorm.DB, record *storage.TransactionRecord) error {
	res := s.conn(tx).Create(record)
	if res.Error != nil {
		if postgres.IsDuplicateKeyError(res.Error) {
			return storage.ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to insert transaction record '%s': %w", record.TxHash, res.Error)
	}
	return nil
}

func (s *PostgresSettlementStore) TransactionRecordExists(hash string) (bool, error) {
	var count int64
	res := s.Db.Model(&storage.TransactionRecord{}).Where("tx_hash = ?", hash).Count(&count)
	if res.Error != nil {
		return false, fmt.Errorf("failed to check transaction record '%s': %w", hash, res.Error)
	}
	return count > 0, nil
}

func (s *PostgresSettlementStore) SwapSourceExists(hash string) (bool, error) {
	var count int64
	res := s.Db.Model(&storage.SwapRequest{}).Where("source_tx_hash = ?", hash).Count(&count)
	if res.Error != nil {
		return false, fmt.Errorf("failed to check swap source '%s': %w", hash, res.Error)
	}
	return count > 0, nil
}

func (s *PostgresSettlementStore) insertRequest(tx *gorm.DB, req interface{}) error {
	res := s.conn(tx).Create(req)
	if res.Error != nil {
		if postgres.IsDuplicateKeyError(res.Error) {
			return storage.ErrDuplicateTransaction
		}
		return res.Error
	}
	return nil
}

func (s *PostgresSettlementStore) InsertSwapRequest(tx *gorm.DB, req *storage.SwapRequest) error {
	if err := s.insertRequest(tx, req); err != nil {
		return fmt.Errorf("failed to insert swap request: %w", err)
	}
	return nil
}

func (s *PostgresSettlementStore) InsertUnstakeRequest(tx *gorm.DB, req *storage.UnstakeRequest) error {
	if err := s.insertRequest(tx, req); err != nil {
		return fmt.Errorf("failed to insert unstake request: %w", err)
	}
	return nil
}

func (s *PostgresSettlementStore) InsertClaimRequest(tx *gorm.DB, req *storage.ClaimRequest) error {
	if err := s.insertRequest(tx, req); err != nil {
		return fmt.Errorf("failed to insert claim request: %w", err)
	}
	return nil
}

// SelectOldestPending returns the lowest-id pending row of the queue, locked for the rest of tx.
func (s *PostgresSettlementStore) SelectOldestPending(tx *gorm.DB, queue storage.Queue) (*storage.SettlementRequest, error) {
	var requests []*storage.SettlementRequest
	res := forUpdate(tx).Table(queue.TableName()).
		Where("status = ?", storage.RequestStatus_Pending).
		Order("id asc").
		Limit(1).
		Find(&requests)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to select pending %s request: %w", queue, res.Error)
	}
	if len(requests) == 0 {
		return nil, nil
	}
	return requests[0], nil
}

// MarkProcessing flips a row from pending to processing. It reports false when another worker got there first.
func (s *PostgresSettlementStore) MarkProcessing(tx *gorm.DB, queue storage.Queue, id uint64, now time.Time) (bool, error) {
	res := s.conn(tx).Table(queue.TableName()).
		Where("id = ? and status = ?", id, storage.RequestStatus_Pending).
		Updates(map[string]interface{}{
			"status":                storage.RequestStatus_Processing,
			"processing_started_at": now,
			"updated_at":            now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark %s request '%d' processing: %w", queue, id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkCompleted finalizes a row whose transfer succeeded. A row the sweeper already failed is still
// completed, since the funds did move.
func (s *PostgresSettlementStore) MarkCompleted(tx *gorm.DB, queue storage.Queue, id uint64, now time.Time) (bool, error) {
	res := s.conn(tx).Table(queue.TableName()).
		Where("id = ? and status in ?", id, []storage.RequestStatus{
			storage.RequestStatus_Processing,
			storage.RequestStatus_Failed,
			storage.RequestStatus_Pending,
		}).
		Updates(map[string]interface{}{
			"status":     storage.RequestStatus_Completed,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark %s request '%d' completed: %w", queue, id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *PostgresSettlementStore) MarkFailed(tx *gorm.DB, queue storage.Queue, id uint64, reason string, now time.Time) (bool, error) {
	res := s.conn(tx).Table(queue.TableName()).
		Where("id = ? and status = ?", id, storage.RequestStatus_Processing).
		Updates(map[string]interface{}{
			"status":      storage.RequestStatus_Failed,
			"fail_reason": reason,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark %s request '%d' failed: %w", queue, id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *PostgresSettlementStore) ListProcessing(queue storage.Queue) ([]*storage.SettlementRequest, error) {
	var requests []*storage.SettlementRequest
	res := s.Db.Table(queue.TableName()).
		Where("status = ?", storage.RequestStatus_Processing).
		Order("id asc").
		Find(&requests)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to list processing %s requests: %w", queue, res.Error)
	}
	return requests, nil
}

func (s *PostgresSettlementStore) RequeueProcessing(queue storage.Queue, id uint64, now time.Time) (bool, error) {
	res := s.Db.Table(queue.TableName()).
		Where("id = ? and status = ?", id, storage.RequestStatus_Processing).
		Updates(map[string]interface{}{
			"status":                storage.RequestStatus_Pending,
			"processing_started_at": nil,
			"updated_at":            now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to requeue %s request '%d': %w", queue, id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *PostgresSettlementStore) GetLatestRequest(queue storage.Queue, account string) (*storage.SettlementRequest, error) {
	var requests []*storage.SettlementRequest
	res := s.Db.Table(queue.TableName()).
		Where("account = ?", account).
		Order("id desc").
		Limit(1).
		Find(&requests)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to get latest %s request for '%s': %w", queue, account, res.Error)
	}
	if len(requests) == 0 {
		return nil, nil
	}
	return requests[0], nil
}

func (s *PostgresSettlementStore) InsertAuthorizationIntent(tx *gorm.DB, intent *storage.AuthorizationIntent) error {
	if res := s.conn(tx).Create(intent); res.Error != nil {
		return fmt.Errorf("failed to insert authorization intent: %w", res.Error)
	}
	return nil
}

func (s *PostgresSettlementStore) LockPendingIntent(tx *gorm.DB, sessionId string) (*storage.AuthorizationIntent, error) {
	var intents []*storage.AuthorizationIntent
	res := forUpdate(tx).Model(&storage.AuthorizationIntent{}).
		Where("session_id = ? and status = ?", sessionId, storage.IntentStatus_Pending).
		Limit(1).
		Find(&intents)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to lock intent for session '%s': %w", sessionId, res.Error)
	}
	if len(intents) == 0 {
		return nil, nil
	}
	return intents[0], nil
}

func (s *PostgresSettlementStore) MarkIntentVerified(tx *gorm.DB, id uint64, now time.Time) (bool, error) {
	res := s.conn(tx).Model(&storage.AuthorizationIntent{}).
		Where("id = ? and status = ?", id, storage.IntentStatus_Pending).
		Updates(map[string]interface{}{
			"status":      storage.IntentStatus_Verified,
			"verified_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark intent '%d' verified: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *PostgresSettlementStore) GetLatestExchangeRate(pair string) (*storage.ExchangeRate, error) {
	var rates []*storage.ExchangeRate
	res := s.Db.Model(&storage.ExchangeRate{}).Where("pair = ?", pair).Order("id desc").Limit(1).Find(&rates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to get exchange rate '%s': %w", pair, res.Error)
	}
	if len(rates) == 0 {
		return nil, nil
	}
	return rates[0], nil
}

func (s *PostgresSettlementStore) InsertExchangeRate(pair string, rate decimal.Decimal, now time.Time) (*storage.ExchangeRate, error) {
	record := &storage.ExchangeRate{
		Pair:      pair,
		Rate:      rate,
		UpdatedAt: now,
	}
	if res := s.Db.Create(record); res.Error != nil {
		return nil, fmt.Errorf("failed to insert exchange rate '%s': %w", pair, res.Error)
	}
	return record, nil
}

func (s *PostgresSettlementStore) GetRecoveryCheckpoint(address string) (*storage.RecoveryCheckpoint, error) {
	var checkpoint storage.RecoveryCheckpoint
	res := s.Db.Model(&storage.RecoveryCheckpoint{}).Where("address = ?", address).First(&checkpoint)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get recovery checkpoint '%s': %w", address, res.Error)
	}
	return &checkpoint, nil
}

func (s *PostgresSettlementStore) SaveRecoveryCheckpoint(checkpoint *storage.RecoveryCheckpoint) error {
	res := s.Db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"scanned_from", "completed_at"}),
	}).Create(checkpoint)
	if res.Error != nil {
		return fmt.Errorf("failed to save recovery checkpoint '%s': %w", checkpoint.Address, res.Error)
	}
	return nil
}
