package storage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrActivePoolExists     = errors.New("an active reward pool already exists for this token pair")
	ErrDuplicateTransaction = errors.New("ledger transaction already recorded")
)

// SettlementStore is the relational contract used by every settlement component.
//
// Methods taking a tx run against that transaction; a nil tx runs against the root connection.
type SettlementStore interface {
	GetDb() *gorm.DB

	GetStakeAccount(tx *gorm.DB, address string) (*StakeAccount, error)
	LockStakeAccount(tx *gorm.DB, address string, now time.Time) (*StakeAccount, error)
	SaveStakeAccount(tx *gorm.DB, account *StakeAccount) error
	ListStakeAccounts() ([]*StakeAccount, error)

	GetActiveRewardPool(tx *gorm.DB, stakeToken string, rewardToken string) (*RewardPool, error)
	CreateRewardPool(tx *gorm.DB, pool *RewardPool) (*RewardPool, error)
	EndRewardPool(tx *gorm.DB, id uint64, endedAt time.Time) error

	InsertTransactionRecord(tx *gorm.DB, record *TransactionRecord) error
	TransactionRecordExists(hash string) (bool, error)
	SwapSourceExists(hash string) (bool, error)

	InsertSwapRequest(tx *gorm.DB, req *SwapRequest) error
	InsertUnstakeRequest(tx *gorm.DB, req *UnstakeRequest) error
	InsertClaimRequest(tx *gorm.DB, req *ClaimRequest) error

	SelectOldestPending(tx *gorm.DB, queue Queue) (*SettlementRequest, error)
	MarkProcessing(tx *gorm.DB, queue Queue, id uint64, now time.Time) (bool, error)
	MarkCompleted(tx *gorm.DB, queue Queue, id uint64, now time.Time) (bool, error)
	MarkFailed(tx *gorm.DB, queue Queue, id uint64, reason string, now time.Time) (bool, error)
	ListProcessing(queue Queue) ([]*SettlementRequest, error)
	RequeueProcessing(queue Queue, id uint64, now time.Time) (bool, error)
	GetLatestRequest(queue Queue, account string) (*SettlementRequest, error)

	InsertAuthorizationIntent(tx *gorm.DB, intent *AuthorizationIntent) error
	LockPendingIntent(tx *gorm.DB, sessionId string) (*AuthorizationIntent, error)
	MarkIntentVerified(tx *gorm.DB, id uint64, now time.Time) (bool, error)

	GetLatestExchangeRate(pair string) (*ExchangeRate, error)
	InsertExchangeRate(pair string, rate decimal.Decimal, now time.Time) (*ExchangeRate, error)

	GetRecoveryCheckpoint(address string) (*RecoveryCheckpoint, error)
	SaveRecoveryCheckpoint(checkpoint *RecoveryCheckpoint) error
}

// Tables.
type StakeAccount struct {
	Id           uint64 `gorm:"primaryKey"`
	Address      string
	StakedAmount decimal.Decimal
	PocketReward decimal.Decimal
	LastClaimAt  *time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
}

type PoolStatus string

const (
	PoolStatus_Active PoolStatus = "active"
	PoolStatus_Ended  PoolStatus = "ended"
)

type RewardPool struct {
	Id           uint64 `gorm:"primaryKey"`
	StakeToken   string
	RewardToken  string
	PeriodStart  time.Time
	DurationDays int
	TotalReward  decimal.Decimal
	Status       PoolStatus
	EndedAt      *time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
}

func (p *RewardPool) PeriodEnd() time.Time {
	return p.PeriodStart.Add(time.Duration(p.DurationDays) * 24 * time.Hour)
}

type RequestStatus string

const (
	RequestStatus_Pending    RequestStatus = "pending"
	RequestStatus_Processing RequestStatus = "processing"
	RequestStatus_Completed  RequestStatus = "completed"
	RequestStatus_Failed     RequestStatus = "failed"
)

// Queue identifies one of the settlement request tables.
type Queue string

const (
	Queue_Swap    Queue = "swap"
	Queue_Unstake Queue = "unstake"
	Queue_Claim   Queue = "claim"
)

func (q Queue) TableName() string {
	return string(q) + "_requests"
}

// SettlementRequest holds the columns shared by every queue table.
type SettlementRequest struct {
	Id                  uint64 `gorm:"primaryKey"`
	Account             string
	SendToken           string
	SendAmount          decimal.Decimal
	Status              RequestStatus
	FailReason          *string
	ProcessingStartedAt *time.Time
	CreatedAt           time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime:false"`
}

type SwapRequest struct {
	SettlementRequest
	ReceiveToken  string
	ReceiveAmount decimal.Decimal
	SourceTxHash  *string
}

func (SwapRequest) TableName() string {
	return Queue_Swap.TableName()
}

type UnstakeRequest struct {
	SettlementRequest
}

func (UnstakeRequest) TableName() string {
	return Queue_Unstake.TableName()
}

type ClaimRequest struct {
	SettlementRequest
}

func (ClaimRequest) TableName() string {
	return Queue_Claim.TableName()
}

type TransactionType string

const (
	TransactionType_Stake   TransactionType = "STAKE"
	TransactionType_SwapIn  TransactionType = "SWAP_IN"
	TransactionType_SwapOut TransactionType = "SWAP_OUT"
	TransactionType_Unstake TransactionType = "UNSTAKE"
	TransactionType_Claim   TransactionType = "CLAIM"
)

type TransactionRecord struct {
	Id        uint64 `gorm:"primaryKey"`
	Address   string
	Type      TransactionType
	Amount    decimal.Decimal
	Symbol    string
	TxHash    string
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
}

type IntentAction string

const (
	IntentAction_Unstake IntentAction = "unstake"
	IntentAction_Claim   IntentAction = "claim"
)

type IntentStatus string

const (
	IntentStatus_Pending  IntentStatus = "pending"
	IntentStatus_Verified IntentStatus = "verified"
)

type AuthorizationIntent struct {
	Id         uint64 `gorm:"primaryKey"`
	Account    string
	Nonce      string
	Action     IntentAction
	Amount     decimal.Decimal
	SessionId  string
	Status     IntentStatus
	CreatedAt  time.Time `gorm:"autoCreateTime:false"`
	VerifiedAt *time.Time
}

type ExchangeRate struct {
	Id        uint64 `gorm:"primaryKey"`
	Pair      string
	Rate      decimal.Decimal
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

type RecoveryCheckpoint struct {
	Address     string `gorm:"primaryKey"`
	ScannedFrom time.Time
	CompletedAt time.Time
}
