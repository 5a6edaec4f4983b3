// Package redis persists ledger entries and idempotency keys in Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
)

// DefaultEntriesKey is the hash holding one JSON document per account.
const DefaultEntriesKey = "balancekeeper:entries"

// saveScript writes the entry unless the stored copy carries a newer version.
var saveScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
	local stored = cjson.decode(cur)
	if tonumber(stored.version) > tonumber(ARGV[3]) then
		return 0
	end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// EntryRepository implements usecase.EntryRepository on a Redis hash.
type EntryRepository struct {
	client redis.UniversalClient
	key    string
}

// NewEntryRepository creates a new EntryRepository. An empty key uses DefaultEntriesKey.
func NewEntryRepository(client redis.UniversalClient, key string) *EntryRepository {
	if key == "" {
		key = DefaultEntriesKey
	}
	return &EntryRepository{client: client, key: key}
}

type depositRecord struct {
	Principal    decimal.Decimal `json:"principal"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	Capitalize   bool            `json:"capitalize"`
	PostingDay   int             `json:"posting_day"`
}

type entryRecord struct {
	UpdatedAt      time.Time       `json:"updated_at"`
	Deposit        *depositRecord  `json:"deposit,omitempty"`
	AccountID      string          `json:"account_id"`
	Currency       string          `json:"currency"`
	Mode           string          `json:"mode"`
	Status         string          `json:"status"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Version        uint64          `json:"version"`
	OpeningKnown   bool            `json:"opening_known"`
}

func toRecord(e domain.LedgerEntry) entryRecord {
	rec := entryRecord{
		AccountID:      e.AccountID,
		Currency:       e.Currency,
		Mode:           string(e.Mode),
		Status:         string(e.Status),
		OpeningBalance: e.OpeningBalance,
		CurrentBalance: e.CurrentBalance,
		OpeningKnown:   e.OpeningKnown,
		Version:        e.Version,
		UpdatedAt:      e.UpdatedAt,
	}
	if e.Deposit != nil {
		rec.Deposit = &depositRecord{
			Principal:    e.Deposit.Principal,
			InterestRate: e.Deposit.InterestRate,
			Capitalize:   e.Deposit.Capitalize,
			PostingDay:   e.Deposit.PostingDay,
		}
	}
	return rec
}

func (r entryRecord) toDomain() (domain.LedgerEntry, error) {
	mode, err := domain.ParseCalculationMode(r.Mode)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	e := domain.LedgerEntry{
		AccountID:      r.AccountID,
		Currency:       r.Currency,
		Mode:           mode,
		Status:         domain.Status(r.Status),
		OpeningBalance: r.OpeningBalance,
		CurrentBalance: r.CurrentBalance,
		OpeningKnown:   r.OpeningKnown,
		Version:        r.Version,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.Deposit != nil {
		e.Deposit = &domain.DepositInfo{
			Principal:    r.Deposit.Principal,
			InterestRate: r.Deposit.InterestRate,
			Capitalize:   r.Deposit.Capitalize,
			PostingDay:   r.Deposit.PostingDay,
		}
	}
	return e, nil
}

// Save stores the entry. An older version never overwrites a newer one.
func (r *EntryRepository) Save(ctx context.Context, entry domain.LedgerEntry) error {
	payload, err := json.Marshal(toRecord(entry))
	if err != nil {
		return fmt.Errorf("failed to encode entry %s: %w", entry.AccountID, err)
	}

	if err := saveScript.Run(ctx, r.client, []string{r.key}, entry.AccountID, payload, entry.Version).Err(); err != nil {
		return fmt.Errorf("failed to save entry %s: %w", entry.AccountID, err)
	}

	return nil
}

// Delete removes the persisted entry. Deleting a missing entry is not an error.
func (r *EntryRepository) Delete(ctx context.Context, accountID string) error {
	return r.client.HDel(ctx, r.key, accountID).Err()
}

// LoadAll returns every persisted entry ordered by account ID.
func (r *EntryRepository) LoadAll(ctx context.Context) ([]domain.LedgerEntry, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	entries := make([]domain.LedgerEntry, 0, len(raw))
	for id, doc := range raw {
		var rec entryRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode entry %s: %w", id, err)
		}
		e, err := rec.toDomain()
		if err != nil {
			return nil, fmt.Errorf("failed to decode entry %s: %w", id, err)
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].AccountID < entries[j].AccountID })

	return entries, nil
}
