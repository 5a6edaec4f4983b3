package usecase

import (
	"time"

	"github.com/iho/balancekeeper/internal/infrastructure/eventpublisher"
)

const (
	// DefaultOperationTimeout bounds how long a caller waits for queued work.
	DefaultOperationTimeout = 30 * time.Second

	// DefaultSubscriptionBuffer is the snapshot buffer of a subscriber that did not ask for one.
	DefaultSubscriptionBuffer = 16

	// MaxSubscriptionBuffer is the largest snapshot buffer a subscriber gets.
	MaxSubscriptionBuffer = eventpublisher.MaxBuffer

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour
)
