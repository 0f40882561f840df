package models

const (
	// StatusUnknown is never persisted; queries use it as a wildcard.
	StatusUnknown   = ""
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusBlocked   = "blocked"
)

const (
	// DefaultPageSize размер страницы фильтра по умолчанию
	DefaultPageSize = 10

	// MinPageSize и MaxPageSize границы, к которым прижимается page_size
	MinPageSize = 10
	MaxPageSize = 100

	// DefaultLockWaitSeconds ожидание блокировки ресурса
	DefaultLockWaitSeconds = 5

	// DefaultFeedBuffer размер буфера подписчика
	DefaultFeedBuffer = 64

	// DefaultCatchupBatch размер пачки при догоне журнала
	DefaultCatchupBatch = 256

	// DefaultOffsetTTL время жизни офсета подписчика в Redis (секунды)
	DefaultOffsetTTL = 7 * 24 * 60 * 60

	// RateLimitRPS и RateLimitBurst лимиты HTTP API по умолчанию
	RateLimitRPS   = 20
	RateLimitBurst = 40
)

// ValidPersistedStatus reports whether s may be stored on a row.
func ValidPersistedStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusBlocked:
		return true
	}
	return false
}
