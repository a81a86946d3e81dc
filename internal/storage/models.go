package storage

// Sync queue statuses.
const (
	SyncPending    = "pending"
	SyncProcessing = "processing"
	SyncCompleted  = "completed"
	SyncFailed     = "failed"
)

// LineItemPeriodRow is one row of the line item / period value join. Period
// columns are NULL for items without values in the requested version.
type LineItemPeriodRow struct {
	ID                 string
	Name               string
	Path               string
	Period             *string
	Budget             *float64
	Actuals            *float64
	PreviousYearActual *float64
}

type UpsertLineItemParams struct {
	ID        string
	Name      string
	Path      string
	UpdatedAt int64
}

type UpsertPeriodValueParams struct {
	LineItemID         string
	Version            string
	Period             string
	Budget             float64
	Actuals            float64
	PreviousYearActual float64
}

type SetPeriodBudgetParams struct {
	LineItemID string
	Version    string
	Period     string
	Budget     float64
}

type ZbTemplate struct {
	ID          string
	Name        string
	AccountPath string
	Items       string
	CreatedAt   int64
}

type SyncQueue struct {
	ID          int64
	LineItemID  string
	Version     string
	Periods     string
	Status      string
	Attempts    int64
	LastError   string
	NextRetryAt int64
	CreatedAt   int64
	ProcessedAt int64
}

type EnqueueSyncParams struct {
	LineItemID string
	Version    string
	Periods    string
	CreatedAt  int64
}

type GetSyncQueueStatsRow struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}
