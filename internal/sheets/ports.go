package sheets

import (
	"context"

	"dailybudget/internal/core"
)

// SpendWriter exports a recorded spend as one spreadsheet row.
type SpendWriter interface {
	AppendSpend(ctx context.Context, accountID int64, sp core.Spend) (rowRef string, err error)
}
