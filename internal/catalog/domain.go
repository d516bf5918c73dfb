package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Material represents a sellable catalog item. UnitPrice is the canonical
// price snapshotted into transactions at creation time; later price edits
// never touch existing ledger records.
type Material struct {
	ID        int64
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListFilters narrows material listings.
type ListFilters struct {
	Search   string
	IsActive *bool
	Limit    int
}

// ErrMaterialNotFound indicates an unknown material reference.
var ErrMaterialNotFound = errors.New("catalog: material not found")
