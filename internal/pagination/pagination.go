package pagination

// Defaults and bounds for page sizes.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Params are normalized pagination parameters.
type Params struct {
	Page     int
	PageSize int
}

// Normalize clamps page to >= 1 and pageSize to [1, MaxPageSize], filling in
// defaults for zero values.
func Normalize(page, pageSize int) Params {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Params{Page: page, PageSize: pageSize}
}

// Offset returns the row offset for the current page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Page is the standard paginated response envelope.
type Page[T any] struct {
	Items        []T `json:"items"`
	Page         int `json:"page"`
	PageSize     int `json:"pageSize"`
	TotalRecords int `json:"totalRecords"`
	TotalPages   int `json:"totalPages"`
}

// NewPage builds the envelope; totalPages is ceil(totalRecords / pageSize).
func NewPage[T any](items []T, p Params, totalRecords int) Page[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := (totalRecords + p.PageSize - 1) / p.PageSize
	return Page[T]{
		Items:        items,
		Page:         p.Page,
		PageSize:     p.PageSize,
		TotalRecords: totalRecords,
		TotalPages:   totalPages,
	}
}
