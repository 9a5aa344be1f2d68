package preview

import "errors"

// Pagination errors.
var (
	ErrInvalidPage = errors.New("preview: page and page_size must be positive")
	ErrNotPageable = errors.New("preview: value is not a sequence or mapping")
)

// Page holds one page of a paginated collection.
type Page struct {
	Items       []any `json:"items"`
	Page        int   `json:"page"`
	PageSize    int   `json:"page_size"`
	TotalPages  int   `json:"total_pages"`
	TotalItems  int   `json:"total_items"`
	HasNext     bool  `json:"has_next"`
	HasPrevious bool  `json:"has_previous"`
}

// paginateItems slices items into fixed-size pages and returns page n
// (1-based). Pages past the end come back empty with correct metadata.
func paginateItems(items []any, page, pageSize int) (*Page, error) {
	if page <= 0 || pageSize <= 0 {
		return nil, ErrInvalidPage
	}

	totalItems := len(items)
	totalPages := (totalItems + pageSize - 1) / pageSize

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > totalItems {
		start = totalItems
	}
	if end > totalItems {
		end = totalItems
	}

	pageItems := make([]any, end-start)
	copy(pageItems, items[start:end])

	return &Page{
		Items:       pageItems,
		Page:        page,
		PageSize:    pageSize,
		TotalPages:  totalPages,
		TotalItems:  totalItems,
		HasNext:     page < totalPages,
		HasPrevious: page > 1 && totalItems > 0,
	}, nil
}
