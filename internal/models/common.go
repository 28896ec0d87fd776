package models

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// PageRequest is embedded by list filters.
type PageRequest struct {
	Page     int
	PageSize int
}

// Normalize clamps the page request to sane bounds and returns limit and offset.
func (p *PageRequest) Normalize() (limit, offset int) {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 200 {
		p.PageSize = 200
	}
	return p.PageSize, (p.Page - 1) * p.PageSize
}

// Paginate builds the response metadata for a normalized request.
func (p PageRequest) Paginate(total int) *Pagination {
	return &Pagination{Page: p.Page, PageSize: p.PageSize, TotalCount: total}
}
