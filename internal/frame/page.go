package frame

// PageInfo describes one page of a paginated read.
type PageInfo struct {
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
	Page       int `json:"current_page"`
	PageSize   int `json:"page_size"`
}

// Page returns rows of the 1-based page of the given size together with the
// paging metadata. A page past the end yields an empty table.
func (t *Table) Page(page, size int) (*Table, PageInfo) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 1
	}
	total := t.NumRows()
	info := PageInfo{
		TotalItems: total,
		TotalPages: total / size,
		Page:       page,
		PageSize:   size,
	}
	if total%size > 0 {
		info.TotalPages++
	}
	// Checked before multiplying so huge page numbers cannot wrap around.
	if page-1 >= info.TotalPages {
		return t.Slice(total, total), info
	}
	lo := (page - 1) * size
	return t.Slice(lo, lo+size), info
}
