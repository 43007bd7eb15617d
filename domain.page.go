package main

// Page is the client-side view over the paginated book collection.
// NextPage and PrevPage are nil at the boundaries.
type Page struct {
	CurrentPage int  `json:"current_page"`
	PerPage     int  `json:"per_page"`
	Total       int  `json:"total"`
	PagesCount  int  `json:"pages_count"`
	NextPage    *int `json:"next_page"`
	PrevPage    *int `json:"prev_page"`
}

// NewPage derives the full pagination snapshot from the raw counters.
func NewPage(current, perPage, total int) Page {
	p := Page{
		CurrentPage: current,
		PerPage:     perPage,
		Total:       total,
	}
	if perPage > 0 {
		p.PagesCount = (total + perPage - 1) / perPage
	}
	if current < p.PagesCount {
		next := current + 1
		p.NextPage = &next
	}
	if current > 1 {
		prev := current - 1
		p.PrevPage = &prev
	}
	return p
}
