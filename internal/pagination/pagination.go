package pagination

import (
	"net/url"
	"strconv"

	"github.com/ahmethakanbesel/extraction-api/internal/apperror"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 1000
)

// Request is a requested page, 1-based.
type Request struct {
	Page     int
	PageSize int
}

// FromQuery reads page and page_size, applying defaults for missing values.
func FromQuery(q url.Values) (Request, *apperror.AppError) {
	req := Request{Page: 1, PageSize: DefaultPageSize}

	var err error
	if v := q.Get("page"); v != "" {
		if req.Page, err = strconv.Atoi(v); err != nil {
			return Request{}, apperror.New(apperror.BadRequest, "Invalid pagination parameters")
		}
	}
	if v := q.Get("page_size"); v != "" {
		if req.PageSize, err = strconv.Atoi(v); err != nil {
			return Request{}, apperror.New(apperror.BadRequest, "Invalid pagination parameters")
		}
	}

	if appErr := req.Validate(); appErr != nil {
		return Request{}, appErr
	}
	return req, nil
}

func (r Request) Validate() *apperror.AppError {
	if r.Page < 1 || r.PageSize < 1 || r.PageSize > MaxPageSize {
		return apperror.New(apperror.BadRequest, "Invalid page number")
	}
	return nil
}

// Page describes one window over total items. A request past the last page
// is clamped to the last page; an empty set still has one (empty) page.
type Page struct {
	Number      int
	Size        int
	Total       int64
	TotalPages  int
	HasNext     bool
	HasPrevious bool
}

func New(total int64, req Request) Page {
	size := max(req.PageSize, 1)
	pages := int((total + int64(size) - 1) / int64(size))
	pages = max(pages, 1)

	number := min(max(req.Page, 1), pages)

	return Page{
		Number:      number,
		Size:        size,
		Total:       total,
		TotalPages:  pages,
		HasNext:     number < pages,
		HasPrevious: number > 1,
	}
}

// Offset is the number of items before this page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Limit is the maximum number of items on this page.
func (p Page) Limit() int {
	return p.Size
}
