package http

import (
	"context"
	"net/url"
	"strconv"
)

// Paginator handles API pagination.
type Paginator interface {
	// NextPage returns the request for the next page, or nil if done.
	NextPage(ctx context.Context, resp *Response) (*Request, error)
}

// PagePaginator uses page-number pagination: pages are numbered from 1
// and iteration stops when a page yields zero records.
type PagePaginator struct {
	Path       string
	Query      url.Values
	Limit      int
	PageKey    string // Query param name (default: "page")
	LimitKey   string // Query param name (default: "limit")
	ResultsKey string // JSON key of the results array (default: "data")
	page       int
}

// NewPagePaginator creates a page-number paginator. Extra query params
// (date windows, filters) are carried through to every page.
func NewPagePaginator(path string, limit int, query url.Values) *PagePaginator {
	if query == nil {
		query = url.Values{}
	}
	return &PagePaginator{
		Path:       path,
		Query:      query,
		Limit:      limit,
		PageKey:    "page",
		LimitKey:   "limit",
		ResultsKey: "data",
		page:       1,
	}
}

// FirstPage returns the request for the current page.
func (p *PagePaginator) FirstPage() *Request {
	query := url.Values{}
	for k, vs := range p.Query {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set(p.PageKey, strconv.Itoa(p.page))
	query.Set(p.LimitKey, strconv.Itoa(p.Limit))
	return &Request{
		Method: "GET",
		Path:   p.Path,
		Query:  query,
	}
}

// Seek positions the paginator on an absolute page number.
func (p *PagePaginator) Seek(page int) *PagePaginator {
	if page > 0 {
		p.page = page
	}
	return p
}

// NextPage returns the next page request, or nil once the current page
// came back empty.
func (p *PagePaginator) NextPage(ctx context.Context, resp *Response) (*Request, error) {
	var envelope map[string]any
	if err := resp.JSON(&envelope); err != nil {
		return nil, err
	}
	results, _ := envelope[p.ResultsKey].([]any)
	if len(results) == 0 {
		return nil, nil
	}
	p.page++
	return p.FirstPage(), nil
}

// FetchAllPages drains a paginated endpoint, parsing each page with
// parse and concatenating the results in page order.
func FetchAllPages[T any](
	ctx context.Context,
	client *Client,
	paginator interface {
		Paginator
		FirstPage() *Request
	},
	parse func(resp *Response) ([]T, error),
) ([]T, error) {
	var all []T
	req := paginator.FirstPage()
	for req != nil {
		resp, err := client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		items, err := parse(resp)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		req, err = paginator.NextPage(ctx, resp)
		if err != nil {
			return nil, err
		}
	}
	return all, nil
}

// FetchOnePage fetches exactly the paginator's current page and returns
// its records without advancing.
func FetchOnePage[T any](
	ctx context.Context,
	client *Client,
	paginator interface{ FirstPage() *Request },
	parse func(resp *Response) ([]T, error),
) ([]T, error) {
	resp, err := client.Do(ctx, paginator.FirstPage())
	if err != nil {
		return nil, err
	}
	return parse(resp)
}
