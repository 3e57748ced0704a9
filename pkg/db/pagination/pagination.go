package pagination

import (
	"encoding/base64"
	"encoding/json"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page carries the cursor query parameters of a list endpoint.
type Page struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// Limit clamps the requested page size to [1, 100].
func (p Page) Limit() int {
	if p.PageSize <= 0 {
		return defaultPageSize
	}
	if p.PageSize > maxPageSize {
		return maxPageSize
	}
	return p.PageSize
}

// Cursor marks the last row of the previous page. Key is an opaque
// row key; the repository decides how to order against it.
type Cursor struct {
	Key string `json:"key"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(c Cursor) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func DecodeCursor(token string) (*Cursor, error) {
	b, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// BuildPageInfo trims an over-fetched result set (limit+1 rows) down to
// limit and reports whether another page exists. keyOf extracts the
// cursor key of the last returned row.
func BuildPageInfo[T any](items []*T, limit int, keyOf func(*T) string) ([]*T, *PageInfo, error) {
	if len(items) == 0 {
		return items, &PageInfo{}, nil
	}

	hasMore := false
	if len(items) > limit {
		hasMore = true
		items = items[:limit]
	}

	token, err := EncodeCursor(Cursor{Key: keyOf(items[len(items)-1])})
	if err != nil {
		return nil, nil, err
	}

	return items, &PageInfo{NextPageToken: token, HasMore: hasMore}, nil
}
