package utils

import (
	"fmt"
	"net/url"
	"strconv"
)

const pageSizeDefault = 20
const pageSizeMax = 100

// GetPaginationParams resolves the offset and limit of a list query.
// Missing or negative values fall back to the first page of pageSizeDefault rows,
// and the limit never exceeds pageSizeMax.
func GetPaginationParams(offset *int, limit *int) (int, int) {
	finalOffset := 0
	finalLimit := pageSizeDefault

	if offset != nil && *offset >= 0 {
		finalOffset = *offset
	}

	if limit != nil && *limit > 0 {
		finalLimit = min(*limit, pageSizeMax)
	}

	return finalOffset, finalLimit
}

// ParsePageQuery reads the optional offset and limit parameters of a list request.
func ParsePageQuery(q url.Values) (offset *int, limit *int, err error) {
	if offset, err = queryInt(q, "offset"); err != nil {
		return nil, nil, err
	}
	if limit, err = queryInt(q, "limit"); err != nil {
		return nil, nil, err
	}
	return offset, limit, nil
}

func queryInt(q url.Values, name string) (*int, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid '%s' query parameter, must be an integer", name)
	}
	return &v, nil
}
