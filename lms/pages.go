package lms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/pkg/errors"
	"github.com/tomnomnom/linkheader"

	. "github.com/russross/gradesync/types"
)

// GetAll fetches every page of a collection by following the Link header,
// returning records in arrival order. The walk ends when the "current"
// relation equals the "last" relation, so a single-page collection costs
// one request. params apply to the first request only; later pages come
// from the server's links, which carry their own query.
//
// When key is non-empty each page is an object and the records are the
// array stored under key (quiz submissions are wrapped this way).
func GetAll[T any](ctx context.Context, c *Client, target string, params url.Values, key string) ([]T, error) {
	var all []T
	seen := make(map[string]bool)
	next := target

	for page := 1; ; page++ {
		if page > c.maxPages {
			return all, NewError(ErrPagination, target, fmt.Errorf("more than %d pages", c.maxPages))
		}

		var raw []byte
		var header map[string][]string
		var err error
		if page == 1 {
			header, err = c.getJSON(ctx, next, params, &raw)
		} else {
			header, err = c.getJSON(ctx, next, nil, &raw)
		}
		if err != nil {
			return all, err
		}
		seen[next] = true

		records, err := decodePage[T](raw, key)
		if err != nil {
			return all, NewError(ErrPagination, next, err)
		}
		all = append(all, records...)
		c.log.Debugf("page %d of %s: %d records", page, target, len(records))

		links := linkheader.ParseMultiple(header["Link"])
		current, last := rel(links, "current"), rel(links, "last")
		if current == "" || last == "" {
			return all, NewError(ErrPagination, next, fmt.Errorf("response is missing current or last link"))
		}
		if current == last {
			return all, nil
		}
		seen[current] = true
		fetched := next
		next = rel(links, "next")
		if next == "" {
			return all, NewError(ErrPagination, fetched, fmt.Errorf("current page %s is not the last page %s but there is no next link", current, last))
		}
		if seen[next] {
			return all, NewError(ErrPagination, target, fmt.Errorf("next link %s points back to a page already fetched", next))
		}
	}
}

func decodePage[T any](raw []byte, key string) ([]T, error) {
	var records []T
	if key == "" {
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, errors.Wrap(err, "page is not the expected collection")
		}
		return records, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, errors.Wrapf(err, "page is not an object holding %q", key)
	}
	inner, exists := wrapped[key]
	if !exists {
		return nil, fmt.Errorf("page has no %q collection", key)
	}
	if err := json.Unmarshal(inner, &records); err != nil {
		return nil, errors.Wrapf(err, "%q is not the expected collection", key)
	}
	return records, nil
}

func rel(links linkheader.Links, name string) string {
	matches := links.FilterByRel(name)
	if len(matches) == 0 {
		return ""
	}
	return matches[0].URL
}
