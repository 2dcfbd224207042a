package beatsource

import (
	"context"

	"github.com/xeptore/bsdl/iterutil"
	"github.com/xeptore/bsdl/mathutil"
)

// pagedResults drives a sub-list endpoint to completion: page 1 reveals the
// total count, then pages 2..ceil(count/perPage) are fetched strictly in
// order. A failing, short, or empty page truncates the loop with a warning and
// whatever was accumulated so far; the loop never runs past the page count
// derived from the first response.
func (c *Client) pagedResults(ctx context.Context, endpoint string, perPage int) ([]Record, error) {
	if perPage <= 0 {
		perPage = defaultPageSize
	}

	first, err := c.get(ctx, endpoint, pageParams(1, perPage))
	if nil != err {
		return nil, err
	}

	results := first.Array("results")
	count64, ok := first.Int("count")
	count := int(count64)
	if !ok || count <= 0 {
		c.logger.Warn().Str("endpoint", endpoint).Msg("Invalid or missing count in paged response, assuming only first page")
		return results, nil
	}

	totalPages := mathutil.TotalPages(count, perPage)
	pages := iterutil.Int(1)
	for page := pages.Next(); page <= totalPages; page = pages.Next() {
		if len(results) >= count {
			break
		}
		c.logger.Debug().Str("endpoint", endpoint).Int("fetched", len(results)).Int("total", count).Msg("Fetching next page")

		rec, err := c.get(ctx, endpoint, pageParams(page, perPage))
		if nil != err {
			if ctxErr := ctx.Err(); nil != ctxErr {
				return nil, ctxErr
			}
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Int("page", page).Msg("Failed to fetch page, returning partial results")
			break
		}

		pageResults := rec.Array("results")
		if len(pageResults) == 0 {
			c.logger.Warn().Str("endpoint", endpoint).Int("page", page).Int("expected_total", count).Msg("No more items before reaching expected count")
			break
		}
		results = append(results, pageResults...)
		if len(pageResults) < perPage && len(results) < count {
			c.logger.Warn().Str("endpoint", endpoint).Int("page", page).Int("page_items", len(pageResults)).Int("expected_total", count).Msg("Short page before reaching expected count")
			break
		}
	}

	if len(results) < count {
		c.logger.Warn().Str("endpoint", endpoint).Int("fetched", len(results)).Int("expected_total", count).Msg("Paged fetch ended short of the upstream count")
	}

	return results, nil
}
