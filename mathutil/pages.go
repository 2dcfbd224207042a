package mathutil

// TotalPages returns the number of pages needed to cover count items at
// perPage items per page. A non-positive count yields zero pages.
func TotalPages(count, perPage int) int {
	if count <= 0 {
		return 0
	}
	return CeilInts(count, perPage)
}
