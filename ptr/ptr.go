package ptr

func Of[T any](v T) *T {
	return &v
}

func ValueOr[T any](p *T, fallback T) T {
	if nil != p {
		return *p
	}
	return fallback
}
