package tgui

import "fmt"

// Page is one window over a slice. Number is 0-based.
type Page[T any] struct {
	Items   []T
	Number  int
	Size    int
	Total   int
	HasPrev bool
	HasNext bool
}

// Paginate returns page number of items. Out-of-range pages are clamped to
// the last one.
func Paginate[T any](items []T, number, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	last := 0
	if total > 0 {
		last = (total - 1) / size
	}
	number = max(0, min(number, last))
	start := min(number*size, total)
	end := min(start+size, total)
	return Page[T]{
		Items:   items[start:end],
		Number:  number,
		Size:    size,
		Total:   total,
		HasPrev: number > 0,
		HasNext: end < total,
	}
}

// Pages is the page count, at least 1.
func (p Page[T]) Pages() int {
	if p.Total == 0 {
		return 1
	}
	return (p.Total + p.Size - 1) / p.Size
}

// Label is a compact position label, e.g. "page 2/5 · 11–20 of 47".
func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "page 1/1"
	}
	from := p.Number*p.Size + 1
	to := from + len(p.Items) - 1
	return fmt.Sprintf("page %d/%d · %d–%d of %d", p.Number+1, p.Pages(), from, to, p.Total)
}
