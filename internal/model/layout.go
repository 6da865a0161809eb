package model

import "fmt"

// Layout limits for generated seat charts.
const (
	DefaultRows        = 5
	DefaultSeatsPerRow = 10
	MaxRows            = 52
	MaxSeatsPerRow     = 100
)

// Layout is a rectangular seat chart: Rows rows labelled A, B, … and
// SeatsPerRow seats numbered from 1 in each.
type Layout struct {
	Rows        int `json:"rows"`
	SeatsPerRow int `json:"seats_per_row"`
}

// DefaultLayout is the chart used when none is supplied.
func DefaultLayout() Layout {
	return Layout{Rows: DefaultRows, SeatsPerRow: DefaultSeatsPerRow}
}

// Validate checks the layout bounds.
func (l Layout) Validate() error {
	if l.Rows < 1 || l.Rows > MaxRows {
		return fmt.Errorf("rows must be between 1 and %d", MaxRows)
	}
	if l.SeatsPerRow < 1 || l.SeatsPerRow > MaxSeatsPerRow {
		return fmt.Errorf("seats per row must be between 1 and %d", MaxSeatsPerRow)
	}
	return nil
}

// Seats expands the layout into FREE seats for showID, row by row.
func (l Layout) Seats(showID uint64) []Seat {
	out := make([]Seat, 0, l.Rows*l.SeatsPerRow)
	for r := 0; r < l.Rows; r++ {
		row := RowLabel(r)
		for n := 1; n <= l.SeatsPerRow; n++ {
			out = append(out, Seat{
				ShowID:     showID,
				RowLabel:   row,
				SeatNumber: uint32(n),
				Label:      fmt.Sprintf("%s%d", row, n),
				Status:     SeatFree,
			})
		}
	}
	return out
}

// RowLabel converts a zero-based index to an alphabetical row label like A, B, AA.
func RowLabel(i int) string {
	if i < 0 {
		return ""
	}
	res := []rune{}
	for {
		rem := i % 26
		res = append(res, rune('A'+rem))
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	for j, k := 0, len(res)-1; j < k; j, k = j+1, k-1 {
		res[j], res[k] = res[k], res[j]
	}
	return string(res)
}
