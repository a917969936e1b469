package sales

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const saleNumberDayLayout = "20060102"

// SequenceDay returns the counter key for the day t falls on.
func SequenceDay(t time.Time) string {
	return t.Format(saleNumberDayLayout)
}

// FormatSaleNumber renders a daily sequence number as YYYYMMDD-NNN.
func FormatSaleNumber(day string, seq int) string {
	return fmt.Sprintf("%s-%03d", day, seq)
}

// ParseSaleNumber splits a sale number into its day and sequence parts.
func ParseSaleNumber(number string) (day string, seq int, err error) {
	day, rest, ok := strings.Cut(number, "-")
	if !ok {
		return "", 0, ErrInvalidSaleNumber
	}
	if _, err := time.Parse(saleNumberDayLayout, day); err != nil {
		return "", 0, ErrInvalidSaleNumber
	}
	seq, err = strconv.Atoi(rest)
	if err != nil || seq < 1 {
		return "", 0, ErrInvalidSaleNumber
	}
	return day, seq, nil
}
