package tabular

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

var (
	embeddedDate = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)
	clockPattern = regexp.MustCompile(`(\d{1,2}):(\d{2})(?::(\d{2}))?`)

	// serialEpoch is day zero of the 1900 date system as spreadsheets count it.
	serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)
)

func cellText(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return cellText(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case time.Time:
		return val.Format(dateLayout)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func isBlank(v interface{}) bool {
	return cellText(v) == ""
}

// cellDate resolves a native date, a serial day count or text containing
// YYYY-MM-DD into canonical YYYY-MM-DD.
func cellDate(v interface{}) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case time.Time:
		if val.IsZero() {
			return "", false
		}
		return val.Format(dateLayout), true
	case float64:
		return serialDate(val)
	case float32:
		return serialDate(float64(val))
	case int:
		return serialDate(float64(val))
	case int64:
		return serialDate(float64(val))
	}

	match := embeddedDate.FindString(cellText(v))
	if match == "" {
		return "", false
	}
	if _, err := time.Parse(dateLayout, match); err != nil {
		return "", false
	}
	return match, true
}

func serialDate(days float64) (string, bool) {
	if days <= 0 || math.IsNaN(days) || math.IsInf(days, 0) {
		return "", false
	}
	whole := int(math.Floor(days))
	return serialEpoch.AddDate(0, 0, whole).Format(dateLayout), true
}

// cellClock extracts a time of day from a native time, the fractional part of
// a serial value or HH:MM[:SS] text.
func cellClock(v interface{}) (hour, minute, second int, ok bool) {
	switch val := v.(type) {
	case nil:
		return 0, 0, 0, false
	case time.Time:
		return val.Hour(), val.Minute(), val.Second(), true
	case float64:
		frac := val - math.Floor(val)
		total := int(math.Round(frac * 86400))
		if total >= 86400 {
			total = 86399
		}
		return total / 3600, (total % 3600) / 60, total % 60, true
	}

	m := clockPattern.FindStringSubmatch(cellText(v))
	if m == nil {
		return 0, 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		second, _ = strconv.Atoi(m[3])
	}
	if hour > 23 || minute > 59 || second > 59 {
		return 0, 0, 0, false
	}
	return hour, minute, second, true
}

// cellInt defaults to zero for blank or non-numeric cells.
func cellInt(v interface{}) int {
	d := cellDecimal(v)
	return int(d.Round(0).IntPart())
}

// cellDecimal defaults to zero for blank or non-numeric cells.
func cellDecimal(v interface{}) decimal.Decimal {
	switch val := v.(type) {
	case nil:
		return decimal.Zero
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(val)
	case float32:
		return decimal.NewFromFloat32(val)
	case int:
		return decimal.NewFromInt(int64(val))
	case int64:
		return decimal.NewFromInt(val)
	case decimal.Decimal:
		return val
	}

	text := strings.NewReplacer(",", "", " ", "", "₩", "", "원", "").Replace(cellText(v))
	if text == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// carry remembers the last non-blank value of a merged-cell column.
type carry struct {
	last string
}

func (c *carry) next(v interface{}) string {
	if text := cellText(v); text != "" {
		c.last = text
	}
	return c.last
}
