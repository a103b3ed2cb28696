package duration

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

const Day = 24 * time.Hour

var (
	ErrEmpty       = errors.New("时长不能为空")
	ErrInvalid     = errors.New("时长格式错误，应为 30d、12h、2w、1m、1y 或 lifetime")
	ErrNonPositive = errors.New("时长必须大于 0")
)

// units 月按 30 天、年按 365 天计算
var units = map[byte]time.Duration{
	'h': time.Hour,
	'd': Day,
	'w': 7 * Day,
	'm': 30 * Day,
	'y': 365 * Day,
}

// Parse 解析授予时长。返回 nil 表示永久。
func Parse(s string) (*time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil, ErrEmpty
	}
	if s == "lifetime" || s == "permanent" {
		return nil, nil
	}

	unit, ok := units[s[len(s)-1]]
	if !ok || len(s) < 2 {
		return nil, ErrInvalid
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return nil, ErrInvalid
	}
	if n <= 0 {
		return nil, ErrNonPositive
	}
	if int64(n) > math.MaxInt64/int64(unit) {
		return nil, ErrInvalid
	}
	d := time.Duration(n) * unit
	return &d, nil
}
