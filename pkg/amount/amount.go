package amount

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 定点金额
// ============================================================================
//
// 库内一律存整数最小单位：
//   Credits: 百分之一点数（1 点 = 100）
//   Cents:   分（1 美元 = 100）
//
// decimal 只在边界（配置、API 输入输出、支付渠道金额）使用。
// ============================================================================

const (
	CreditScale = 100
	CentScale   = 100
)

var ErrTooPrecise = errors.New("金额精度超过两位小数")

// Credits 可消费点数，单位为 1/100 点
type Credits int64

// WholeCredits 整数点数
func WholeCredits(n int64) Credits {
	return Credits(n * CreditScale)
}

// ParseCredits 解析 "12.5" 这类点数字符串
func ParseCredits(s string) (Credits, error) {
	minor, err := parseMinor(s, -2)
	if err != nil {
		return 0, err
	}
	return Credits(minor), nil
}

func (c Credits) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Credits) String() string {
	return c.Decimal().StringFixed(2)
}

func (c Credits) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Credits) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	minor, err := toMinor(d, -2)
	if err != nil {
		return err
	}
	*c = Credits(minor)
	return nil
}

// Cents 现金，单位为分
type Cents int64

// ParseCents 解析 "0.10" 这类金额字符串
func ParseCents(s string) (Cents, error) {
	minor, err := parseMinor(s, -2)
	if err != nil {
		return 0, err
	}
	return Cents(minor), nil
}

func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cents) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	minor, err := toMinor(d, -2)
	if err != nil {
		return err
	}
	*c = Cents(minor)
	return nil
}

func parseMinor(s string, exp int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("解析金额失败 %q: %w", s, err)
	}
	return toMinor(d, exp)
}

func toMinor(d decimal.Decimal, exp int32) (int64, error) {
	shifted := d.Shift(-exp)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrTooPrecise
	}
	return shifted.IntPart(), nil
}
