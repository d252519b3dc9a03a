// Package money 金额换算。系统内部一律使用 int64 最小货币单位（kobo），
// 只有展示和手续费计算时才转成 decimal。
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorDigits 最小货币单位对应的小数位数
const MinorDigits = 2

var hundred = decimal.NewFromInt(100)

// ToMajor 最小单位转成主单位，例如 110000 -> 1100.00
func ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorDigits)
}

// FromMajor 主单位转成最小单位，超出精度的部分四舍五入
func FromMajor(major decimal.Decimal) int64 {
	return major.Mul(hundred).Round(0).IntPart()
}

// Format 展示用，例如 110000 -> "1100.00"
func Format(minor int64) string {
	return ToMajor(minor).StringFixed(MinorDigits)
}

// ParseRate 解析配置中的费率字符串，例如 "0.10"
func ParseRate(rate string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("费率格式错误: %w", err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("费率不能为负数: %s", rate)
	}
	return d, nil
}

// NetOfFee 计算扣除手续费后的入账金额：declared / (1 + feeRate)，
// 结果保留到最小货币单位（主单位两位小数）。
func NetOfFee(declared int64, feeRate decimal.Decimal) int64 {
	divisor := decimal.NewFromInt(1).Add(feeRate)
	return decimal.NewFromInt(declared).DivRound(divisor, 0).IntPart()
}

// GrossForNet NetOfFee 的反向计算，用于提示用户想到账 net 需要支付多少
func GrossForNet(net int64, feeRate decimal.Decimal) int64 {
	return decimal.NewFromInt(net).Mul(decimal.NewFromInt(1).Add(feeRate)).Round(0).IntPart()
}
