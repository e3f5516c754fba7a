package payment

import "github.com/shopspring/decimal"

// DefaultCommissionRate - доля платформы с каждой продажи.
var DefaultCommissionRate = decimal.RequireFromString("0.12")

// ToCents переводит сумму в валюте в целые центы с округлением до ближайшего.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// PlatformFee = round(amount * rate), в центах.
func PlatformFee(amountCents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amountCents).Mul(rate).Round(0).IntPart()
}

// SellerAmount - всё, что не удержала платформа, поэтому fee + seller всегда равно amount.
func SellerAmount(amountCents int64, rate decimal.Decimal) int64 {
	return amountCents - PlatformFee(amountCents, rate)
}
