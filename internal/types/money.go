// README: Money value object for fares and fees, in whole currency units.
package types

// DefaultCurrency is the currency all fares and wallets are kept in.
const DefaultCurrency = "PHP"

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func Pesos(amount int64) Money {
	return Money{Amount: amount, Currency: DefaultCurrency}
}
