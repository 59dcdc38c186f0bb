package postgres

import (
	"fmt"
	"math/big"
)

// Amounts travel as decimal text and are cast to NUMERIC in SQL, so no
// driver-specific numeric type leaks into the domain.

func numericText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func numericTextPtr(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid numeric %q", s)
	}
	return v, nil
}

func parseNumericPtr(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	return parseNumeric(*s)
}
