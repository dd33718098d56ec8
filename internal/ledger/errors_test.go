package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{invalid("amount", "must be greater than zero"), "VALIDATION_ERROR"},
		{ErrNotFound, "NOT_FOUND"},
		{ErrAlreadySettled, "ALREADY_SETTLED"},
		{ErrAccountInactive, "ACCOUNT_INACTIVE"},
		{storage("insert", errors.New("connection refused")), "STORAGE_UNAVAILABLE"},
		{fmt.Errorf("%w: accounts net 10, transactions net 20", ErrBalanceInvariant), "BALANCE_INVARIANT_VIOLATION"},
		{errors.New("boom"), "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.code, Code(tc.err))
		})
	}
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(invalid("type", "must be income, expense or transfer")))
	assert.False(t, IsValidation(ErrNotFound))
	assert.False(t, IsValidation(nil))
}
