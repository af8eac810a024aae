package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrorCollectsFields(t *testing.T) {
	v := &ValidationError{}
	require.NoError(t, v.OrNil())

	v.Add("amount", "is required").Add("account_number", "must be 10-20 digits")
	err := v.OrNil()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.True(t, v.HasField("account_number"))
	assert.False(t, v.HasField("bank_name"))
	assert.Contains(t, err.Error(), "amount: is required")
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"not found", NotFound("session", "s1"), ErrNotFound},
		{"conflict", Conflict(CodeAlreadyProcessed, "payment %s already verified", "p1"), ErrConflict},
		{"forbidden", Forbidden("user %s is not a paid client", "u1"), ErrForbidden},
		{"network", Network("directory lookup", errors.New("dial tcp: refused")), ErrNetwork},
		{"validation", Invalid("room", "is required"), ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("handler: %w", tc.err)
			assert.True(t, errors.Is(wrapped, tc.sentinel))
		})
	}
}

func TestCode(t *testing.T) {
	err := fmt.Errorf("decide: %w", Conflict(CodeAlreadyProcessed, "verification already completed"))
	assert.Equal(t, CodeAlreadyProcessed, Code(err))
	assert.Equal(t, "", Code(NotFound("payment", "p1")))
}

func TestNetworkErrorUnwraps(t *testing.T) {
	root := errors.New("timeout")
	err := Network("billing lookup", root)
	assert.True(t, errors.Is(err, root))
	assert.Equal(t, "billing lookup: timeout", err.Error())
}
