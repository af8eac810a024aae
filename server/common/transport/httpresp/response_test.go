package httpresp

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"negotiation_server/server/common/errs"
)

func TestFromError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", errs.Invalid("account_number", "must be 10-20 digits"), http.StatusBadRequest, "validation"},
		{"not found", errs.NotFound("payment", "p1"), http.StatusNotFound, "not_found"},
		{"already processed", fmt.Errorf("decide: %w", errs.Conflict(errs.CodeAlreadyProcessed, "verification already completed")), http.StatusConflict, errs.CodeAlreadyProcessed},
		{"forbidden", errs.Forbidden("not a paid client"), http.StatusForbidden, "forbidden"},
		{"network", errs.Network("directory", errors.New("refused")), http.StatusServiceUnavailable, "network"},
		{"unknown", errors.New("pq: connection reset"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := FromError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestFromErrorCarriesFields(t *testing.T) {
	err := (&errs.ValidationError{}).Add("amount", "is required").Add("bank_name", "is required")
	_, body := FromError(err)
	assert.Len(t, body.Fields, 2)
	assert.Equal(t, "amount", body.Fields[0].Field)
}

func TestFromErrorHidesInternalText(t *testing.T) {
	_, body := FromError(errors.New("password=hunter2"))
	assert.Equal(t, ErrInternal, body.Error)
}
