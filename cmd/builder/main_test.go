package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vyvo/worldsmith/pkg/engine"
	"github.com/vyvo/worldsmith/pkg/ledger"
	"github.com/vyvo/worldsmith/pkg/orchestrator"
	"github.com/vyvo/worldsmith/pkg/plan"
)

func TestRespondServiceErrorStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{orchestrator.ErrInvalidExtent, http.StatusUnprocessableEntity},
		{engine.ErrMissingOrigin, http.StatusUnprocessableEntity},
		{orchestrator.ErrRequestExpired, http.StatusGone},
		{orchestrator.ErrPlanNotReady, http.StatusConflict},
		{orchestrator.ErrRecordNotPending, http.StatusConflict},
		{engine.ErrBusy, http.StatusConflict},
		{ledger.ErrInsufficientFunds, http.StatusPaymentRequired},
		{orchestrator.ErrDebitFailed, http.StatusBadGateway},
		{plan.ErrRecordNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		respondServiceError(rec, tc.err)
		if rec.Code != tc.want {
			t.Fatalf("%v: got status %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}
