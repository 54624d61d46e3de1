package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/omnibill/svc/billing"
)

func TestNextCredits(t *testing.T) {
	t.Parallel()

	jan := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		status      billing.Status
		remains     int64
		stored      *time.Time
		newEnd      *time.Time
		force       bool
		want        int64
		wantOutcome creditOutcome
	}{
		{"renewal", billing.StatusActive, 3000, &jan, &feb, false, 20000, creditsReset},
		{"first period", billing.StatusActive, 0, nil, &feb, false, 20000, creditsReset},
		{"same period", billing.StatusActive, 3000, &feb, &feb, false, 3000, creditsKept},
		{"earlier period", billing.StatusActive, 3000, &feb, &jan, false, 3000, creditsKept},
		{"no period end", billing.StatusActive, 3000, &feb, nil, false, 3000, creditsKept},
		{"forced", billing.StatusActive, 3000, &feb, &feb, true, 20000, creditsReset},
		{"negative balance", billing.StatusActive, -5, &feb, &feb, false, 0, creditsKept},
		{"downgrade clamps", billing.StatusActive, 70000, &feb, &feb, false, 20000, creditsKept},
		{"past due", billing.StatusPastDue, 3000, &jan, &feb, false, 0, creditsRevoked},
		{"canceled even when forced", billing.StatusCanceled, 3000, &jan, &feb, true, 0, creditsRevoked},
		{"inactive", billing.StatusInactive, 3000, &feb, nil, false, 0, creditsRevoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, outcome := nextCredits(tt.status, 20000, tt.remains, tt.stored, tt.newEnd, tt.force)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOutcome, outcome)
		})
	}
}

func TestInitialCredits(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(20000), initialCredits(billing.StatusActive, 20000))
	assert.Equal(t, int64(0), initialCredits(billing.StatusIncomplete, 20000))
}
