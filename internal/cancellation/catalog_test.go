package cancellation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/farepact/farepact/internal/ride"
)

func TestCatalogValid(t *testing.T) {
	catalog := NewCatalog()

	tests := []struct {
		name  string
		role  ride.Role
		code  Code
		valid bool
	}{
		{"passenger code for passenger", ride.RolePassenger, CodeChangedMind, true},
		{"driver code for driver", ride.RoleDriver, CodeVehicleIssue, true},
		{"driver code for passenger", ride.RolePassenger, CodeVehicleIssue, false},
		{"passenger code for driver", ride.RoleDriver, CodeChangedMind, false},
		{"system code not selectable by passenger", ride.RolePassenger, CodeCounterOfferDeclined, false},
		{"system code not selectable by driver", ride.RoleDriver, CodeCounterOfferDeclined, false},
		{"unknown code", ride.RolePassenger, Code("made_up"), false},
		{"empty code", ride.RoleDriver, Code(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, catalog.Valid(tt.role, tt.code))
		})
	}
}

func TestCatalogReasons(t *testing.T) {
	catalog := NewCatalog()

	passenger := catalog.Reasons(ride.RolePassenger)
	assert.NotEmpty(t, passenger)
	for _, r := range passenger {
		assert.True(t, catalog.Valid(ride.RolePassenger, r.Code))
		assert.NotEmpty(t, r.Label)
	}

	driver := catalog.Reasons(ride.RoleDriver)
	assert.NotEmpty(t, driver)
	for _, r := range driver {
		assert.True(t, catalog.Valid(ride.RoleDriver, r.Code))
	}

	assert.Nil(t, catalog.Reasons(ride.Role("unknown")))
}
