package cancellation

import (
	"github.com/farepact/farepact/internal/ride"
)

// Code is a predefined cancellation reason code.
type Code string

// Passenger cancellation reasons
const (
	CodeChangedMind   Code = "changed_mind"
	CodeDriverTooFar  Code = "driver_too_far"
	CodeWaitTooLong   Code = "wait_too_long"
	CodeWrongLocation Code = "wrong_location"
	CodePriceChanged  Code = "price_changed"
	CodeFoundOther    Code = "found_other_ride"
	CodeEmergency     Code = "emergency"
	CodeOther         Code = "other"
)

// Driver cancellation reasons
const (
	CodePassengerNoShow      Code = "passenger_no_show"
	CodePassengerUnreachable Code = "passenger_unreachable"
	CodeVehicleIssue         Code = "vehicle_issue"
	CodeUnsafePickup         Code = "unsafe_pickup"
	CodeTooFar               Code = "too_far"
	CodeDriverEmergency      Code = "driver_emergency"
	CodeDriverOther          Code = "driver_other"
)

// System cancellation reasons. These are never accepted from clients; the
// coordination engine records them itself.
const (
	CodeCounterOfferDeclined Code = "counter_offer_declined"
	CodeNoDriverFound        Code = "no_driver_found"
)

// Reason pairs a code with a human-readable label for client pickers.
type Reason struct {
	Code  Code   `json:"code"`
	Label string `json:"label"`
}

var passengerReasons = []Reason{
	{CodeChangedMind, "I changed my mind"},
	{CodeDriverTooFar, "Driver is too far away"},
	{CodeWaitTooLong, "Waiting too long"},
	{CodeWrongLocation, "Wrong pickup location"},
	{CodePriceChanged, "Price is not acceptable"},
	{CodeFoundOther, "Found another ride"},
	{CodeEmergency, "Emergency"},
	{CodeOther, "Other"},
}

var driverReasons = []Reason{
	{CodePassengerNoShow, "Passenger did not show up"},
	{CodePassengerUnreachable, "Could not reach passenger"},
	{CodeVehicleIssue, "Vehicle issue"},
	{CodeUnsafePickup, "Pickup location is unsafe"},
	{CodeTooFar, "Pickup is too far"},
	{CodeDriverEmergency, "Emergency"},
	{CodeDriverOther, "Other"},
}

// Catalog validates cancellation reason codes against the per-role lists.
type Catalog struct {
	byRole map[ride.Role]map[Code]bool
}

// NewCatalog builds the catalog from the built-in reason lists.
func NewCatalog() *Catalog {
	c := &Catalog{byRole: make(map[ride.Role]map[Code]bool)}
	c.byRole[ride.RolePassenger] = indexCodes(passengerReasons)
	c.byRole[ride.RoleDriver] = indexCodes(driverReasons)
	return c
}

func indexCodes(reasons []Reason) map[Code]bool {
	m := make(map[Code]bool, len(reasons))
	for _, r := range reasons {
		m[r.Code] = true
	}
	return m
}

// Valid reports whether the code is a selectable reason for the role.
// System codes are not selectable by either role.
func (c *Catalog) Valid(role ride.Role, code Code) bool {
	return c.byRole[role][code]
}

// Reasons returns the selectable reason list for a role, in display order.
func (c *Catalog) Reasons(role ride.Role) []Reason {
	switch role {
	case ride.RolePassenger:
		return passengerReasons
	case ride.RoleDriver:
		return driverReasons
	default:
		return nil
	}
}
