package rides

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/farepact/farepact/internal/ride"
)

// RegisterValidations installs coordinate range checks on the binding
// validator. Call once at startup, before routes are served.
func RegisterValidations() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterStructValidation(locationValidation, ride.Location{})
}

func locationValidation(sl validator.StructLevel) {
	loc := sl.Current().Interface().(ride.Location)

	if loc.Latitude < -90 || loc.Latitude > 90 {
		sl.ReportError(loc.Latitude, "latitude", "Latitude", "latitude", "")
	}
	if loc.Longitude < -180 || loc.Longitude > 180 {
		sl.ReportError(loc.Longitude, "longitude", "Longitude", "longitude", "")
	}
}
