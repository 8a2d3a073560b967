package pricing

import (
	"math"
	"time"

	"github.com/farepact/farepact/internal/ride"
)

const (
	baseFarePerKm     = 1.5  // Base fare per kilometer
	baseFarePerMinute = 0.25 // Base fare per minute
	minimumFare       = 5.0  // Minimum fare
	averageSpeedKmh   = 40.0 // Assumed average city speed
)

// Quote is an upfront price estimate for a pickup/dropoff pair.
type Quote struct {
	Fare        float64 `json:"fare"`
	DistanceKm  float64 `json:"distance_km"`
	DurationMin int     `json:"duration_min"`
	Multiplier  float64 `json:"multiplier"`
	Currency    string  `json:"currency"`
}

// Bounds is the range of fares a counter-offer may propose, derived from
// the quoted fare.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether amount falls inside the bounds, inclusive.
func (b Bounds) Contains(amount float64) bool {
	return amount >= b.Min && amount <= b.Max
}

// Quoter produces upfront fare quotes and counter-offer bounds.
type Quoter struct {
	minMultiplier float64
	maxMultiplier float64
	currency      string
	now           func() time.Time
}

// NewQuoter creates a Quoter. minMult and maxMult bound counter-offers as
// fractions of the quoted fare.
func NewQuoter(minMult, maxMult float64, currency string) *Quoter {
	return &Quoter{
		minMultiplier: minMult,
		maxMultiplier: maxMult,
		currency:      currency,
		now:           time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (q *Quoter) SetClock(now func() time.Time) {
	q.now = now
}

// QuoteTrip estimates distance, duration and fare for a trip.
func (q *Quoter) QuoteTrip(pickup, dropoff ride.Location) Quote {
	distance := Distance(pickup.Latitude, pickup.Longitude, dropoff.Latitude, dropoff.Longitude)
	duration := EstimateDuration(distance)
	multiplier := timeOfDayMultiplier(q.now())

	return Quote{
		Fare:        calculateFare(distance, duration, multiplier),
		DistanceKm:  distance,
		DurationMin: duration,
		Multiplier:  multiplier,
		Currency:    q.currency,
	}
}

// OfferBounds returns the acceptable counter-offer range for a quoted fare.
func (q *Quoter) OfferBounds(fare float64) Bounds {
	return Bounds{
		Min: math.Round(fare*q.minMultiplier*100) / 100,
		Max: math.Round(fare*q.maxMultiplier*100) / 100,
	}
}

// Distance calculates the distance between two coordinates in kilometers
// using the Haversine formula, rounded to 2 decimal places.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371.0 // km

	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	distance := earthRadius * c

	return math.Round(distance*100) / 100
}

// EstimateDuration estimates trip duration in minutes based on distance,
// assuming average city traffic speed.
func EstimateDuration(distance float64) int {
	duration := (distance / averageSpeedKmh) * 60
	return int(math.Round(duration))
}

func calculateFare(distance float64, duration int, multiplier float64) float64 {
	baseFare := (distance * baseFarePerKm) + (float64(duration) * baseFarePerMinute)
	fare := baseFare * multiplier

	if fare < minimumFare {
		fare = minimumFare
	}

	return math.Round(fare*100) / 100
}

// timeOfDayMultiplier prices peak commute hours and late-night trips above
// the base rate.
func timeOfDayMultiplier(t time.Time) float64 {
	hour := t.Hour()

	// Peak hours: 7-9 AM and 5-8 PM
	if (hour >= 7 && hour < 9) || (hour >= 17 && hour < 20) {
		return 1.5
	}

	// Late night: 11 PM - 5 AM
	if hour >= 23 || hour < 5 {
		return 1.3
	}

	return 1.0
}
