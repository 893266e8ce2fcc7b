// Package units provides shared constants and validation for distance units
package units

// Unit constants
const (
	KM = "km"
	MI = "mi"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{KM, MI}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "km, mi"
}

// ConvertDistance converts a distance from kilometers to the target units.
// The database stores all distances in km.
func ConvertDistance(distanceKm float64, targetUnits string) float64 {
	switch targetUnits {
	case MI:
		return distanceKm * 0.621371
	case KM:
		return distanceKm
	default:
		return distanceKm // default to km if unknown unit
	}
}
