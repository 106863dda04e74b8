package scheduler

import (
	"slices"
	"strings"

	"github.com/samber/mo"

	"github.com/example/facility-booking/internal/interval"
	"github.com/example/facility-booking/internal/recurrence"
)

// Resource is a bookable entity such as a meeting room.
type Resource struct {
	ID        string
	Capacity  int
	Amenities []string
}

// Reservation holds a resource for an anchor interval, optionally repeating.
type Reservation struct {
	ID                string
	ResourceID        string
	Title             string
	Anchor            interval.Interval
	Recurrence        mo.Option[recurrence.Rule]
	Attendees         int
	RequiredAmenities []string
}

// IsRecurring reports whether the reservation carries a recurrence rule.
func (r Reservation) IsRecurring() bool {
	return r.Recurrence.IsPresent()
}

// MissingAmenities lists the required amenities the resource does not offer.
func (r Resource) MissingAmenities(required []string) []string {
	offered := NormalizeAmenities(r.Amenities)
	var missing []string
	for _, amenity := range NormalizeAmenities(required) {
		if _, found := slices.BinarySearch(offered, amenity); !found {
			missing = append(missing, amenity)
		}
	}
	return missing
}

// NormalizeAmenities lower-cases, trims, sorts and de-duplicates amenity names.
func NormalizeAmenities(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
