package listing

import (
	"strings"

	"widesquare/apperr"
)

func invalid(reason string) error {
	return apperr.Invalid("listing", reason)
}

// normalize trims text fields, drops empty amenities and clears room counts
// on plots.
func (d *Details) normalize() {
	d.Title = strings.TrimSpace(d.Title)
	d.Location = strings.TrimSpace(d.Location)
	d.Subtype = strings.TrimSpace(d.Subtype)
	d.Description = strings.TrimSpace(d.Description)
	d.Phone = strings.TrimSpace(d.Phone)
	d.Availability = Availability(strings.ToLower(strings.TrimSpace(string(d.Availability))))

	amenities := make([]string, 0, len(d.Amenities))
	seen := make(map[string]struct{}, len(d.Amenities))
	for _, a := range d.Amenities {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		key := strings.ToLower(a)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		amenities = append(amenities, a)
	}
	d.Amenities = amenities

	if d.Subtype == SubtypePlot {
		d.Beds = nil
		d.Baths = nil
	}
}

func (d Details) validate() error {
	switch {
	case d.Title == "":
		return invalid("title is required")
	case d.Location == "":
		return invalid("location is required")
	case d.Price < 0:
		return invalid("price must not be negative")
	case d.Sqft < 0:
		return invalid("sqft must not be negative")
	case d.Beds != nil && *d.Beds < 0:
		return invalid("beds must not be negative")
	case d.Baths != nil && *d.Baths < 0:
		return invalid("baths must not be negative")
	}
	if _, ok := subtypes[d.Subtype]; !ok {
		return invalid("unknown property type " + d.Subtype)
	}
	switch d.Availability {
	case AvailabilityRent, AvailabilityBuy, AvailabilityLease:
	default:
		return invalid("availability must be rent, buy or lease")
	}
	return nil
}

func validateImages(images []Image) error {
	if len(images) == 0 {
		return invalid("at least one image is required")
	}
	for _, img := range images {
		if strings.TrimSpace(img.URL) == "" || strings.TrimSpace(img.StorageID) == "" {
			return invalid("image references need a url and a storage id")
		}
	}
	return nil
}

func (l Listing) details() Details {
	return Details{
		Title:        l.Title,
		Location:     l.Location,
		Price:        l.Price,
		Beds:         l.Beds,
		Baths:        l.Baths,
		Sqft:         l.Sqft,
		Subtype:      l.Subtype,
		Availability: l.Availability,
		Description:  l.Description,
		Amenities:    l.Amenities,
		Phone:        l.Phone,
	}
}

func (l *Listing) apply(d Details) {
	l.Title = d.Title
	l.Location = d.Location
	l.Price = d.Price
	l.Beds = d.Beds
	l.Baths = d.Baths
	l.Sqft = d.Sqft
	l.Subtype = d.Subtype
	l.Availability = d.Availability
	l.Description = d.Description
	l.Amenities = d.Amenities
	l.Phone = d.Phone
}

func (p UpdateParams) merge(d Details) Details {
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Location != nil {
		d.Location = *p.Location
	}
	if p.Price != nil {
		d.Price = *p.Price
	}
	if p.Beds != nil {
		d.Beds = p.Beds
	}
	if p.Baths != nil {
		d.Baths = p.Baths
	}
	if p.Sqft != nil {
		d.Sqft = *p.Sqft
	}
	if p.Subtype != nil {
		d.Subtype = *p.Subtype
	}
	if p.Availability != nil {
		d.Availability = *p.Availability
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.Amenities != nil {
		d.Amenities = *p.Amenities
	}
	if p.Phone != nil {
		d.Phone = *p.Phone
	}
	return d
}
