package listing

import (
	"io"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Availability string

const (
	AvailabilityRent  Availability = "rent"
	AvailabilityBuy   Availability = "buy"
	AvailabilityLease Availability = "lease"
)

// SubtypePlot is land without buildings; plots carry no bedroom or bathroom counts.
const SubtypePlot = "Plot"

var subtypes = map[string]struct{}{
	"Apartment": {},
	"House":     {},
	"Villa":     {},
	"Townhouse": {},
	"Penthouse": {},
	"Studio":    {},
	"Office":    {},
	"Shop":      {},
	"Warehouse": {},
	SubtypePlot: {},
}

// Image is a stored picture: the public URL and the id used to delete it.
type Image struct {
	URL       string `json:"url"`
	StorageID string `json:"storage_id"`
}

// Listing mirrors the listings table.
type Listing struct {
	ID              string
	Title           string
	Location        string
	Price           float64
	Images          []Image
	Beds            *int
	Baths           *int
	Sqft            float64
	Subtype         string
	Availability    Availability
	Description     string
	Amenities       []string
	Phone           string
	SellerID        string
	AssignedAgentID *string
	IsApproved      bool
	Status          Status
	ApprovedBy      *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Upload is an image file received with a create or update request.
type Upload struct {
	Filename string
	Content  io.Reader
}

// Details holds the editable descriptive fields of a listing.
type Details struct {
	Title        string
	Location     string
	Price        float64
	Beds         *int
	Baths        *int
	Sqft         float64
	Subtype      string
	Availability Availability
	Description  string
	Amenities    []string
	Phone        string
}

// CreateParams describes a new submission. Images are references that were
// stored earlier; Uploads are stored as part of the call.
type CreateParams struct {
	Details
	Images  []Image
	Uploads []Upload
}

// UpdateParams carries a partial update; nil fields are left unchanged.
// Images, when set, is the subset of current images to keep.
type UpdateParams struct {
	ID           string
	Title        *string
	Location     *string
	Price        *float64
	Beds         *int
	Baths        *int
	Sqft         *float64
	Subtype      *string
	Availability *Availability
	Description  *string
	Amenities    *[]string
	Phone        *string
	Images       *[]Image
	Uploads      []Upload
}

// Filters narrows List results.
type Filters struct {
	Status       Status
	Availability Availability
	Subtype      string
	Location     string
	MinPrice     *float64
	MaxPrice     *float64
	SellerID     string
	AgentID      string
	Page         int
	PageSize     int
	SortKey      string
	SortOrder    string
}

// ListResult is one page of listings with the total match count.
type ListResult struct {
	Items []Listing
	Total int
}
