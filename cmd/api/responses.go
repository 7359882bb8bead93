package main

import (
	"time"

	"widesquare/booking"
	"widesquare/identity"
	"widesquare/listing"
)

type userResponse struct {
	ID                   string                     `json:"id"`
	Email                string                     `json:"email"`
	Name                 string                     `json:"name"`
	Role                 identity.Role              `json:"role"`
	IsAdmin              bool                       `json:"isAdmin"`
	AgentRequestPending  bool                       `json:"agentRequestPending"`
	AgentApplication     *identity.AgentApplication `json:"agentApplication,omitempty"`
	SellerRequestPending bool                       `json:"sellerRequestPending"`
	CreatedAt            string                     `json:"createdAt"`
}

type imageResponse struct {
	URL       string `json:"url"`
	StorageID string `json:"storageId"`
}

type listingResponse struct {
	ID              string               `json:"id"`
	Title           string               `json:"title"`
	Location        string               `json:"location"`
	Price           float64              `json:"price"`
	Images          []imageResponse      `json:"images"`
	Beds            *int                 `json:"beds"`
	Baths           *int                 `json:"baths"`
	Sqft            float64              `json:"sqft"`
	Type            string               `json:"type"`
	Availability    listing.Availability `json:"availability"`
	Description     string               `json:"description"`
	Amenities       []string             `json:"amenities"`
	Phone           string               `json:"phone"`
	SellerID        string               `json:"sellerId"`
	AssignedAgentID *string              `json:"assignedAgentId"`
	IsApproved      bool                 `json:"isApproved"`
	Status          listing.Status       `json:"status"`
	ApprovedBy      *string              `json:"approvedBy"`
	CreatedAt       string               `json:"createdAt"`
	UpdatedAt       string               `json:"updatedAt"`
}

type feedbackResponse struct {
	Rating      int    `json:"rating"`
	Comment     string `json:"comment"`
	SubmittedAt string `json:"submittedAt"`
}

type appointmentResponse struct {
	ID              string            `json:"id"`
	ListingID       string            `json:"listingId"`
	UserID          *string           `json:"userId"`
	Guest           *booking.Guest    `json:"guest,omitempty"`
	Date            string            `json:"date,omitempty"`
	Time            string            `json:"time,omitempty"`
	Status          booking.Status    `json:"status"`
	MeetingLink     string            `json:"meetingLink,omitempty"`
	MeetingPlatform string            `json:"meetingPlatform,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	CancelReason    string            `json:"cancelReason,omitempty"`
	Feedback        *feedbackResponse `json:"feedback,omitempty"`
	CreatedAt       string            `json:"createdAt"`
	UpdatedAt       string            `json:"updatedAt"`
}

func toUserResponse(u identity.User, isAdmin bool) userResponse {
	return userResponse{
		ID:                   u.ID,
		Email:                u.Email,
		Name:                 u.Name,
		Role:                 u.Role,
		IsAdmin:              isAdmin,
		AgentRequestPending:  u.AgentRequestPending,
		AgentApplication:     u.AgentApplication,
		SellerRequestPending: u.SellerRequestPending,
		CreatedAt:            formatTime(u.CreatedAt),
	}
}

func toListingResponse(l listing.Listing) listingResponse {
	images := make([]imageResponse, 0, len(l.Images))
	for _, img := range l.Images {
		images = append(images, imageResponse{URL: img.URL, StorageID: img.StorageID})
	}
	amenities := l.Amenities
	if amenities == nil {
		amenities = []string{}
	}
	return listingResponse{
		ID:              l.ID,
		Title:           l.Title,
		Location:        l.Location,
		Price:           l.Price,
		Images:          images,
		Beds:            l.Beds,
		Baths:           l.Baths,
		Sqft:            l.Sqft,
		Type:            l.Subtype,
		Availability:    l.Availability,
		Description:     l.Description,
		Amenities:       amenities,
		Phone:           l.Phone,
		SellerID:        l.SellerID,
		AssignedAgentID: l.AssignedAgentID,
		IsApproved:      l.IsApproved,
		Status:          l.Status,
		ApprovedBy:      l.ApprovedBy,
		CreatedAt:       formatTime(l.CreatedAt),
		UpdatedAt:       formatTime(l.UpdatedAt),
	}
}

func toAppointmentResponse(a booking.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:              a.ID,
		ListingID:       a.ListingID,
		UserID:          a.UserID,
		Guest:           a.Guest,
		Date:            a.Date,
		Time:            a.TimeSlot,
		Status:          a.Status,
		MeetingLink:     a.MeetingLink,
		MeetingPlatform: a.MeetingPlatform,
		Notes:           a.Notes,
		CancelReason:    a.CancelReason,
		CreatedAt:       formatTime(a.CreatedAt),
		UpdatedAt:       formatTime(a.UpdatedAt),
	}
	if a.Feedback != nil {
		resp.Feedback = &feedbackResponse{
			Rating:      a.Feedback.Rating,
			Comment:     a.Feedback.Comment,
			SubmittedAt: formatTime(a.Feedback.SubmittedAt),
		}
	}
	return resp
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
