package main

import (
	"context"
	"net/http"

	"widesquare/authz"
	"widesquare/booking"
)

type scheduleRequest struct {
	ListingID string         `json:"listingId"`
	Date      string         `json:"date"`
	Time      string         `json:"time"`
	Notes     string         `json:"notes"`
	Guest     *booking.Guest `json:"guest"`
}

type enquiryRequest struct {
	ListingID string         `json:"listingId"`
	Message   string         `json:"message"`
	Date      string         `json:"date"`
	Time      string         `json:"time"`
	Guest     *booking.Guest `json:"guest"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	a, err := s.bookingService.Schedule(r.Context(), actor, booking.ScheduleRequest{
		ListingID: req.ListingID,
		Date:      req.Date,
		TimeSlot:  req.Time,
		Notes:     req.Notes,
		Guest:     req.Guest,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, "Viewing scheduled", toAppointmentResponse(a))
}

func (s *Server) handleEnquiry(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	var req enquiryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	a, err := s.bookingService.Enquire(r.Context(), actor, booking.EnquiryRequest{
		ListingID: req.ListingID,
		Message:   req.Message,
		Date:      req.Date,
		TimeSlot:  req.Time,
		Guest:     req.Guest,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, "Enquiry sent", toAppointmentResponse(a))
}

func (s *Server) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	viewer, _ := authz.FromContext(r.Context())
	q := r.URL.Query()
	page, err := optionalInt(q.Get("page"), "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	pageSize, err := optionalInt(q.Get("pageSize"), "pageSize")
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.bookingService.List(r.Context(), booking.Filters{
		ListingID: q.Get("listing"),
		UserID:    q.Get("user"),
		Status:    booking.Status(q.Get("status")),
		Page:      page,
		PageSize:  pageSize,
	}, viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "OK", listPayload[appointmentResponse]{
		Items: mapSlice(res.Items, toAppointmentResponse),
		Total: res.Total,
	})
}

func (s *Server) handleCancelAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	var req struct {
		Reason string `json:"reason"`
	}
	// the body is optional
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	a, err := s.bookingService.Cancel(r.Context(), actor, r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Appointment cancelled", toAppointmentResponse(a))
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	var req struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	a, err := s.bookingService.AttachFeedback(r.Context(), actor, r.PathValue("id"), req.Rating, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Thank you for your feedback", toAppointmentResponse(a))
}

func (s *Server) handleUpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	s.setAppointmentStatus(w, r, s.bookingService.UpdateStatus)
}

func (s *Server) handleForceAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	s.setAppointmentStatus(w, r, s.bookingService.ForceSetStatus)
}

func (s *Server) setAppointmentStatus(w http.ResponseWriter, r *http.Request,
	set func(ctx context.Context, actor authz.Principal, id string, next booking.Status) (booking.Appointment, error)) {
	actor, _ := authz.FromContext(r.Context())
	var req struct {
		Status booking.Status `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	a, err := set(r.Context(), actor, r.PathValue("id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Appointment updated", toAppointmentResponse(a))
}

func (s *Server) handleMeetingLink(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	var req struct {
		MeetingLink     string `json:"meetingLink"`
		MeetingPlatform string `json:"meetingPlatform"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	a, err := s.bookingService.UpdateMeetingLink(r.Context(), actor, r.PathValue("id"), req.MeetingLink, req.MeetingPlatform)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Meeting link updated", toAppointmentResponse(a))
}
