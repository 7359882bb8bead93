package main

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"widesquare/apperr"
	"widesquare/authz"
	"widesquare/listing"
)

const maxUploadMemory = 32 << 20

// listingPayload is the JSON body (or multipart "data" field) of listing
// create and update requests. Absent fields stay unchanged on update.
type listingPayload struct {
	Title        *string               `json:"title"`
	Location     *string               `json:"location"`
	Price        *float64              `json:"price"`
	Beds         *int                  `json:"beds"`
	Baths        *int                  `json:"baths"`
	Sqft         *float64              `json:"sqft"`
	Type         *string               `json:"type"`
	Availability *listing.Availability `json:"availability"`
	Description  *string               `json:"description"`
	Amenities    *[]string             `json:"amenities"`
	Phone        *string               `json:"phone"`
	Images       *[]imageResponse      `json:"images"`
}

func (p listingPayload) details() listing.Details {
	d := listing.Details{Beds: p.Beds, Baths: p.Baths}
	setIf(&d.Title, p.Title)
	setIf(&d.Location, p.Location)
	setIf(&d.Price, p.Price)
	setIf(&d.Sqft, p.Sqft)
	setIf(&d.Subtype, p.Type)
	setIf(&d.Availability, p.Availability)
	setIf(&d.Description, p.Description)
	setIf(&d.Amenities, p.Amenities)
	setIf(&d.Phone, p.Phone)
	return d
}

func (p listingPayload) images() []listing.Image {
	if p.Images == nil {
		return nil
	}
	out := make([]listing.Image, 0, len(*p.Images))
	for _, img := range *p.Images {
		out = append(out, listing.Image{URL: img.URL, StorageID: img.StorageID})
	}
	return out
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	viewer, _ := authz.FromContext(r.Context())
	filters, err := listingFilters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.listingService.List(r.Context(), filters, viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "OK", listPayload[listingResponse]{
		Items: mapSlice(res.Items, toListingResponse),
		Total: res.Total,
	})
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	viewer, _ := authz.FromContext(r.Context())
	l, err := s.listingService.GetByID(r.Context(), r.PathValue("id"), viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "OK", toListingResponse(l))
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	payload, uploads, closeAll, err := readListingRequest(r)
	defer closeAll()
	if err != nil {
		writeError(w, r, err)
		return
	}

	l, err := s.listingService.Create(r.Context(), actor, listing.CreateParams{
		Details: payload.details(),
		Images:  payload.images(),
		Uploads: uploads,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	message := "Listing submitted for review"
	if l.Status == listing.StatusApproved {
		message = "Listing published"
	}
	writeJSON(w, http.StatusCreated, message, toListingResponse(l))
}

func (s *Server) handleUpdateListing(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	payload, uploads, closeAll, err := readListingRequest(r)
	defer closeAll()
	if err != nil {
		writeError(w, r, err)
		return
	}

	params := listing.UpdateParams{
		ID:           r.PathValue("id"),
		Title:        payload.Title,
		Location:     payload.Location,
		Price:        payload.Price,
		Beds:         payload.Beds,
		Baths:        payload.Baths,
		Sqft:         payload.Sqft,
		Subtype:      payload.Type,
		Availability: payload.Availability,
		Description:  payload.Description,
		Amenities:    payload.Amenities,
		Phone:        payload.Phone,
		Uploads:      uploads,
	}
	if payload.Images != nil {
		keep := payload.images()
		params.Images = &keep
	}

	l, err := s.listingService.Update(r.Context(), actor, params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Listing updated", toListingResponse(l))
}

func (s *Server) handleDeleteListing(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	if err := s.listingService.Delete(r.Context(), actor, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Listing deleted", nil)
}

func (s *Server) handleApproveListing(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	l, err := s.listingService.Approve(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Listing approved", toListingResponse(l))
}

func (s *Server) handleRejectListing(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	l, err := s.listingService.Reject(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Listing rejected", toListingResponse(l))
}

func (s *Server) handleAssignAgent(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.FromContext(r.Context())
	var req struct {
		AgentID *string `json:"agentId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.AgentID != nil && strings.TrimSpace(*req.AgentID) == "" {
		req.AgentID = nil
	}

	l, err := s.listingService.AssignAgent(r.Context(), actor, r.PathValue("id"), req.AgentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Agent updated", toListingResponse(l))
}

// readListingRequest accepts either a JSON body or a multipart form with a
// JSON "data" field and "images" files. The returned func closes the files.
func readListingRequest(r *http.Request) (listingPayload, []listing.Upload, func(), error) {
	var payload listingPayload
	noop := func() {}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
			return payload, nil, noop, apperr.Invalid("request", "invalid JSON payload")
		}
		return payload, nil, noop, nil
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return payload, nil, noop, apperr.Invalid("request", "invalid multipart form")
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	if data := r.FormValue("data"); data != "" {
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return payload, nil, cleanup, apperr.Invalid("request", "invalid data field")
		}
	}

	var files []io.Closer
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
		cleanup()
	}

	var uploads []listing.Upload
	for _, fh := range r.MultipartForm.File["images"] {
		f, err := fh.Open()
		if err != nil {
			return payload, nil, closeAll, apperr.Invalid("request", "unreadable image "+fh.Filename)
		}
		files = append(files, f)
		uploads = append(uploads, listing.Upload{Filename: fh.Filename, Content: f})
	}
	return payload, uploads, closeAll, nil
}

func listingFilters(r *http.Request) (listing.Filters, error) {
	q := r.URL.Query()
	f := listing.Filters{
		Status:       listing.Status(q.Get("status")),
		Availability: listing.Availability(q.Get("availability")),
		Subtype:      q.Get("type"),
		Location:     strings.TrimSpace(q.Get("location")),
		SellerID:     q.Get("seller"),
		AgentID:      q.Get("agent"),
		SortKey:      q.Get("sort"),
		SortOrder:    q.Get("order"),
	}

	var err error
	if f.MinPrice, err = optionalFloat(q.Get("minPrice"), "minPrice"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = optionalFloat(q.Get("maxPrice"), "maxPrice"); err != nil {
		return f, err
	}
	if f.Page, err = optionalInt(q.Get("page"), "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = optionalInt(q.Get("pageSize"), "pageSize"); err != nil {
		return f, err
	}
	return f, nil
}

func optionalFloat(raw, name string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperr.Invalid("request", name+" must be a number")
	}
	return &v, nil
}

func optionalInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.Invalid("request", name+" must be a positive integer")
	}
	return v, nil
}
