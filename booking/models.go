package booking

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusEnquiry   Status = "enquiry"
)

const (
	dateLayout = "2006-01-02"
	slotLayout = "15:04"
)

// Guest is the contact block of a requester without an account.
type Guest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Feedback is the single review a requester may leave.
type Feedback struct {
	Rating      int
	Comment     string
	SubmittedAt time.Time
}

// Appointment mirrors the appointments table. Exactly one of UserID and Guest
// is set unless the record is an enquiry. Date and TimeSlot are empty on
// enquiries without a preferred time.
type Appointment struct {
	ID              string
	ListingID       string
	UserID          *string
	Guest           *Guest
	Date            string
	TimeSlot        string
	Status          Status
	MeetingLink     string
	MeetingPlatform string
	Notes           string
	CancelReason    string
	Feedback        *Feedback
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ScheduleRequest books a viewing slot. Guest is read only when the caller is
// not signed in.
type ScheduleRequest struct {
	ListingID string
	Date      string
	TimeSlot  string
	Notes     string
	Guest     *Guest
}

// EnquiryRequest is a question about a listing, optionally with a preferred time.
type EnquiryRequest struct {
	ListingID string
	Message   string
	Date      string
	TimeSlot  string
	Guest     *Guest
}

// Filters narrows List results.
type Filters struct {
	ListingID string
	UserID    string
	Status    Status
	Page      int
	PageSize  int
}

// ListResult is one page of appointments with the total match count.
type ListResult struct {
	Items []Appointment
	Total int
}
