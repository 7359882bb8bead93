package booking

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusCompleted},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
	StatusEnquiry:   {StatusCancelled},
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusEnquiry:
		return true
	}
	return false
}

// CanTransition reports whether the strict path allows from -> to. Staying in
// the same state is always allowed and treated as a no-op by callers.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// occupiesSlot reports whether a record in status s holds its (listing, date, time) slot.
func occupiesSlot(s Status) bool {
	return s != StatusCancelled && s != StatusEnquiry
}

func acceptsFeedback(s Status) bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusCompleted
}
