package model

// Meeting is a single meeting record as reported by the authoritative meeting source. Only the
// identifier and the participant list take part in reconciliation; the display fields are passed
// through to notification payloads unchanged.
type Meeting struct {
	ID             ID     `json:"id" validate:"required"`
	ParticipantIDs []ID   `json:"participantIds" validate:"dive,required"`
	OrganizerID    ID     `json:"organizerId"`
	Title          string `json:"title"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	Link           string `json:"link"`
}

// HasParticipant reports whether the given user is listed as a participant of the meeting.
func (m *Meeting) HasParticipant(userID ID) bool {
	for _, id := range m.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MeetingIDs returns the identifiers of the given meetings in order, skipping empty identifiers.
func MeetingIDs(meetings []Meeting) IDSet {
	var ids IDSet
	for _, m := range meetings {
		if m.ID != "" {
			ids.Add(m.ID)
		}
	}
	return ids
}

// User is a single entry in the user directory.
type User struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
