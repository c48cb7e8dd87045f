package diff

import "fmt"

// MalformedRecord describes a meeting in a snapshot that is missing required fields.
type MalformedRecord struct {
	Index     int
	MeetingID string
	message   string
}

// Error returns the error message for a MalformedRecord.
func (e MalformedRecord) Error() string {
	return e.message
}

// NewMalformedRecord returns a new error describing the meeting at the given snapshot index.
func NewMalformedRecord(index int, meetingID, formatString string, a ...interface{}) MalformedRecord {
	return MalformedRecord{
		Index:     index,
		MeetingID: meetingID,
		message:   fmt.Sprintf("malformed meeting at index %d: %s", index, fmt.Sprintf(formatString, a...)),
	}
}
