package fetcher

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cyverse-de/meeting-notifier/logging"
	"github.com/cyverse-de/meeting-notifier/model"
	"github.com/emersion/go-ical"
)

var log = logging.ForPackage("fetcher")

// EmailResolver maps an email address to a user ID.
type EmailResolver interface {
	IDForEmail(email string) (model.ID, bool)
}

// ICalSource lists meetings from an iCalendar feed. Organizers and attendees are identified by email
// address and mapped to user IDs through the user directory.
type ICalSource struct {
	url      string
	client   *http.Client
	users    EmailResolver
	location *time.Location
}

// NewICalSource returns a source that reads the feed at feedURL. Dates and times are rendered in loc.
func NewICalSource(feedURL string, timeout time.Duration, users EmailResolver, loc *time.Location) *ICalSource {
	if loc == nil {
		loc = time.Local
	}
	return &ICalSource{
		url:      feedURL,
		client:   &http.Client{Timeout: timeout},
		users:    users,
		location: loc,
	}
}

// Meetings returns the meetings in the feed that the user organizes or attends.
func (s *ICalSource) Meetings(ctx context.Context, userID model.ID) ([]model.Meeting, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, NewTransportError(err, "unable to build the calendar request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, NewTransportError(err, "unable to fetch the calendar")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewTransportError(nil, "unable to fetch the calendar: unexpected status %s", resp.Status)
	}

	all, err := s.decode(resp.Body)
	if err != nil {
		return nil, err
	}

	meetings := []model.Meeting{}
	for _, m := range all {
		if m.OrganizerID == userID || m.HasParticipant(userID) {
			meetings = append(meetings, m)
		}
	}
	return meetings, nil
}

func (s *ICalSource) decode(r io.Reader) ([]model.Meeting, error) {
	var meetings []model.Meeting

	decoder := ical.NewDecoder(r)
	for {
		cal, err := decoder.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewTransportError(err, "unable to decode the calendar")
		}

		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			if status := comp.Props.Get(ical.PropStatus); status != nil && strings.EqualFold(status.Value, "CANCELLED") {
				continue
			}
			meetings = append(meetings, s.parseEvent(comp))
		}
	}

	return meetings, nil
}

func (s *ICalSource) parseEvent(comp *ical.Component) model.Meeting {
	var m model.Meeting

	if prop := comp.Props.Get(ical.PropUID); prop != nil {
		m.ID = model.ID(prop.Value)
	}
	if prop := comp.Props.Get(ical.PropSummary); prop != nil {
		m.Title = prop.Value
	}

	if prop := comp.Props.Get(ical.PropDateTimeStart); prop != nil {
		if start, err := prop.DateTime(s.location); err == nil {
			start = start.In(s.location)
			m.Date = start.Format("2006-01-02")
			m.Time = start.Format("15:04")
		} else {
			log.WithError(err).WithField("uid", m.ID).Warn("unable to parse the event start time")
		}
	}

	if prop := comp.Props.Get(ical.PropURL); prop != nil {
		m.Link = prop.Value
	} else if prop := comp.Props.Get(ical.PropLocation); prop != nil && strings.HasPrefix(prop.Value, "http") {
		m.Link = prop.Value
	}

	if prop := comp.Props.Get(ical.PropOrganizer); prop != nil {
		if id, ok := s.resolve(prop.Value); ok {
			m.OrganizerID = id
		}
	}

	for _, prop := range comp.Props[ical.PropAttendee] {
		if id, ok := s.resolve(prop.Value); ok {
			m.ParticipantIDs = append(m.ParticipantIDs, id)
		}
	}

	return m
}

// resolve maps a calendar user address, usually a mailto: URI, to a user ID.
func (s *ICalSource) resolve(address string) (model.ID, bool) {
	if s.users == nil {
		return "", false
	}
	email := address
	if len(email) >= len("mailto:") && strings.EqualFold(email[:len("mailto:")], "mailto:") {
		email = email[len("mailto:"):]
	}
	return s.users.IDForEmail(email)
}
