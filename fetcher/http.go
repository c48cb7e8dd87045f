// Package fetcher retrieves snapshots of the meetings visible to a user from the authoritative
// meeting source.
package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cyverse-de/meeting-notifier/model"
)

// Source describes anything that can list the meetings a user organizes or participates in.
// Implementations have no side effects and report every failure as a TransportError.
type Source interface {
	Meetings(ctx context.Context, userID model.ID) ([]model.Meeting, error)
}

// HTTPSource lists meetings using the meeting service's REST API.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource returns a source that queries the meeting service at baseURL.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Meetings returns the meetings visible to the user.
func (s *HTTPSource) Meetings(ctx context.Context, userID model.ID) ([]model.Meeting, error) {
	endpoint := s.baseURL + "/meetings/user/" + url.PathEscape(userID.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewTransportError(err, "unable to build the meeting request for `%s`", userID)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, NewTransportError(err, "unable to list meetings for `%s`", userID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewTransportError(nil, "unable to list meetings for `%s`: unexpected status %s", userID, resp.Status)
	}

	var meetings []model.Meeting
	if err = json.NewDecoder(resp.Body).Decode(&meetings); err != nil {
		return nil, NewTransportError(err, "unable to decode meetings for `%s`", userID)
	}
	if meetings == nil {
		meetings = []model.Meeting{}
	}

	return meetings, nil
}
