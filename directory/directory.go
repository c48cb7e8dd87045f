// Package directory keeps a periodically refreshed copy of the user directory. It's only used to
// render participant names and to map calendar email addresses to user IDs.
package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cyverse-de/meeting-notifier/common"
	"github.com/cyverse-de/meeting-notifier/logging"
	"github.com/cyverse-de/meeting-notifier/model"
	"github.com/pkg/errors"
)

var log = logging.ForPackage("directory")

// Lister describes anything that can list every user in the directory.
type Lister interface {
	Users(ctx context.Context) ([]model.User, error)
}

// Client lists users using the user service's REST API.
type Client struct {
	url    string
	client *http.Client
}

// NewClient returns a client for the user listing at url.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{url: url, client: &http.Client{Timeout: timeout}}
}

// Users returns every user in the directory. Entries with invalid email addresses are kept without
// the address.
func (c *Client) Users(ctx context.Context) ([]model.User, error) {
	wrapMsg := "unable to list users"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("%s: unexpected status %s", wrapMsg, resp.Status)
	}

	var users []model.User
	if err = json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	for i := range users {
		if users[i].Email == "" {
			continue
		}
		if err = common.ValidateEmailAddress(users[i].Email); err != nil {
			log.WithError(err).WithField("user", users[i].ID).Warn("ignoring invalid email address")
			users[i].Email = ""
		}
	}

	return users, nil
}

// Cache holds the most recent successful directory listing.
type Cache struct {
	lister Lister

	mu      sync.RWMutex
	names   map[model.ID]string
	byEmail map[string]model.ID
	updated time.Time
}

// NewCache returns an empty cache that refreshes itself from lister.
func NewCache(lister Lister) *Cache {
	return &Cache{
		lister:  lister,
		names:   make(map[model.ID]string),
		byEmail: make(map[string]model.ID),
	}
}

// Fetch lists the directory.
func (c *Cache) Fetch(ctx context.Context) ([]model.User, error) {
	return c.lister.Users(ctx)
}

// Reconcile replaces the cached directory with a new listing.
func (c *Cache) Reconcile(_ context.Context, users []model.User) error {
	names := make(map[model.ID]string, len(users))
	byEmail := make(map[string]model.ID, len(users))
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		names[u.ID] = u.Name
		if u.Email != "" {
			byEmail[strings.ToLower(u.Email)] = u.ID
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = names
	c.byEmail = byEmail
	c.updated = time.Now()

	log.WithField("users", len(names)).Debug("refreshed the user directory")
	return nil
}

// Name returns the display name of a user.
func (c *Cache) Name(id model.ID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[id]
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// IDForEmail returns the ID of the user with the given email address.
func (c *Cache) IDForEmail(email string) (model.ID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byEmail[strings.ToLower(strings.TrimSpace(email))]
	return id, ok
}

// Updated returns the time of the last successful refresh.
func (c *Cache) Updated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}
