package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/memohai/crmsync/internal/directory"
	"github.com/memohai/crmsync/internal/logger"
	"github.com/memohai/crmsync/internal/version"
)

const (
	personFields  = "names,emailAddresses,phoneNumbers,addresses,organizations,biographies,memberships,metadata"
	updateFields  = "names,emailAddresses,phoneNumbers,addresses,organizations,biographies"
	pageSize      = 1000
	starredGroup  = "contactGroups/starred"
	maxErrorBytes = 4096
)

type client struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
}

func (c *client) FetchAll(ctx context.Context) ([]directory.Contact, error) {
	var out []directory.Contact
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("personFields", personFields)
		q.Set("pageSize", fmt.Sprint(pageSize))
		q.Set("sortOrder", "LAST_MODIFIED_ASCENDING")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page listConnectionsResponse
		if err := c.do(ctx, http.MethodGet, "/v1/people/me/connections?"+q.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("list connections: %w", err)
		}
		for _, p := range page.Connections {
			out = append(out, p.toContact())
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	logger.FromContext(ctx).Debug("fetched contacts",
		slog.String("provider", ProviderName),
		slog.Int("count", len(out)),
	)
	return out, nil
}

func (c *client) Create(ctx context.Context, input directory.ContactInput) (directory.Contact, error) {
	body := personFromInput(input)
	var created person
	path := "/v1/people:createContact?personFields=" + url.QueryEscape(personFields)
	if err := c.do(ctx, http.MethodPost, path, body, &created); err != nil {
		return directory.Contact{}, fmt.Errorf("create contact: %w", err)
	}
	return created.toContact(), nil
}

func (c *client) Update(ctx context.Context, id string, input directory.ContactInput, etag string) (directory.Contact, error) {
	if err := validateResourceName(id); err != nil {
		return directory.Contact{}, err
	}
	body := personFromInput(input)
	body.ResourceName = id
	body.ETag = etag
	q := url.Values{}
	q.Set("updatePersonFields", updateFields)
	q.Set("personFields", personFields)
	var updated person
	if err := c.do(ctx, http.MethodPatch, "/v1/"+id+":updateContact?"+q.Encode(), body, &updated); err != nil {
		return directory.Contact{}, fmt.Errorf("update contact %s: %w", id, err)
	}
	return updated.toContact(), nil
}

// SoftDelete removes the contact from the starred group; the contact itself survives.
func (c *client) SoftDelete(ctx context.Context, id string) error {
	if err := validateResourceName(id); err != nil {
		return err
	}
	body := modifyMembersRequest{ResourceNamesToRemove: []string{id}}
	if err := c.do(ctx, http.MethodPost, "/v1/"+starredGroup+"/members:modify", body, nil); err != nil {
		return fmt.Errorf("unstar contact %s: %w", id, err)
	}
	return nil
}

func (c *client) HardDelete(ctx context.Context, id string) error {
	if err := validateResourceName(id); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodDelete, "/v1/"+id+":deleteContact", nil, nil); err != nil {
		return fmt.Errorf("delete contact %s: %w", id, err)
	}
	return nil
}

func (c *client) accountEmail(ctx context.Context) (string, error) {
	var me person
	if err := c.do(ctx, http.MethodGet, "/v1/people/me?personFields=emailAddresses", nil, &me); err != nil {
		return "", err
	}
	return firstEmail(me.EmailAddresses), nil
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	logger.FromContext(ctx).Debug("people api request",
		slog.String("method", method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
	var apiErr apiErrorResponse
	_ = json.Unmarshal(raw, &apiErr)
	msg := strings.TrimSpace(apiErr.Error.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", directory.ErrAuthExpired, msg)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", directory.ErrNotFound, msg)
	case resp.StatusCode == http.StatusPreconditionFailed,
		resp.StatusCode == http.StatusBadRequest && apiErr.Error.Status == "FAILED_PRECONDITION":
		return fmt.Errorf("%w: %s", directory.ErrStaleVersion, msg)
	}
	return fmt.Errorf("people api: status %d: %s", resp.StatusCode, msg)
}

func validateResourceName(id string) error {
	if !strings.HasPrefix(id, "people/") || strings.ContainsAny(id, "?#") {
		return errors.New("invalid people resource name: " + id)
	}
	return nil
}
