package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Listing limits.
const (
	defaultListPageSize = 500
	maxListPages        = 10000
)

// Selectors narrow list and watch calls to a subset of the collection.
// Empty fields are not sent.
type Selectors struct {
	Label string
	Field string
}

// apply adds the non-empty selectors to q.
func (s Selectors) apply(q url.Values) {
	if s.Label != "" {
		q.Set("labelSelector", s.Label)
	}

	if s.Field != "" {
		q.Set("fieldSelector", s.Field)
	}
}

// Query returns the selectors as query parameters.
func (s Selectors) Query() url.Values {
	q := url.Values{}
	s.apply(q)

	return q
}

// listResponse mirrors the API server's list JSON. Items stay raw so
// callers receive the exact documents the server sent.
type listResponse struct {
	Metadata metav1.ListMeta   `json:"metadata"`
	Items    []json.RawMessage `json:"items"`
}

// List fetches every object in the collection, following continue
// tokens, and returns the items with the resource version the snapshot
// was taken at. The namespace must already be normalized for
// cluster-scoped resources.
func (c *Client) List(
	ctx context.Context, res Resource, namespace string, sel Selectors,
) ([]json.RawMessage, string, error) {
	c.logger.Info("listing collection",
		slog.String("resource", res.String()),
		slog.String("namespace", namespace),
	)

	var (
		items           []json.RawMessage
		resourceVersion string
		continueToken   string
	)

	path := res.CollectionPath(namespace)

	for page := 1; page <= maxListPages; page++ {
		q := sel.Query()
		q.Set("limit", strconv.Itoa(defaultListPageSize))

		if continueToken != "" {
			q.Set("continue", continueToken)
		}

		lr, err := c.listPage(ctx, path, q)
		if err != nil {
			return nil, "", err
		}

		items = append(items, lr.Items...)

		// The first page pins the snapshot; later pages reuse it.
		if resourceVersion == "" {
			resourceVersion = lr.Metadata.ResourceVersion
		}

		c.logger.Debug("fetched list page",
			slog.Int("page", page),
			slog.Int("page_items", len(lr.Items)),
			slog.Int("total_items", len(items)),
		)

		if lr.Metadata.Continue == "" {
			c.logger.Info("listed collection",
				slog.String("resource", res.String()),
				slog.Int("items", len(items)),
				slog.String("resource_version", resourceVersion),
			)

			return items, resourceVersion, nil
		}

		continueToken = lr.Metadata.Continue
	}

	return nil, "", fmt.Errorf("kube: listing %s exceeded %d pages", res, maxListPages)
}

func (c *Client) listPage(ctx context.Context, path string, q url.Values) (*listResponse, error) {
	resp, err := c.Get(ctx, path, q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("kube: decoding list response: %w", err)
	}

	return &lr, nil
}
