package kube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ErrUnknownResource is returned when the group version does not serve
// the requested plural.
var ErrUnknownResource = errors.New("kube: resource not served by API")

// discoveryTimeout bounds a shared discovery request, which outlives the
// cancellation of whichever caller started it.
const discoveryTimeout = 30 * time.Second

// Discovery answers whether a resource is namespaced by reading the
// group-version discovery document. Documents are cached per group
// version for the lifetime of the Discovery; concurrent lookups of the
// same group version share one request.
type Discovery struct {
	client *Client
	logger *slog.Logger

	scopes  sync.Map // group-version path -> map[plural]bool
	flights singleflight.Group
}

// NewDiscovery creates a Discovery backed by client.
func NewDiscovery(client *Client, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}

	return &Discovery{
		client: client,
		logger: logger,
	}
}

// IsNamespaced reports whether res lives inside namespaces.
func (d *Discovery) IsNamespaced(ctx context.Context, res Resource) (bool, error) {
	scopes, err := d.groupVersion(ctx, res.GroupVersionPath())
	if err != nil {
		return false, err
	}

	namespaced, ok := scopes[res.Plural]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownResource, res)
	}

	return namespaced, nil
}

func (d *Discovery) groupVersion(ctx context.Context, path string) (map[string]bool, error) {
	if v, ok := d.scopes.Load(path); ok {
		return v.(map[string]bool), nil
	}

	ch := d.flights.DoChan(path, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discoveryTimeout)
		defer cancel()

		scopes, err := d.fetch(fetchCtx, path)
		if err != nil {
			return nil, err
		}

		d.scopes.Store(path, scopes)

		return scopes, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(map[string]bool), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Discovery) fetch(ctx context.Context, path string) (map[string]bool, error) {
	resp, err := d.client.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list metav1.APIResourceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("kube: decoding discovery document %s: %w", path, err)
	}

	scopes := make(map[string]bool, len(list.APIResources))
	for i := range list.APIResources {
		scopes[list.APIResources[i].Name] = list.APIResources[i].Namespaced
	}

	d.logger.Debug("loaded discovery document",
		slog.String("group_version", list.GroupVersion),
		slog.Int("resources", len(scopes)),
	)

	return scopes, nil
}
