package kube

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// coreVersion is assumed when a resource is given by its plural alone.
const coreVersion = "v1"

// ErrInvalidResource is returned by ParseResource for malformed input.
var ErrInvalidResource = errors.New("kube: invalid resource")

// Resource identifies one resource collection on the API server. An
// empty Group means the legacy core group served under /api.
type Resource struct {
	Group   string
	Version string
	Plural  string
}

// ParseResource accepts "plural" (core v1), "version/plural" (core) or
// "group/version/plural".
func ParseResource(s string) (Resource, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	for _, p := range parts {
		if p == "" {
			return Resource{}, fmt.Errorf("%w: %q", ErrInvalidResource, s)
		}
	}

	switch len(parts) {
	case 1:
		return Resource{Version: coreVersion, Plural: strings.ToLower(parts[0])}, nil
	case 2:
		return Resource{Version: parts[0], Plural: strings.ToLower(parts[1])}, nil
	case 3:
		return Resource{Group: parts[0], Version: parts[1], Plural: strings.ToLower(parts[2])}, nil
	default:
		return Resource{}, fmt.Errorf("%w: %q (want plural, version/plural or group/version/plural)", ErrInvalidResource, s)
	}
}

// APIVersion returns the apiVersion string, e.g. "apps/v1" or "v1".
func (r Resource) APIVersion() string {
	if r.Group == "" {
		return r.Version
	}

	return r.Group + "/" + r.Version
}

func (r Resource) String() string {
	return r.APIVersion() + "/" + r.Plural
}

// GroupVersionPath is the discovery document path for the resource's
// group version.
func (r Resource) GroupVersionPath() string {
	if r.Group == "" {
		return "/api/" + url.PathEscape(r.Version)
	}

	return "/apis/" + url.PathEscape(r.Group) + "/" + url.PathEscape(r.Version)
}

// CollectionPath returns the collection URL path, scoped to namespace
// when it is non-empty.
func (r Resource) CollectionPath(namespace string) string {
	if namespace == "" {
		return r.GroupVersionPath() + "/" + url.PathEscape(r.Plural)
	}

	return r.GroupVersionPath() + "/namespaces/" + url.PathEscape(namespace) + "/" + url.PathEscape(r.Plural)
}
