// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

package driver

// RouteMetadata is the external-facing description of a vendor route:
// everything in Route except the handler function, which is never
// serialized out to clients (spec.md §4.A: "Metadata for external listing
// is the same mapping minus func").
type RouteMetadata struct {
	HTTPMethods []string `json:"http_methods"`
	Async       bool     `json:"async"`
	Description string   `json:"description,omitempty"`
}

// Metadata strips handler functions from a route table for external
// listing via get_node_vendor_passthru_methods / get_driver_vendor_passthru_methods.
func Metadata(routes map[string]Route) map[string]RouteMetadata {
	out := make(map[string]RouteMetadata, len(routes))
	for name, route := range routes {
		methods := make([]string, 0, len(route.HTTPMethods))
		for m := range route.HTTPMethods {
			methods = append(methods, m)
		}
		out[name] = RouteMetadata{
			HTTPMethods: methods,
			Async:       route.Async,
			Description: route.Description,
		}
	}
	return out
}
