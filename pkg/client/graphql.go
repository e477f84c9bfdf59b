package client

import (
	"encoding/json"
)

// GraphQLErrorItem is a single entry from a GraphQL errors list.
type GraphQLErrorItem struct {
	Message    string           `json:"message"`
	Path       []any            `json:"path,omitempty"`
	Locations  []map[string]any `json:"locations,omitempty"`
	Extensions map[string]any   `json:"extensions,omitempty"`
}

// GraphQLResult is the decoded envelope of a GraphQL response. A response
// with a non-empty Errors list may still carry partial Data.
type GraphQLResult struct {
	Data       map[string]any
	Errors     []GraphQLErrorItem
	Extensions map[string]any
}

// AsErrorItem interprets an arbitrary decoded value as a GraphQL error
// item. Values carrying a string "message" field are accepted even without
// a __typename discriminant; this structural fallback is a deliberate
// compatibility shim for schema drift, not an accident.
func AsErrorItem(v any) (GraphQLErrorItem, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return GraphQLErrorItem{}, false
	}
	message, ok := m["message"].(string)
	if !ok {
		return GraphQLErrorItem{}, false
	}

	item := GraphQLErrorItem{Message: message}
	if path, ok := m["path"].([]any); ok {
		item.Path = path
	}
	if rawLocs, ok := m["locations"].([]any); ok {
		for _, rawLoc := range rawLocs {
			if loc, ok := rawLoc.(map[string]any); ok {
				item.Locations = append(item.Locations, loc)
			}
		}
	}
	if ext, ok := m["extensions"].(map[string]any); ok {
		item.Extensions = ext
	}
	return item, true
}

// parseErrorItems extracts well-formed error items from a raw errors value.
// Malformed entries are skipped rather than failing the whole response.
func parseErrorItems(raw any) []GraphQLErrorItem {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var items []GraphQLErrorItem
	for _, entry := range list {
		if item, ok := AsErrorItem(entry); ok {
			items = append(items, item)
		}
	}
	return items
}

// decodeGraphQLResult decodes a GraphQL response body and applies the
// protocol contract: a response with errors surfaces an *OperationError
// that preserves any partial data; a response with neither data nor errors
// is a *SerializationError. The decoded result is returned in both cases
// so callers keep access to partial data.
func decodeGraphQLResult(body []byte) (*GraphQLResult, error) {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &SerializationError{Reason: "response is not valid JSON: " + err.Error()}
	}

	result := &GraphQLResult{}
	if data, ok := envelope["data"].(map[string]any); ok {
		result.Data = data
	}
	if ext, ok := envelope["extensions"].(map[string]any); ok {
		result.Extensions = ext
	}
	result.Errors = parseErrorItems(envelope["errors"])

	if len(result.Errors) > 0 {
		return result, &OperationError{Errors: result.Errors, PartialData: result.Data}
	}
	if result.Data == nil {
		return result, &SerializationError{Reason: "response contained neither data nor errors"}
	}
	return result, nil
}
