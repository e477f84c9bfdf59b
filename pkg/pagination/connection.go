package pagination

import (
	"strings"
)

// PageInfo is the completion metadata of a GraphQL connection.
type PageInfo struct {
	HasNextPage bool
	EndCursor   *string
}

// Connection is a decoded GraphQL connection: pageInfo plus edges or nodes.
type Connection struct {
	TypeName   string
	PageInfo   PageInfo
	Edges      []map[string]any
	Nodes      []map[string]any
	TotalCount *int
}

// DecodeConnection interprets a decoded GraphQL value as a connection.
// The __typename discriminant is consulted first; when it is absent, a
// value shaped like a connection (pageInfo plus edges or nodes) is accepted
// anyway. The structural fallback is a deliberate compatibility shim for
// schema drift and is part of the contract, not an accident.
func DecodeConnection(v any) (*Connection, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}

	typeName, _ := m["__typename"].(string)
	_, hasPageInfo := m["pageInfo"]
	_, hasEdges := m["edges"]
	_, hasNodes := m["nodes"]

	isConnection := strings.HasSuffix(typeName, "Connection")
	if !isConnection && typeName != "" {
		return nil, false
	}
	if !isConnection && !(hasPageInfo && (hasEdges || hasNodes)) {
		return nil, false
	}

	conn := &Connection{TypeName: typeName}

	if pi, ok := m["pageInfo"].(map[string]any); ok {
		if hasNext, ok := pi["hasNextPage"].(bool); ok {
			conn.PageInfo.HasNextPage = hasNext
		}
		if end, ok := pi["endCursor"].(string); ok && end != "" {
			conn.PageInfo.EndCursor = &end
		}
	}

	conn.Edges = decodeObjectList(m["edges"])
	conn.Nodes = decodeObjectList(m["nodes"])

	if total, ok := m["totalCount"].(float64); ok {
		n := int(total)
		conn.TotalCount = &n
	}

	return conn, true
}

// Items returns the connection elements in order: edge nodes when edges are
// present (falling back to the edge itself when it has no node), otherwise
// the nodes list.
func (c *Connection) Items() []map[string]any {
	if len(c.Edges) > 0 {
		items := make([]map[string]any, 0, len(c.Edges))
		for _, edge := range c.Edges {
			if node, ok := edge["node"].(map[string]any); ok {
				items = append(items, node)
				continue
			}
			items = append(items, edge)
		}
		return items
	}
	return c.Nodes
}

// NextCursor returns the cursor to request the next page with: the
// pageInfo endCursor when present, otherwise the cursor of the last edge
// that carries one. Returns false when no cursor is available.
func (c *Connection) NextCursor() (string, bool) {
	if c.PageInfo.EndCursor != nil && strings.TrimSpace(*c.PageInfo.EndCursor) != "" {
		return strings.TrimSpace(*c.PageInfo.EndCursor), true
	}
	for i := len(c.Edges) - 1; i >= 0; i-- {
		if cur, ok := c.Edges[i]["cursor"].(string); ok && strings.TrimSpace(cur) != "" {
			return strings.TrimSpace(cur), true
		}
	}
	return "", false
}

// Page converts the connection into a page descriptor for the engine.
func (c *Connection) Page() Page[map[string]any] {
	hasMore := c.PageInfo.HasNextPage
	page := Page[map[string]any]{
		Items:   c.Items(),
		HasMore: &hasMore,
		Total:   c.TotalCount,
	}
	if next, ok := c.NextCursor(); ok {
		page.NextCursor = &next
	}
	return page
}

func decodeObjectList(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, entry := range list {
		if m, ok := entry.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
