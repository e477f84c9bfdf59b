// Package jira provides thin Jira accessors on top of the resilient client:
// REST issue search with offset pagination and GraphQL sprint and worklog
// retrieval with cursor pagination. The structs mirror the raw API shapes;
// callers map them into their own domain models.
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/syncwell/atlassian-go/pkg/client"
	"github.com/syncwell/atlassian-go/pkg/logging"
	"github.com/syncwell/atlassian-go/pkg/pagination"
)

// defaultSearchFields is the field list requested from issue search when the
// caller declares no custom fields.
var defaultSearchFields = []string{
	"project",
	"issuetype",
	"status",
	"created",
	"updated",
	"resolutiondate",
	"assignee",
	"reporter",
	"labels",
	"components",
}

const defaultPageSize = 50

// Config holds the service configuration.
type Config struct {
	// PageSize is the page size requested from the server (default 50).
	PageSize int

	// StoryPointsField is the site-specific custom field carrying story
	// points, e.g. "customfield_10016" (optional).
	StoryPointsField string

	// SprintIDsField is the site-specific custom field carrying sprint ids
	// (optional).
	SprintIDsField string

	// Logger overrides the component logger (optional).
	Logger *zerolog.Logger
}

// Service exposes Jira retrieval operations. Safe for concurrent use.
type Service struct {
	client *client.Client
	config Config
	logger zerolog.Logger
}

// New creates a Service backed by the given client.
func New(c *client.Client, cfg Config) (*Service, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}

	logger := logging.NewLogger("jira")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Service{client: c, config: cfg, logger: logger}, nil
}

// Issue is one raw issue search result.
type Issue struct {
	ID     string         `json:"id"`
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

// searchPage is the wire shape of one /rest/api/3/search response page.
type searchPage struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      *int    `json:"total"`
	Issues     []Issue `json:"issues"`
}

// buildSearchFields returns the field list for issue search: the defaults
// plus any declared custom fields, deduplicated. A custom field that is all
// whitespace is a configuration mistake, not an absent field.
func buildSearchFields(storyPointsField, sprintIDsField string) ([]string, error) {
	fields := make([]string, 0, len(defaultSearchFields)+2)
	fields = append(fields, defaultSearchFields...)
	for _, raw := range []string{storyPointsField, sprintIDsField} {
		if raw == "" {
			continue
		}
		clean := strings.TrimSpace(raw)
		if clean == "" {
			return nil, fmt.Errorf("custom field names must be non-empty when provided")
		}
		already := false
		for _, existing := range fields {
			if existing == clean {
				already = true
				break
			}
		}
		if !already {
			fields = append(fields, clean)
		}
	}
	return fields, nil
}

// SearchIssues runs a JQL search and drains every result page.
func (s *Service) SearchIssues(ctx context.Context, jql string) ([]Issue, error) {
	jqlClean := strings.TrimSpace(jql)
	if jqlClean == "" {
		return nil, fmt.Errorf("jql is required")
	}

	fieldList, err := buildSearchFields(s.config.StoryPointsField, s.config.SprintIDsField)
	if err != nil {
		return nil, err
	}
	fields := strings.Join(fieldList, ",")

	fetch := func(ctx context.Context, cursor pagination.Cursor) (pagination.Page[Issue], error) {
		payload, err := s.client.GetJSON(ctx, "/rest/api/3/search", url.Values{
			"jql":        []string{jqlClean},
			"startAt":    []string{strconv.Itoa(cursor.StartAt())},
			"maxResults": []string{strconv.Itoa(s.config.PageSize)},
			"fields":     []string{fields},
		})
		if err != nil {
			return pagination.Page[Issue]{}, err
		}

		var page searchPage
		if err := json.Unmarshal(payload, &page); err != nil {
			return pagination.Page[Issue]{}, &client.SerializationError{
				Reason: fmt.Sprintf("decode issue search response: %v", err),
			}
		}
		return pagination.Page[Issue]{Items: page.Issues, Total: page.Total}, nil
	}

	return pagination.Collect(pagination.All(ctx, pagination.Config{
		Mode:     pagination.ModeOffset,
		PageSize: s.config.PageSize,
		Logger:   s.logger,
	}, fetch))
}

// Sprint is one raw sprint node.
type Sprint struct {
	SprintID       string
	Name           *string
	State          *string
	StartDate      *string
	EndDate        *string
	CompletionDate *string
}

const sprintByIDQuery = `query JiraSprintById(
  $id: ID!
) {
  sprintById(id: $id) {
    sprintId
    name
    state
    startDate
    endDate
    completionDate
  }
}`

const boardSprintsPageQuery = `query JiraBoardSprintsPage(
  $boardId: ID!,
  $first: Int!,
  $after: String
) {
  boardById(id: $boardId) {
    sprints(first: $first, after: $after) {
      __typename
      pageInfo { hasNextPage endCursor }
      edges {
        cursor
        node { sprintId name state startDate endDate completionDate }
      }
    }
  }
}`

// GetSprint retrieves a single sprint by id.
func (s *Service) GetSprint(ctx context.Context, sprintID string) (*Sprint, error) {
	id := strings.TrimSpace(sprintID)
	if id == "" {
		return nil, fmt.Errorf("sprint id is required")
	}

	result, err := s.client.Execute(ctx, sprintByIDQuery, map[string]any{"id": id}, "JiraSprintById")
	if err != nil {
		return nil, err
	}

	node, ok := result.Data["sprintById"].(map[string]any)
	if !ok {
		return nil, &client.SerializationError{Reason: "missing sprintById in response"}
	}
	sprint, err := sprintFromNode(node)
	if err != nil {
		return nil, err
	}
	return &sprint, nil
}

// ListBoardSprints drains the sprints connection of a board.
func (s *Service) ListBoardSprints(ctx context.Context, boardID string) ([]Sprint, error) {
	board := strings.TrimSpace(boardID)
	if board == "" {
		return nil, fmt.Errorf("board id is required")
	}

	fetch := func(ctx context.Context, cursor pagination.Cursor) (pagination.Page[Sprint], error) {
		vars := map[string]any{"boardId": board, "first": s.config.PageSize}
		if after := cursor.AfterValue(); after != "" {
			vars["after"] = after
		}

		result, err := s.client.Execute(ctx, boardSprintsPageQuery, vars, "JiraBoardSprintsPage")
		if err != nil {
			return pagination.Page[Sprint]{}, err
		}

		boardData, ok := result.Data["boardById"].(map[string]any)
		if !ok {
			return pagination.Page[Sprint]{}, &client.SerializationError{
				Reason: "missing boardById in sprints response",
			}
		}
		conn, ok := pagination.DecodeConnection(boardData["sprints"])
		if !ok {
			return pagination.Page[Sprint]{}, &client.SerializationError{
				Reason: "boardById.sprints is not a connection",
			}
		}
		return convertPage(conn.Page(), sprintFromNode)
	}

	return pagination.Collect(pagination.All(ctx, pagination.Config{
		Mode:     pagination.ModeCursor,
		PageSize: s.config.PageSize,
		Logger:   s.logger,
	}, fetch))
}

// Worklog is one raw worklog node.
type Worklog struct {
	WorklogID        string
	AuthorAccountID  string
	AuthorName       *string
	TimeSpentSeconds int
	Created          *string
	Updated          *string
	StartDate        *string
}

const issueWorklogsPageQuery = `query JiraIssueWorklogsPage(
  $cloudId: ID!,
  $key: String!,
  $first: Int!,
  $after: String
) {
  issue: issueByKey(key: $key, cloudId: $cloudId) {
    worklogs(first: $first, after: $after) {
      pageInfo { hasNextPage endCursor }
      edges {
        cursor
        node {
          worklogId
          author { accountId name }
          timeSpent { timeInSeconds }
          created
          updated
          startDate
        }
      }
    }
  }
}`

// ListIssueWorklogs drains the worklogs connection of an issue. The worklogs
// connection has no endCursor on some sites; the engine then follows the
// cursor of the last edge.
func (s *Service) ListIssueWorklogs(ctx context.Context, cloudID, issueKey string) ([]Worklog, error) {
	cloud := strings.TrimSpace(cloudID)
	if cloud == "" {
		return nil, fmt.Errorf("cloud id is required")
	}
	key := strings.TrimSpace(issueKey)
	if key == "" {
		return nil, fmt.Errorf("issue key is required")
	}

	fetch := func(ctx context.Context, cursor pagination.Cursor) (pagination.Page[Worklog], error) {
		vars := map[string]any{"cloudId": cloud, "key": key, "first": s.config.PageSize}
		if after := cursor.AfterValue(); after != "" {
			vars["after"] = after
		}

		result, err := s.client.Execute(ctx, issueWorklogsPageQuery, vars, "JiraIssueWorklogsPage")
		if err != nil {
			return pagination.Page[Worklog]{}, err
		}

		issue, ok := result.Data["issue"].(map[string]any)
		if !ok {
			return pagination.Page[Worklog]{}, &client.SerializationError{
				Reason: "missing issue in worklogs response",
			}
		}
		conn, ok := pagination.DecodeConnection(issue["worklogs"])
		if !ok {
			return pagination.Page[Worklog]{}, &client.SerializationError{
				Reason: "issue.worklogs is not a connection",
			}
		}
		return convertPage(conn.Page(), worklogFromNode)
	}

	return pagination.Collect(pagination.All(ctx, pagination.Config{
		Mode:     pagination.ModeCursor,
		PageSize: s.config.PageSize,
		Logger:   s.logger,
	}, fetch))
}

// convertPage maps a raw connection page into typed items, preserving the
// completion signals.
func convertPage[T any](raw pagination.Page[map[string]any], mapNode func(map[string]any) (T, error)) (pagination.Page[T], error) {
	page := pagination.Page[T]{
		HasMore:    raw.HasMore,
		NextCursor: raw.NextCursor,
		Total:      raw.Total,
	}
	for _, node := range raw.Items {
		item, err := mapNode(node)
		if err != nil {
			return pagination.Page[T]{}, err
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func sprintFromNode(node map[string]any) (Sprint, error) {
	id, ok := node["sprintId"].(string)
	if !ok || id == "" {
		return Sprint{}, &client.SerializationError{Reason: "sprint node has no sprintId"}
	}
	return Sprint{
		SprintID:       id,
		Name:           optString(node, "name"),
		State:          optString(node, "state"),
		StartDate:      optString(node, "startDate"),
		EndDate:        optString(node, "endDate"),
		CompletionDate: optString(node, "completionDate"),
	}, nil
}

func worklogFromNode(node map[string]any) (Worklog, error) {
	id, ok := node["worklogId"].(string)
	if !ok || id == "" {
		return Worklog{}, &client.SerializationError{Reason: "worklog node has no worklogId"}
	}

	w := Worklog{
		WorklogID: id,
		Created:   optString(node, "created"),
		Updated:   optString(node, "updated"),
		StartDate: optString(node, "startDate"),
	}
	if author, ok := node["author"].(map[string]any); ok {
		if accountID, ok := author["accountId"].(string); ok {
			w.AuthorAccountID = accountID
		}
		w.AuthorName = optString(author, "name")
	}
	if spent, ok := node["timeSpent"].(map[string]any); ok {
		if seconds, ok := spent["timeInSeconds"].(float64); ok {
			w.TimeSpentSeconds = int(seconds)
		}
	}
	return w, nil
}

func optString(m map[string]any, key string) *string {
	if s, ok := m[key].(string); ok && s != "" {
		return &s
	}
	return nil
}
