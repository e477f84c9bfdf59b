// Package pagination drains multi-page Atlassian resources into a single
// ordered, lazy sequence while guaranteeing termination. Both pagination
// styles of the API family are supported: opaque forward-only cursors
// (GraphQL connections) and numeric start offsets (REST pages).
//
// Servers occasionally return inconsistent completion signals, so the
// engine evaluates several independent signals in a fixed priority order
// and hard-stops instead of looping when the server echoes a cursor or
// offset it has already served.
package pagination

import (
	"context"
	"fmt"
	"iter"

	"github.com/rs/zerolog"

	"github.com/syncwell/atlassian-go/pkg/client"
)

// Mode selects the pagination style of a resource.
type Mode int

const (
	// ModeCursor pages with opaque forward-only cursors.
	ModeCursor Mode = iota

	// ModeOffset pages with numeric start offsets.
	ModeOffset
)

// Cursor identifies a position in a paged resource: an opaque cursor for
// connection-style resources or a start offset for REST pages.
type Cursor struct {
	mode   Mode
	after  string
	offset int
}

// First returns the initial cursor for the given mode: an empty cursor or
// offset zero.
func First(mode Mode) Cursor {
	return Cursor{mode: mode}
}

// After returns an opaque cursor positioned after the given value.
func After(after string) Cursor {
	return Cursor{mode: ModeCursor, after: after}
}

// Offset returns a numeric start-offset cursor.
func Offset(startAt int) Cursor {
	return Cursor{mode: ModeOffset, offset: startAt}
}

// AfterValue returns the opaque cursor value; empty for the initial cursor.
func (c Cursor) AfterValue() string { return c.after }

// StartAt returns the numeric start offset.
func (c Cursor) StartAt() int { return c.offset }

// key is the seen-set identity of the cursor within one pagination run.
func (c Cursor) key() string {
	if c.mode == ModeOffset {
		return fmt.Sprintf("offset:%d", c.offset)
	}
	return "after:" + c.after
}

// Page describes one fetched page. HasMore is a pointer because the server
// may omit the completion flag entirely; nil means unknown, which never
// counts as an explicit signal.
type Page[T any] struct {
	// Items are the page elements, in server order.
	Items []T

	// HasMore declares whether more pages exist (nil = not declared).
	HasMore *bool

	// NextCursor is the opaque cursor of the next page, for cursor-based
	// resources.
	NextCursor *string

	// Total is the declared total item count, when the server reports one.
	Total *int
}

// FetchFunc retrieves one page at the given cursor. Each call is exactly
// one transport-mediated network call.
type FetchFunc[T any] func(ctx context.Context, cursor Cursor) (Page[T], error)

// Config holds pagination engine configuration.
type Config struct {
	// Mode selects cursor or offset pagination.
	Mode Mode

	// PageSize is the page size requested from the server; pages shorter
	// than this may end the run when no explicit signal exists.
	PageSize int

	// Logger is the engine logger (optional).
	Logger zerolog.Logger
}

// engine states. Fetching and Draining alternate until a terminal decision
// moves the run to Done or Failed.
type state int

const (
	stateFetching state = iota
	stateDraining
	stateDone
	stateFailed
)

// decision is the outcome of evaluating a drained page against the
// termination table.
type decision int

const (
	decideDone decision = iota
	decideContinue
	decideFail
)

// evaluate applies the priority-ordered termination table to a drained
// page and returns the next cursor when the run continues.
//
//  1. Explicitly declared completion ends the run.
//  2. A declared total that has been reached ends the run.
//  3. An empty page ends the run, unless more results were explicitly
//     claimed, which is a protocol violation.
//  4. A short page ends the run when no explicit or total signal exists.
//  5. Otherwise the run continues at the next cursor.
func evaluate[T any](cfg Config, current Cursor, page Page[T], itemsBefore int) (Cursor, decision, string) {
	if page.HasMore != nil && !*page.HasMore {
		return Cursor{}, decideDone, ""
	}

	if page.Total != nil && itemsBefore+len(page.Items) >= *page.Total {
		return Cursor{}, decideDone, ""
	}

	if len(page.Items) == 0 {
		if page.HasMore != nil && *page.HasMore {
			return Cursor{}, decideFail, "empty page but more results claimed"
		}
		return Cursor{}, decideDone, ""
	}

	if page.HasMore == nil && page.Total == nil && cfg.PageSize > 0 && len(page.Items) < cfg.PageSize {
		return Cursor{}, decideDone, ""
	}

	switch cfg.Mode {
	case ModeOffset:
		return Offset(current.StartAt() + len(page.Items)), decideContinue, ""
	default:
		if page.NextCursor == nil || *page.NextCursor == "" {
			return Cursor{}, decideFail, "pagination cursor missing but more results claimed"
		}
		return After(*page.NextCursor), decideContinue, ""
	}
}

// All drains the resource into a lazy item sequence. The sequence is
// finite, forward-only, and not restartable: iterating a second time
// re-fetches from the start. A protocol violation (inconsistent completion
// signals or a repeated cursor) surfaces as a *client.SerializationError.
func All[T any](ctx context.Context, cfg Config, fetch FetchFunc[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		cursor := First(cfg.Mode)
		seen := map[string]struct{}{cursor.key(): {}}
		itemsSoFar := 0
		pages := 0

		st := stateFetching
		for st == stateFetching {
			page, err := fetch(ctx, cursor)
			if err != nil {
				yield(zero, err)
				return
			}
			pages++

			st = stateDraining
			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}

			next, verdict, reason := evaluate(cfg, cursor, page, itemsSoFar)
			itemsSoFar += len(page.Items)

			switch verdict {
			case decideDone:
				st = stateDone
			case decideFail:
				st = stateFailed
				yield(zero, &client.SerializationError{Reason: reason})
				return
			case decideContinue:
				if _, dup := seen[next.key()]; dup {
					st = stateFailed
					yield(zero, &client.SerializationError{
						Reason: "pagination cursor repeated; aborting to prevent infinite loop",
					})
					return
				}
				seen[next.key()] = struct{}{}
				cursor = next
				st = stateFetching
			}
		}

		cfg.Logger.Debug().
			Int("pages", pages).
			Int("items", itemsSoFar).
			Msg("Pagination run complete")
	}
}

// Collect drains the sequence into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}
