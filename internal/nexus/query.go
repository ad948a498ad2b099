package nexus

import (
	"context"
	"fmt"
	"time"
)

// Op is a filter comparison operator accepted by the bulk query endpoint.
type Op string

// Supported comparison operators.
const (
	OpEquals   Op = "EQUALS"
	OpWildcard Op = "WILDCARD"
	OpGT       Op = "GT"
	OpGTE      Op = "GTE"
	OpLT       Op = "LT"
	OpLTE      Op = "LTE"
)

// Criterion is one field/operator/value triple of a filter expression.
type Criterion struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value string `json:"value"`
}

// Filter combines criteria. And and Or are mutually exclusive; an empty
// filter matches everything.
type Filter struct {
	And []Criterion `json:"and,omitempty"`
	Or  []Criterion `json:"or,omitempty"`
}

// Direction orders bulk query results.
type Direction string

// Sort directions.
const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// Sort is the sort expression of a bulk query.
type Sort struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// pageLimit is the hard per-request row cap of the bulk query endpoint.
const pageLimit = 50

type queryRequest struct {
	Filter Filter `json:"filter"`
	Sort   Sort   `json:"sort"`
	Offset int    `json:"offset"`
	Count  int    `json:"count"`
}

type modPage struct {
	Nodes      []Mod `json:"nodes"`
	TotalCount int   `json:"totalCount"`
}

type collectionPage struct {
	Nodes      []Collection `json:"nodes"`
	TotalCount int          `json:"totalCount"`
}

// QueryMods runs a bulk mod query, following offset pagination until the
// full result set is fetched.
func (c *Client) QueryMods(ctx context.Context, f Filter, s Sort) ([]Mod, error) {
	var all []Mod
	for offset := 0; ; offset += pageLimit {
		var page modPage
		if err := c.post(ctx, "/v2/mods", queryRequest{Filter: f, Sort: s, Offset: offset, Count: pageLimit}, &page); err != nil {
			return nil, fmt.Errorf("query mods: %w", err)
		}
		all = append(all, page.Nodes...)
		if len(all) >= page.TotalCount || len(page.Nodes) == 0 {
			return all, nil
		}
	}
}

// QueryCollections runs a bulk collection query with pagination.
func (c *Client) QueryCollections(ctx context.Context, f Filter, s Sort) ([]Collection, error) {
	var all []Collection
	for offset := 0; ; offset += pageLimit {
		var page collectionPage
		if err := c.post(ctx, "/v2/collections", queryRequest{Filter: f, Sort: s, Offset: offset, Count: pageLimit}, &page); err != nil {
			return nil, fmt.Errorf("query collections: %w", err)
		}
		all = append(all, page.Nodes...)
		if len(all) >= page.TotalCount || len(page.Nodes) == 0 {
			return all, nil
		}
	}
}

const filterTimeLayout = "2006-01-02T15:04:05Z"

func timeValue(t time.Time) string {
	return t.UTC().Format(filterTimeLayout)
}

// NewMods returns mods of a game created strictly after since, oldest
// first.
func (c *Client) NewMods(ctx context.Context, domain string, since time.Time) ([]Mod, error) {
	return c.QueryMods(ctx, Filter{And: []Criterion{
		{Field: "gameDomain", Op: OpEquals, Value: domain},
		{Field: "createdAt", Op: OpGT, Value: timeValue(since)},
	}}, Sort{Field: "createdAt", Direction: Ascending})
}

// UpdatedMods returns mods of a game whose files changed strictly after
// since, excluding mods that were only just created, oldest first.
func (c *Client) UpdatedMods(ctx context.Context, domain string, since time.Time) ([]Mod, error) {
	return c.QueryMods(ctx, Filter{And: []Criterion{
		{Field: "gameDomain", Op: OpEquals, Value: domain},
		{Field: "updatedAt", Op: OpGT, Value: timeValue(since)},
		{Field: "hasUpdated", Op: OpEquals, Value: "true"},
	}}, Sort{Field: "updatedAt", Direction: Ascending})
}

// UserMods returns mods uploaded or updated by one author strictly after
// since, oldest first.
func (c *Client) UserMods(ctx context.Context, uploaderID string, since time.Time) ([]Mod, error) {
	return c.QueryMods(ctx, Filter{And: []Criterion{
		{Field: "uploaderId", Op: OpEquals, Value: uploaderID},
		{Field: "updatedAt", Op: OpGT, Value: timeValue(since)},
	}}, Sort{Field: "updatedAt", Direction: Ascending})
}

// CollectionByID returns a single collection, or nil when it does not
// exist.
func (c *Client) CollectionByID(ctx context.Context, id string) (*Collection, error) {
	cols, err := c.QueryCollections(ctx, Filter{And: []Criterion{
		{Field: "id", Op: OpEquals, Value: id},
	}}, Sort{Field: "updatedAt", Direction: Descending})
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}
	return &cols[0], nil
}
