// Package model defines the core domain types shared across the pipeline.
package model

import (
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Campaign is a named lead-generation effort. Its query set is stored as the
// raw uploaded YAML blob and parsed on demand; a campaign is treated as
// immutable once a run starts reading it.
type Campaign struct {
	ID                  string    `json:"id" db:"id"`
	Name                string    `json:"name" db:"name"`
	QueriesBlob         string    `json:"-" db:"queries_blob"`
	QueriesCount        int       `json:"queries_count" db:"queries_count"`
	QueriesConfirmed    bool      `json:"queries_confirmed" db:"queries_confirmed"`
	MaxResultsPerSearch int       `json:"max_results_per_search" db:"max_results_per_search"`
	MaxTotalRequests    int       `json:"max_total_requests" db:"max_total_requests"`
	ScrapingEnabled     bool      `json:"scraping_enabled" db:"scraping_enabled"`
	ScoringEnabled      bool      `json:"scoring_enabled" db:"scoring_enabled"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// querySet is the on-disk shape of an uploaded query blob.
type querySet struct {
	Queries []string `yaml:"queries"`
}

// Queries parses the campaign's YAML query blob. Blank entries are dropped.
func (c *Campaign) Queries() ([]string, error) {
	if c.QueriesBlob == "" {
		return nil, nil
	}
	var qs querySet
	if err := yaml.Unmarshal([]byte(c.QueriesBlob), &qs); err != nil {
		return nil, eris.Wrapf(err, "model: parse query blob for campaign %s", c.ID)
	}
	out := make([]string, 0, len(qs.Queries))
	for _, q := range qs.Queries {
		if q != "" {
			out = append(out, q)
		}
	}
	return out, nil
}

// EncodeQueries serializes a query list into the YAML blob format used by
// campaign uploads.
func EncodeQueries(queries []string) (string, error) {
	b, err := yaml.Marshal(querySet{Queries: queries})
	if err != nil {
		return "", eris.Wrap(err, "model: encode queries")
	}
	return string(b), nil
}

// Ready reports whether the campaign can be run: a confirmed, non-empty
// query set.
func (c *Campaign) Ready() bool {
	return c.QueriesConfirmed && c.QueriesCount > 0
}
