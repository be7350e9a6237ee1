package model

import "time"

// Lead is a prospective business discovered by a campaign run. PlaceID is
// the external dedup key: globally unique, a second ingestion of the same
// place is counted as a duplicate and never inserted twice.
type Lead struct {
	ID            string    `json:"id" db:"id"`
	PlaceID       string    `json:"place_id" db:"place_id"`
	CampaignID    string    `json:"campaign_id" db:"campaign_id"`
	CampaignRunID string    `json:"campaign_run_id" db:"campaign_run_id"`
	Name          string    `json:"name" db:"name"`
	Phone         string    `json:"phone,omitempty" db:"phone"`
	Website       string    `json:"website,omitempty" db:"website"`
	Rating        float64   `json:"rating,omitempty" db:"rating"`
	City          string    `json:"city,omitempty" db:"city"`
	State         string    `json:"state,omitempty" db:"state"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`

	// Written by the scrape stage.
	ScrapedContent *string    `json:"scraped_content,omitempty" db:"scraped_content"`
	ScrapedAt      *time.Time `json:"scraped_at,omitempty" db:"scraped_at"`

	// Written by the scoring stage in a single all-or-nothing update.
	QualificationScore *int    `json:"qualification_score,omitempty" db:"qualification_score"`
	QualificationNotes *string `json:"qualification_notes,omitempty" db:"qualification_notes"`
}

// Scraped reports whether the lead already has scraped content.
func (l *Lead) Scraped() bool {
	return l.ScrapedContent != nil && l.ScrapedAt != nil
}

// Scored reports whether the lead has been qualified.
func (l *Lead) Scored() bool {
	return l.QualificationScore != nil
}
