package model

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Queue names for the two pipeline stages. Each has a paired dead-letter
// queue managed by the broker.
const (
	QueueScrape = "scrape-requests"
	QueueScore  = "score-requests"
)

// ScrapeMessage requests enrichment of a single lead. Delivery is
// at-least-once; consumers must be idempotent per LeadID.
type ScrapeMessage struct {
	LeadID     string `json:"leadId"`
	CampaignID string `json:"campaignId"`
}

// ScoreMessage requests qualification scoring of a single lead.
type ScoreMessage struct {
	LeadID     string `json:"leadId"`
	CampaignID string `json:"campaignId"`
}

// EncodeMessage marshals a queue payload to its wire form.
func EncodeMessage(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "model: encode queue message")
	}
	return b, nil
}

// DecodeScrapeMessage parses a scrape-queue payload.
func DecodeScrapeMessage(data []byte) (ScrapeMessage, error) {
	var m ScrapeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ScrapeMessage{}, eris.Wrap(err, "model: decode scrape message")
	}
	if m.LeadID == "" {
		return ScrapeMessage{}, eris.New("model: scrape message missing leadId")
	}
	return m, nil
}

// DecodeScoreMessage parses a score-queue payload.
func DecodeScoreMessage(data []byte) (ScoreMessage, error) {
	var m ScoreMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ScoreMessage{}, eris.Wrap(err, "model: decode score message")
	}
	if m.LeadID == "" {
		return ScoreMessage{}, eris.New("model: score message missing leadId")
	}
	return m, nil
}
