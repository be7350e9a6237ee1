package score

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/pkg/anthropic"
)

// fakeAI returns canned model responses and records requests.
type fakeAI struct {
	responses []string
	errs      []error
	calls     int
	lastReq   anthropic.MessageRequest
}

func (f *fakeAI) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	i := f.calls
	f.calls++
	f.lastReq = req
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	text := ""
	if i < len(f.responses) {
		text = f.responses[i]
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}, nil
}

func testLead() *model.Lead {
	content := "Full service plumbing for residential and commercial clients."
	return &model.Lead{
		ID:             "l1",
		CampaignID:     "c1",
		Name:           "Joe's Plumbing",
		Phone:          "(512) 555-0100",
		Website:        "https://joes.example",
		City:           "Austin",
		State:          "TX",
		Rating:         4.7,
		ScrapedContent: &content,
	}
}

func TestScoreLead_ParsesVerdict(t *testing.T) {
	ai := &fakeAI{responses: []string{`{"score": 85, "notes": "established business, strong contact signals"}`}}
	s := NewScorer(ai, "claude-haiku-4-5-20251001", 0)

	scoreVal, notes, err := s.ScoreLead(context.Background(), testLead())
	require.NoError(t, err)
	assert.Equal(t, 85, scoreVal)
	assert.Equal(t, "established business, strong contact signals", notes)
}

func TestScoreLead_JSONWrappedInProse(t *testing.T) {
	ai := &fakeAI{responses: []string{"Here is my assessment:\n{\"score\": 40, \"notes\": \"thin web presence\"}\nLet me know if you need more."}}
	s := NewScorer(ai, "claude-haiku-4-5-20251001", 0)

	scoreVal, notes, err := s.ScoreLead(context.Background(), testLead())
	require.NoError(t, err)
	assert.Equal(t, 40, scoreVal)
	assert.Equal(t, "thin web presence", notes)
}

func TestScoreLead_ClampsOutOfRange(t *testing.T) {
	for _, tt := range []struct {
		raw  string
		want int
	}{
		{`{"score": 150, "notes": "over"}`, 100},
		{`{"score": -20, "notes": "under"}`, 0},
	} {
		ai := &fakeAI{responses: []string{tt.raw}}
		s := NewScorer(ai, "claude-haiku-4-5-20251001", 0)
		scoreVal, _, err := s.ScoreLead(context.Background(), testLead())
		require.NoError(t, err)
		assert.Equal(t, tt.want, scoreVal)
	}
}

func TestScoreLead_NoJSONInResponse(t *testing.T) {
	ai := &fakeAI{responses: []string{"I cannot score this business."}}
	s := NewScorer(ai, "claude-haiku-4-5-20251001", 0)

	_, _, err := s.ScoreLead(context.Background(), testLead())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON")
}

func TestScoreLead_ModelErrorPropagates(t *testing.T) {
	ai := &fakeAI{errs: []error{eris.New("overloaded")}}
	s := NewScorer(ai, "claude-haiku-4-5-20251001", 0)

	_, _, err := s.ScoreLead(context.Background(), testLead())
	assert.Error(t, err)
}

func TestScoreLead_RequestShape(t *testing.T) {
	ai := &fakeAI{responses: []string{`{"score": 50, "notes": "ok"}`}}
	s := NewScorer(ai, "claude-haiku-4-5-20251001", 512)

	_, _, err := s.ScoreLead(context.Background(), testLead())
	require.NoError(t, err)

	assert.Equal(t, "claude-haiku-4-5-20251001", ai.lastReq.Model)
	assert.EqualValues(t, 512, ai.lastReq.MaxTokens)
	require.NotEmpty(t, ai.lastReq.System, "rubric sent as cached system block")
	require.Len(t, ai.lastReq.Messages, 1)

	user := ai.lastReq.Messages[0].Content
	assert.Contains(t, user, "Joe's Plumbing")
	assert.Contains(t, user, "Austin, TX")
	assert.Contains(t, user, "Full service plumbing")
}

func TestBuildUserMessage_NoContent(t *testing.T) {
	lead := testLead()
	lead.ScrapedContent = nil
	msg := buildUserMessage(lead)
	assert.Contains(t, msg, "No website content available")
	assert.Contains(t, msg, "(512) 555-0100")
}
