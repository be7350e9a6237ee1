package score

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/dispatch"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/queue"
	"github.com/sells-group/leadflow/internal/resilience"
	"github.com/sells-group/leadflow/internal/store"
)

// qualStore fakes the lead read and the qualification write.
type qualStore struct {
	store.Store

	lead *model.Lead

	updates      int
	updatedScore int
	updatedNotes string
}

func (s *qualStore) GetLead(_ context.Context, id string) (*model.Lead, error) {
	if s.lead == nil || s.lead.ID != id {
		return nil, store.ErrNotFound
	}
	cp := *s.lead
	return &cp, nil
}

func (s *qualStore) UpdateQualification(_ context.Context, _ string, score int, notes string) error {
	s.updates++
	s.updatedScore = score
	s.updatedNotes = notes
	return nil
}

func scoreMsg(t *testing.T, leadID string) queue.Message {
	t.Helper()
	body, err := model.EncodeMessage(model.ScoreMessage{LeadID: leadID, CampaignID: "c1"})
	require.NoError(t, err)
	return queue.Message{ID: "m1", Queue: model.QueueScore, Body: body}
}

func fastScoreConfig() TaskConfig {
	return TaskConfig{
		RatePerSecond: 10000,
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
	}
}

func TestTaskHandle_ScoresAndWritesOnce(t *testing.T) {
	ai := &fakeAI{responses: []string{`{"score": 72, "notes": "good fit"}`}}
	st := &qualStore{lead: testLead()}

	task := NewTask(st, NewScorer(ai, "claude-haiku-4-5-20251001", 0), fastScoreConfig())
	require.NoError(t, task.Handle(context.Background(), scoreMsg(t, "l1")))

	assert.Equal(t, 1, st.updates, "score and notes land in one update")
	assert.Equal(t, 72, st.updatedScore)
	assert.Equal(t, "good fit", st.updatedNotes)
}

func TestTaskHandle_TransientModelErrorRetried(t *testing.T) {
	ai := &fakeAI{
		errs:      []error{resilience.NewTransientError(eris.New("overloaded"), 529), nil},
		responses: []string{"", `{"score": 60, "notes": "retried"}`},
	}
	st := &qualStore{lead: testLead()}

	task := NewTask(st, NewScorer(ai, "claude-haiku-4-5-20251001", 0), fastScoreConfig())
	require.NoError(t, task.Handle(context.Background(), scoreMsg(t, "l1")))

	assert.Equal(t, 2, ai.calls)
	assert.Equal(t, 60, st.updatedScore)
}

func TestTaskHandle_PermanentModelErrorNacks(t *testing.T) {
	ai := &fakeAI{errs: []error{eris.New("invalid model id")}}
	st := &qualStore{lead: testLead()}

	task := NewTask(st, NewScorer(ai, "claude-haiku-4-5-20251001", 0), fastScoreConfig())
	err := task.Handle(context.Background(), scoreMsg(t, "l1"))

	require.Error(t, err)
	assert.NotErrorIs(t, err, dispatch.ErrDrop)
	assert.Equal(t, 1, ai.calls, "permanent errors are not retried")
	assert.Zero(t, st.updates)
}

func TestTaskHandle_LeadGoneDropped(t *testing.T) {
	task := NewTask(&qualStore{}, NewScorer(&fakeAI{}, "m", 0), fastScoreConfig())
	err := task.Handle(context.Background(), scoreMsg(t, "gone"))
	assert.ErrorIs(t, err, dispatch.ErrDrop)
}

func TestTaskHandle_BadPayloadDropped(t *testing.T) {
	task := NewTask(&qualStore{}, NewScorer(&fakeAI{}, "m", 0), fastScoreConfig())
	err := task.Handle(context.Background(), queue.Message{ID: "m1", Body: []byte(`{`)})
	assert.ErrorIs(t, err, dispatch.ErrDrop)
}
