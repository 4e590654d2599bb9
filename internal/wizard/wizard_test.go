package wizard

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moodlog/api/internal/apierr"
	"moodlog/api/internal/i18n"
	"moodlog/api/internal/normalize"
	"moodlog/api/internal/templates"
)

type gatewayCall struct {
	Method string
	Args   []any
}

type recordingGateway struct {
	calls       []gatewayCall
	createdID   string
	createErr   error
	patchErr    error
	putErr      error
	deleteErr   error
	emotionsErr error
	event       map[string]any
	getErr      error
}

func (g *recordingGateway) record(method string, args ...any) {
	g.calls = append(g.calls, gatewayCall{Method: method, Args: args})
}

func (g *recordingGateway) CreateBasicEvent(_ context.Context, body map[string]any) (string, error) {
	g.record("CreateBasicEvent", body)
	return g.createdID, g.createErr
}

func (g *recordingGateway) GetEvent(_ context.Context, eventID string) (map[string]any, error) {
	g.record("GetEvent", eventID)
	return g.event, g.getErr
}

func (g *recordingGateway) PatchEvent(_ context.Context, eventID string, patch map[string]any) error {
	g.record("PatchEvent", eventID, patch)
	return g.patchErr
}

func (g *recordingGateway) PutResponse(_ context.Context, eventID, questionID, value string) error {
	g.record("PutResponse", eventID, questionID, value)
	return g.putErr
}

func (g *recordingGateway) DeleteResponse(_ context.Context, eventID, questionID string) error {
	g.record("DeleteResponse", eventID, questionID)
	return g.deleteErr
}

func (g *recordingGateway) ReplaceEmotionMappings(_ context.Context, eventID string, emotions []normalize.EmotionMapping) error {
	g.record("ReplaceEmotionMappings", eventID, emotions)
	return g.emotionsErr
}

func (g *recordingGateway) ReplaceAssociationMappings(_ context.Context, eventID string, associations []normalize.AssociationMapping) error {
	g.record("ReplaceAssociationMappings", eventID, associations)
	return nil
}

const testCatalog = `
templates:
  - name: checkin
    model_properties:
      valence: "2"
      time: " 08:00 "
      name: "  Morning  "
      description: "   "
    template:
      - type: property
        property: date
      - type: property
        property: time
      - type: question
        entity_id: q1
      - type: model
        model: emotion_mapping
      - type: model
        model: association_mapping
  - name: odd
    template:
      - type: question
      - type: model
        model: weather_mapping
`

func newTestController(t *testing.T, gw Gateway) *Controller {
	t.Helper()
	catalog, err := templates.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	return NewController(templates.NewResolver(catalog, nil, nil), gw, nil)
}

func translator(t *testing.T) i18n.Translate {
	t.Helper()
	bundle, err := i18n.Load("en")
	require.NoError(t, err)
	return bundle.Translator("en")
}

func requireFailure(t *testing.T, err error) *StepFailure {
	t.Helper()
	var failure *StepFailure
	require.True(t, errors.As(err, &failure), "expected StepFailure, got %v", err)
	return failure
}

func TestQuestionStepWithoutEventFails(t *testing.T) {
	gw := &recordingGateway{}
	c := newTestController(t, gw)

	_, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "2", Value: "fine"}, translator(t))

	failure := requireFailure(t, err)
	assert.Equal(t, http.StatusBadRequest, failure.Status)
	assert.Equal(t, "Event not found. Start from the first step.", failure.Message)
	assert.Nil(t, failure.EventID)
	require.NotNil(t, failure.QuestionValue)
	assert.Equal(t, "fine", *failure.QuestionValue)
	assert.Empty(t, gw.calls)
}

func TestModelStepWithoutEventFails(t *testing.T) {
	gw := &recordingGateway{}
	c := newTestController(t, gw)

	_, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "3", Mapping: ` [] `}, translator(t))

	failure := requireFailure(t, err)
	assert.Equal(t, http.StatusBadRequest, failure.Status)
	assert.Equal(t, "[]", *failure.MappingValue)
	assert.Empty(t, gw.calls)
}

func TestPropertyStepRequiresDateFirst(t *testing.T) {
	gw := &recordingGateway{createdID: "evt-1"}
	c := newTestController(t, gw)

	_, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "1", Value: "10:00"}, translator(t))
	failure := requireFailure(t, err)
	assert.Equal(t, http.StatusBadRequest, failure.Status)
	assert.Equal(t, "Please provide the event date before continuing.", failure.Message)
	assert.Equal(t, "10:00", *failure.PropertyValue)
	assert.Empty(t, gw.calls)

	_, err = c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "0", Value: "   "}, translator(t))
	failure = requireFailure(t, err)
	assert.Equal(t, "Date is required to create the event.", failure.Message)
	assert.Empty(t, gw.calls)
}

func TestDateStepCreatesEventWithTemplateDefaults(t *testing.T) {
	gw := &recordingGateway{createdID: " evt-1 "}
	c := newTestController(t, gw)

	outcome, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "0", Value: " 2024-01-15 "}, translator(t))
	require.NoError(t, err)

	assert.Equal(t, "evt-1", outcome.EventID)
	assert.Equal(t, "/create/checkin/step/1?event=evt-1", outcome.Redirect)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "CreateBasicEvent", gw.calls[0].Method)
	assert.Equal(t, map[string]any{
		"occurrence_date": "2024-01-15",
		"occurrence_time": "08:00",
		"kind":            "moment",
		"valence":         2,
		"name":            "Morning",
	}, gw.calls[0].Args[0])
}

func TestDateStepCreateFailureKeepsStatusAndMessage(t *testing.T) {
	gw := &recordingGateway{createErr: apierr.Backend("Unable to create event", errors.New("insert failed"), true)}
	c := newTestController(t, gw)

	_, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "0", Value: "2024-01-15"}, translator(t))

	failure := requireFailure(t, err)
	assert.Equal(t, http.StatusForbidden, failure.Status)
	assert.Equal(t, "Unable to create event", failure.Message)
	assert.Equal(t, "2024-01-15", *failure.PropertyValue)
}

func TestCreateReturningBlankIDFails(t *testing.T) {
	c := newTestController(t, &recordingGateway{createdID: "  "})

	_, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "0", Value: "2024-01-15"}, translator(t))

	failure := requireFailure(t, err)
	assert.Equal(t, http.StatusInternalServerError, failure.Status)
	assert.Equal(t, "Event creation failed. Please try again.", failure.Message)
}

func TestPropertyStepPatchesExistingEvent(t *testing.T) {
	gw := &recordingGateway{}
	c := newTestController(t, gw)

	outcome, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "1", EventQuery: "evt-9", Value: " "}, translator(t))
	require.NoError(t, err)

	assert.Equal(t, "/create/checkin/step/2?event=evt-9", outcome.Redirect)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, gatewayCall{Method: "PatchEvent", Args: []any{"evt-9", map[string]any{"occurrence_time": nil}}}, gw.calls[0])
}

func TestPatchFailureWithoutMessageUsesFallback(t *testing.T) {
	gw := &recordingGateway{patchErr: apierr.New(apierr.KindUpstream, http.StatusBadGateway, "", nil)}
	c := newTestController(t, gw)

	_, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "0", EventID: "evt-9", Value: "2024-02-02"}, translator(t))

	failure := requireFailure(t, err)
	assert.Equal(t, http.StatusBadGateway, failure.Status)
	assert.Equal(t, "Unable to save property. Please try again.", failure.Message)
	assert.Equal(t, "evt-9", *failure.EventID)
}

func TestUntypedGatewayErrorIsUnexpected(t *testing.T) {
	gw := &recordingGateway{putErr: context.DeadlineExceeded}
	c := newTestController(t, gw)

	_, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "2", EventID: "evt-9", Value: "ok"}, translator(t))

	failure := requireFailure(t, err)
	assert.Equal(t, http.StatusInternalServerError, failure.Status)
	assert.Equal(t, "Unexpected error while saving. Please try again.", failure.Message)
}

func TestQuestionStepSavesOrClearsResponse(t *testing.T) {
	gw := &recordingGateway{}
	c := newTestController(t, gw)

	_, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "2", EventID: "evt-1", Value: "  slept well "}, translator(t))
	require.NoError(t, err)
	assert.Equal(t, gatewayCall{Method: "PutResponse", Args: []any{"evt-1", "q1", "slept well"}}, gw.calls[0])

	gw.deleteErr = apierr.NotFound("Response not found")
	outcome, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "2", EventID: "evt-1", Value: "  "}, translator(t))
	require.NoError(t, err)
	assert.Equal(t, gatewayCall{Method: "DeleteResponse", Args: []any{"evt-1", "q1"}}, gw.calls[1])
	assert.Equal(t, "/create/checkin/step/3?event=evt-1", outcome.Redirect)

	gw.deleteErr = apierr.Backend("Unable to delete response", errors.New("denied"), true)
	_, err = c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "2", EventID: "evt-1"}, translator(t))
	failure := requireFailure(t, err)
	assert.Equal(t, http.StatusForbidden, failure.Status)
	assert.Equal(t, "Unable to delete response", failure.Message)
}

func TestMisconfiguredSteps(t *testing.T) {
	gw := &recordingGateway{}
	c := newTestController(t, gw)

	_, err := c.Submit(context.Background(), Submission{Template: "odd", StepIndex: "0", EventID: "evt-1"}, translator(t))
	assert.Equal(t, "Question step misconfigured.", requireFailure(t, err).Message)

	_, err = c.Submit(context.Background(), Submission{Template: "odd", StepIndex: "1", EventID: "evt-1", Mapping: "[]"}, translator(t))
	failure := requireFailure(t, err)
	assert.Equal(t, http.StatusBadRequest, failure.Status)
	assert.Equal(t, "Unsupported model step.", failure.Message)
	assert.Empty(t, gw.calls)
}

func TestModelStepReplacesMappings(t *testing.T) {
	gw := &recordingGateway{}
	c := newTestController(t, gw)

	mapping := `[{"id":"joy","kind":"intensity","value":5},{"id":"calm","kind":"selection"},{"id":"joy","kind":"intensity","value":"-2"}]`
	_, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "3", EventID: "evt-1", Mapping: mapping}, translator(t))
	require.NoError(t, err)

	minusTwo := -2
	assert.Equal(t, gatewayCall{Method: "ReplaceEmotionMappings", Args: []any{"evt-1", []normalize.EmotionMapping{
		{EmotionID: "joy", Valence: &minusTwo},
		{EmotionID: "calm"},
	}}}, gw.calls[0])

	_, err = c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "4", EventID: "evt-1", Mapping: `[{"id":"work","kind":"selection"}]`}, translator(t))
	require.NoError(t, err)
	assert.Equal(t, gatewayCall{Method: "ReplaceAssociationMappings", Args: []any{"evt-1", []normalize.AssociationMapping{
		{AssociationID: "work"},
	}}}, gw.calls[1])
}

func TestModelStepFailureEchoesMapping(t *testing.T) {
	gw := &recordingGateway{emotionsErr: apierr.NotFound("Event not found")}
	c := newTestController(t, gw)

	_, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "3", EventID: "evt-1", Mapping: ` [{"id":"joy","kind":"selection"}] `}, translator(t))

	failure := requireFailure(t, err)
	assert.Equal(t, http.StatusNotFound, failure.Status)
	assert.Equal(t, "Event not found", failure.Message)
	assert.Equal(t, `[{"id":"joy","kind":"selection"}]`, *failure.MappingValue)
}

func TestLastStepRedirectsToEvent(t *testing.T) {
	c := newTestController(t, &recordingGateway{})

	outcome, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "4", EventID: "evt-1", Intent: "next", Mapping: "[]"}, translator(t))
	require.NoError(t, err)

	assert.Equal(t, "/events/evt-1", outcome.Redirect)
	assert.False(t, outcome.Stayed)
}

func TestNavigationIntents(t *testing.T) {
	c := newTestController(t, &recordingGateway{})

	outcome, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "2", EventID: "evt-1", Intent: "previous", Value: "x"}, translator(t))
	require.NoError(t, err)
	assert.Equal(t, "/create/checkin/step/1?event=evt-1", outcome.Redirect)

	outcome, err = c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "2", EventID: "evt-1", Intent: "stay", Value: "x"}, translator(t))
	require.NoError(t, err)
	assert.Equal(t, Outcome{EventID: "evt-1", Stayed: true}, outcome)

	outcome, err = c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "0", EventID: "evt-1", Intent: "previous", Value: "2024-01-01"}, translator(t))
	require.NoError(t, err)
	assert.Equal(t, Outcome{EventID: "evt-1", Stayed: true}, outcome)

	outcome, err = c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "2", EventID: "evt-1", Intent: "sideways", Value: "x"}, translator(t))
	require.NoError(t, err)
	assert.Equal(t, "/create/checkin/step/3?event=evt-1", outcome.Redirect)
}

func TestSubmitRejectsInvalidStepIndex(t *testing.T) {
	c := newTestController(t, &recordingGateway{})

	for _, index := range []string{"-1", "abc", "5", ""} {
		_, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: index}, translator(t))
		failure := requireFailure(t, err)
		assert.Equal(t, http.StatusBadRequest, failure.Status, index)
		assert.Equal(t, "Invalid step", failure.Message, index)
	}

	_, err := c.Submit(context.Background(), Submission{Template: "missing", StepIndex: "0"}, nil)
	assert.True(t, apierr.IsNotFound(err))
}

func TestFormEventIDTakesPrecedenceOverQuery(t *testing.T) {
	gw := &recordingGateway{}
	c := newTestController(t, gw)

	outcome, err := c.Submit(context.Background(), Submission{Template: "checkin", StepIndex: "2", EventID: "form-id", EventQuery: "query-id", Value: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "form-id", gw.calls[0].Args[0])
	assert.Equal(t, "/create/checkin/step/3?event=form-id", outcome.Redirect)
}

func TestParseMappingPayload(t *testing.T) {
	got := ParseMappingPayload(`[
		{"id":"x","kind":"intensity","value":"not-a-number"},
		{"id":" y ","kind":"intensity","value":2.6},
		{"id":"","kind":"selection"},
		{"id":"z","kind":"other"},
		"junk",
		{"id":"w","kind":"selection","value":3}
	]`)

	three := 3
	assert.Equal(t, []MappingValue{
		{ID: "x", Kind: MappingSelection},
		{ID: "y", Kind: MappingIntensity, Value: &three},
		{ID: "w", Kind: MappingSelection},
	}, got)

	assert.Empty(t, ParseMappingPayload("{not json"))
	assert.Empty(t, ParseMappingPayload(`{"id":"x"}`))
	assert.Empty(t, ParseMappingPayload("   "))
}
