// Package wizard drives the multi-step template forms: it validates the step
// a user submitted, saves it through the event gateway and decides where the
// user goes next.
package wizard

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"moodlog/api/internal/apierr"
	"moodlog/api/internal/i18n"
	"moodlog/api/internal/logger"
	"moodlog/api/internal/normalize"
	"moodlog/api/internal/templates"
)

type Intent string

const (
	IntentNext     Intent = "next"
	IntentPrevious Intent = "previous"
	IntentStay     Intent = "stay"
)

func ParseIntent(raw string) Intent {
	switch Intent(strings.TrimSpace(raw)) {
	case IntentPrevious:
		return IntentPrevious
	case IntentStay:
		return IntentStay
	}
	return IntentNext
}

var propertyColumns = map[string]string{
	"date": normalize.ColumnOccurrenceDate,
	"time": normalize.ColumnOccurrenceTime,
}

// PropertyColumn maps a template property name to the event column it edits.
func PropertyColumn(property string) string {
	if column, ok := propertyColumns[property]; ok {
		return column
	}
	return property
}

// Gateway is the event API as the wizard sees it. Every call acts as the
// identity carried by ctx. Failures are *apierr.Error values whose Message
// is shown to the user.
type Gateway interface {
	CreateBasicEvent(ctx context.Context, body map[string]any) (string, error)
	GetEvent(ctx context.Context, eventID string) (map[string]any, error)
	PatchEvent(ctx context.Context, eventID string, patch map[string]any) error
	PutResponse(ctx context.Context, eventID, questionID, value string) error
	DeleteResponse(ctx context.Context, eventID, questionID string) error
	ReplaceEmotionMappings(ctx context.Context, eventID string, emotions []normalize.EmotionMapping) error
	ReplaceAssociationMappings(ctx context.Context, eventID string, associations []normalize.AssociationMapping) error
}

type TemplateSource interface {
	Template(name string) (*templates.Template, error)
}

type Controller struct {
	templates TemplateSource
	gateway   Gateway
	log       *logger.Logger
}

func NewController(source TemplateSource, gateway Gateway, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	return &Controller{templates: source, gateway: gateway, log: log}
}

// Submission is a posted step form.
type Submission struct {
	Template   string
	StepIndex  string
	EventID    string
	EventQuery string
	Intent     string
	Value      string
	Mapping    string
}

// Outcome of a saved step: either a redirect, or Stayed with the event id.
type Outcome struct {
	Redirect string `json:"redirect,omitempty"`
	EventID  string `json:"eventId"`
	Stayed   bool   `json:"stayed,omitempty"`
}

// StepFailure is returned when a step could not be saved. It echoes the
// submitted value back so the form can be redisplayed.
type StepFailure struct {
	Status        int     `json:"-"`
	Message       string  `json:"message"`
	EventID       *string `json:"eventId"`
	PropertyValue *string `json:"propertyValue,omitempty"`
	QuestionValue *string `json:"questionValue,omitempty"`
	MappingValue  *string `json:"mappingValue,omitempty"`
}

func (f *StepFailure) Error() string {
	return fmt.Sprintf("step failed (%d): %s", f.Status, f.Message)
}

func StepPath(template string, index int, eventID string) string {
	p := fmt.Sprintf("/create/%s/step/%d", url.PathEscape(template), index)
	if eventID != "" {
		p += "?event=" + url.QueryEscape(eventID)
	}
	return p
}

func EventPath(eventID string) string {
	return "/events/" + url.PathEscape(eventID)
}

func TemplatePath(template string) string {
	return "/create/" + url.PathEscape(template)
}

// Submit saves one step and computes the navigation that follows. Unknown
// templates surface as a NotFound error; anything the user can act on comes
// back as a *StepFailure.
func (c *Controller) Submit(ctx context.Context, sub Submission, t i18n.Translate) (Outcome, error) {
	if t == nil {
		t = i18n.Identity
	}
	tpl, err := c.templates.Template(sub.Template)
	if err != nil {
		return Outcome{}, err
	}

	index, ok := normalize.ParseLeadingInt(sub.StepIndex)
	if !ok || index < 0 || index >= len(tpl.Steps) {
		return Outcome{}, &StepFailure{Status: http.StatusBadRequest, Message: t("wizard.errors.invalid_step", nil)}
	}

	intent := ParseIntent(sub.Intent)
	eventID := strings.TrimSpace(sub.EventID)
	if eventID == "" {
		eventID = strings.TrimSpace(sub.EventQuery)
	}

	var failure *StepFailure
	switch step := tpl.Steps[index].(type) {
	case templates.PropertyStep:
		eventID, failure = c.saveProperty(ctx, tpl, step, eventID, sub.Value, t)
	case templates.QuestionStep:
		failure = c.saveQuestion(ctx, step, eventID, sub.Value, t)
	case templates.ModelStep:
		failure = c.saveModel(ctx, step, eventID, sub.Mapping, t)
	default:
		failure = &StepFailure{Status: http.StatusBadRequest, Message: t("wizard.errors.unsupported_step", nil), EventID: optional(eventID)}
	}
	if failure != nil {
		c.log.Warn("wizard step rejected",
			"template", tpl.Name,
			"step", index,
			"status", failure.Status,
			"message", failure.Message,
		)
		return Outcome{}, failure
	}

	if eventID == "" {
		return Outcome{}, &StepFailure{Status: http.StatusInternalServerError, Message: t("wizard.errors.reference_missing", nil)}
	}

	switch {
	case intent == IntentStay, intent == IntentPrevious && index == 0:
		return Outcome{EventID: eventID, Stayed: true}, nil
	case intent == IntentPrevious:
		return Outcome{EventID: eventID, Redirect: StepPath(tpl.Name, index-1, eventID)}, nil
	case index == len(tpl.Steps)-1:
		return Outcome{EventID: eventID, Redirect: EventPath(eventID)}, nil
	}
	return Outcome{EventID: eventID, Redirect: StepPath(tpl.Name, index+1, eventID)}, nil
}

func (c *Controller) saveProperty(ctx context.Context, tpl *templates.Template, step templates.PropertyStep, eventID, raw string, t i18n.Translate) (string, *StepFailure) {
	rawValue := strings.TrimSpace(raw)
	fail := func(status int, message string, id string) *StepFailure {
		return &StepFailure{Status: status, Message: message, EventID: optional(id), PropertyValue: &rawValue}
	}

	property := strings.TrimSpace(step.Property)
	if property == "" {
		return eventID, fail(http.StatusBadRequest, t("wizard.errors.property_misconfigured", nil), eventID)
	}
	column := PropertyColumn(property)
	value := normalize.PropertyValue(column, rawValue)

	if eventID != "" {
		if err := c.gateway.PatchEvent(ctx, eventID, map[string]any{column: value}); err != nil {
			status, message := c.gatewayFailure(err, t, "wizard.fallback.save_property")
			return eventID, fail(status, message, eventID)
		}
		return eventID, nil
	}

	if column != normalize.ColumnOccurrenceDate {
		return "", fail(http.StatusBadRequest, t("wizard.errors.date_first", nil), "")
	}
	date, _ := value.(string)
	if strings.TrimSpace(date) == "" {
		return "", fail(http.StatusBadRequest, t("wizard.errors.date_required", nil), "")
	}

	createdID, err := c.gateway.CreateBasicEvent(ctx, creationBody(strings.TrimSpace(date), tpl.ModelProperties))
	if err != nil {
		status, message := c.gatewayFailure(err, t, "wizard.fallback.create_event")
		return "", fail(status, message, "")
	}
	createdID = strings.TrimSpace(createdID)
	if createdID == "" {
		return "", fail(http.StatusInternalServerError, t("wizard.errors.create_failed", nil), "")
	}
	return createdID, nil
}

func (c *Controller) saveQuestion(ctx context.Context, step templates.QuestionStep, eventID, raw string, t i18n.Translate) *StepFailure {
	value := strings.TrimSpace(raw)
	fail := func(status int, message string, id string) *StepFailure {
		return &StepFailure{Status: status, Message: message, EventID: optional(id), QuestionValue: &value}
	}
	if eventID == "" {
		return fail(http.StatusBadRequest, t("wizard.errors.event_missing", nil), "")
	}
	questionID := strings.TrimSpace(step.EntityID)
	if questionID == "" {
		return fail(http.StatusBadRequest, t("wizard.errors.question_misconfigured", nil), eventID)
	}

	if value == "" {
		err := c.gateway.DeleteResponse(ctx, eventID, questionID)
		if err != nil && !apierr.IsNotFound(err) {
			status, message := c.gatewayFailure(err, t, "wizard.fallback.clear_response")
			return fail(status, message, eventID)
		}
		return nil
	}
	if err := c.gateway.PutResponse(ctx, eventID, questionID, value); err != nil {
		status, message := c.gatewayFailure(err, t, "wizard.fallback.save_response")
		return fail(status, message, eventID)
	}
	return nil
}

func (c *Controller) saveModel(ctx context.Context, step templates.ModelStep, eventID, raw string, t i18n.Translate) *StepFailure {
	mapping := strings.TrimSpace(raw)
	fail := func(status int, message string, id string) *StepFailure {
		return &StepFailure{Status: status, Message: message, EventID: optional(id), MappingValue: &mapping}
	}
	if eventID == "" {
		return fail(http.StatusBadRequest, t("wizard.errors.event_missing", nil), "")
	}

	values := ParseMappingPayload(mapping)
	switch strings.TrimSpace(step.Model) {
	case templates.ModelEmotionMapping:
		if err := c.gateway.ReplaceEmotionMappings(ctx, eventID, emotionMappings(values)); err != nil {
			status, message := c.gatewayFailure(err, t, "wizard.fallback.update_emotions")
			return fail(status, message, eventID)
		}
	case templates.ModelAssociationMapping:
		if err := c.gateway.ReplaceAssociationMappings(ctx, eventID, associationMappings(values)); err != nil {
			status, message := c.gatewayFailure(err, t, "wizard.fallback.update_associations")
			return fail(status, message, eventID)
		}
	default:
		return fail(http.StatusBadRequest, t("wizard.errors.unsupported_model", nil), eventID)
	}
	return nil
}

// gatewayFailure reports the status and message of a failed gateway call.
// Typed failures keep their own message; anything else is unexpected.
func (c *Controller) gatewayFailure(err error, t i18n.Translate, fallbackKey string) (int, string) {
	apiErr, ok := apierr.As(err)
	if !ok {
		c.log.Error("wizard gateway call failed", "error", err)
		return http.StatusInternalServerError, t("wizard.errors.unexpected", nil)
	}
	message := strings.TrimSpace(apiErr.Message)
	if message == "" {
		message = t(fallbackKey, nil)
	}
	status := apiErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return status, message
}

// creationBody seeds a new event from the template's model_properties.
func creationBody(date string, defaults map[string]any) map[string]any {
	body := map[string]any{
		"occurrence_date": date,
		"occurrence_time": nil,
		"kind":            defaultKind(defaults),
		"valence":         normalize.EventValence(defaults["valence"]),
	}
	if v := normalize.Text(defaults["time"]); v != "" {
		body["occurrence_time"] = v
	}
	if v := normalize.Text(defaults["name"]); v != "" {
		body["name"] = v
	}
	if v := normalize.Text(defaults["description"]); v != "" {
		body["description"] = v
	}
	return body
}

func defaultKind(defaults map[string]any) string {
	if kind := normalize.Text(defaults["kind"]); kind != "" {
		return kind
	}
	return normalize.KindMoment
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
