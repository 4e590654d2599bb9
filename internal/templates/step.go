package templates

import "encoding/json"

type StepKind string

const (
	StepProperty StepKind = "property"
	StepQuestion StepKind = "question"
	StepModel    StepKind = "model"
)

const (
	ModelEmotionMapping     = "emotion_mapping"
	ModelAssociationMapping = "association_mapping"
)

// Step is one of PropertyStep, QuestionStep or ModelStep.
type Step interface {
	Kind() StepKind
	isStep()
}

// PropertyStep edits a single column of the event.
type PropertyStep struct {
	Property  string
	Mandatory bool
}

// QuestionStep records a free-text response to the question EntityID.
type QuestionStep struct {
	EntityID  string
	Mandatory bool
}

// ModelStep replaces one of the event's mapping collections.
type ModelStep struct {
	Model string
}

func (PropertyStep) Kind() StepKind { return StepProperty }
func (QuestionStep) Kind() StepKind { return StepQuestion }
func (ModelStep) Kind() StepKind    { return StepModel }

func (PropertyStep) isStep() {}
func (QuestionStep) isStep() {}
func (ModelStep) isStep()    {}

func (s PropertyStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      StepKind `json:"type"`
		Property  string   `json:"property"`
		Mandatory bool     `json:"mandatory,omitempty"`
	}{StepProperty, s.Property, s.Mandatory})
}

func (s QuestionStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      StepKind `json:"type"`
		EntityID  string   `json:"entity_id"`
		Mandatory bool     `json:"mandatory,omitempty"`
	}{StepQuestion, s.EntityID, s.Mandatory})
}

func (s ModelStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  StepKind `json:"type"`
		Model string   `json:"model"`
	}{StepModel, s.Model})
}
