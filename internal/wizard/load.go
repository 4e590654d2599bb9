package wizard

import (
	"context"
	"net/http"
	"strings"

	"moodlog/api/internal/apierr"
	"moodlog/api/internal/normalize"
	"moodlog/api/internal/templates"
)

type LoadRequest struct {
	Template   string
	StepIndex  string
	EventQuery string
	RawQuery   string
}

// View is what a step page renders.
type View struct {
	Step         templates.Step `json:"currentItem"`
	CurrentIndex int            `json:"currentIndex"`
	TotalSteps   int            `json:"totalSteps"`
	EventID      *string        `json:"eventId"`
	Event        map[string]any `json:"eventData"`
}

// LoadResult holds either a redirect or a view.
type LoadResult struct {
	Redirect string
	View     *View
}

// Load validates the step index and event reference of a step page.
// Out-of-range indexes redirect: negative or non-numeric ones to step 0,
// past-the-end ones to the event (or the template entry without one). Any
// step after the first needs an event.
func (c *Controller) Load(ctx context.Context, req LoadRequest) (LoadResult, error) {
	tpl, err := c.templates.Template(req.Template)
	if err != nil {
		return LoadResult{}, err
	}

	index, ok := normalize.ParseLeadingInt(req.StepIndex)
	if !ok || index < 0 {
		target := StepPath(tpl.Name, 0, "")
		if req.RawQuery != "" {
			target += "?" + req.RawQuery
		}
		return LoadResult{Redirect: target}, nil
	}

	eventID := strings.TrimSpace(req.EventQuery)
	if index >= len(tpl.Steps) {
		if eventID != "" {
			return LoadResult{Redirect: EventPath(eventID)}, nil
		}
		return LoadResult{Redirect: TemplatePath(tpl.Name)}, nil
	}

	view := &View{
		Step:         tpl.Steps[index],
		CurrentIndex: index,
		TotalSteps:   len(tpl.Steps),
	}
	if eventID == "" {
		if index > 0 {
			return LoadResult{Redirect: StepPath(tpl.Name, 0, "")}, nil
		}
		return LoadResult{View: view}, nil
	}

	view.EventID = &eventID
	event, err := c.gateway.GetEvent(ctx, eventID)
	switch {
	case err == nil:
		view.Event = event
	case apierr.IsNotFound(err):
	default:
		c.log.Error("load event for step failed", "template", tpl.Name, "event_id", eventID, "error", err)
		return LoadResult{}, apierr.New(apierr.KindUpstream, http.StatusInternalServerError, "Unable to load event data", nil)
	}
	return LoadResult{View: view}, nil
}
