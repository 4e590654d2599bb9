package app

import (
	"errors"
	"net/http"

	"moodlog/api/internal/apierr"
	"moodlog/api/internal/ctxutil"
	"moodlog/api/internal/i18n"
	"moodlog/api/internal/templates"
	"moodlog/api/internal/wizard"
)

type stepPage struct {
	*wizard.View
	Progress string             `json:"progress"`
	Context  *templates.Context `json:"context"`
}

// handleWizard serves /create/:template, its steps and /events/:id.
func (s *HTTPServer) handleWizard(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()

	switch {
	case parts[0] == "events" && len(parts) == 2 && r.Method == http.MethodGet:
		event, err := s.service.GetEvent(ctx, parts[1])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, event)

	case parts[0] == "create" && len(parts) == 2 && r.Method == http.MethodGet:
		resolved, err := s.service.resolver.Resolve(ctx, parts[1])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resolved)

	case parts[0] == "create" && len(parts) == 4 && parts[2] == "step" && r.Method == http.MethodGet:
		s.handleStepLoad(w, r, parts[1], parts[3])

	case parts[0] == "create" && len(parts) == 4 && parts[2] == "step" && r.Method == http.MethodPost:
		s.handleStepSubmit(w, r, parts[1], parts[3])

	default:
		writeError(w, http.StatusNotFound, string(apierr.KindNotFound), "Not found", nil)
	}
}

func (s *HTTPServer) handleStepLoad(w http.ResponseWriter, r *http.Request, template, index string) {
	ctx := r.Context()
	result, err := s.service.wizard.Load(ctx, wizard.LoadRequest{
		Template:   template,
		StepIndex:  index,
		EventQuery: r.URL.Query().Get("event"),
		RawQuery:   r.URL.RawQuery,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if result.Redirect != "" {
		http.Redirect(w, r, result.Redirect, http.StatusSeeOther)
		return
	}

	resolved, err := s.service.resolver.Resolve(ctx, template)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	t := s.translator(r)
	writeJSON(w, http.StatusOK, stepPage{
		View:     result.View,
		Progress: t("wizard.step", map[string]any{"current": result.View.CurrentIndex + 1, "total": result.View.TotalSteps}),
		Context:  resolved,
	})
}

// handleStepSubmit saves a posted step form. Success redirects (303) unless
// the user chose to stay; failures echo the submitted value.
func (s *HTTPServer) handleStepSubmit(w http.ResponseWriter, r *http.Request, template, index string) {
	if err := r.ParseForm(); err != nil {
		writeServiceError(w, apierr.Validation("Invalid form payload").WithDetails(err.Error()))
		return
	}
	outcome, err := s.service.wizard.Submit(r.Context(), wizard.Submission{
		Template:   template,
		StepIndex:  index,
		EventID:    r.PostForm.Get("eventId"),
		EventQuery: r.URL.Query().Get("event"),
		Intent:     r.PostForm.Get("intent"),
		Value:      r.PostForm.Get("value"),
		Mapping:    r.PostForm.Get("mapping"),
	}, s.translator(r))

	label := template
	if _, lookupErr := s.service.resolver.Template(template); lookupErr != nil {
		label = "unknown"
	}
	var failure *wizard.StepFailure
	switch {
	case errors.As(err, &failure):
		outcomeLabel := stepRejected
		if failure.Status >= http.StatusInternalServerError {
			outcomeLabel = stepFailed
		}
		s.service.metrics.observeStep(label, outcomeLabel)
		writeJSON(w, failure.Status, failure)
		return
	case err != nil:
		s.service.metrics.observeStep(label, stepFailed)
		writeServiceError(w, err)
		return
	}

	s.service.metrics.observeStep(label, stepSaved)
	if outcome.Stayed {
		writeJSON(w, http.StatusOK, outcome)
		return
	}
	http.Redirect(w, r, outcome.Redirect, http.StatusSeeOther)
}

func (s *HTTPServer) translator(r *http.Request) i18n.Translate {
	locale := ""
	if rd := ctxutil.GetRequestData(r.Context()); rd != nil {
		locale = rd.Locale
	}
	return s.service.i18n.Translator(locale)
}
