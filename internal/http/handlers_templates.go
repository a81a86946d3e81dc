package http

import (
	"net/http"
	"net/url"

	"fibudget/internal/core"
	applog "fibudget/internal/log"
	"fibudget/internal/services"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.budget.ListTemplates(r.Context(), sanitizeInput(r.URL.Query().Get("account")))
	if err != nil {
		s.fail(w, r, applog.OpList, err)
		return
	}
	if templates == nil {
		templates = []core.ZeroBasedTemplate{}
	}
	OK(map[string]any{"templates": templates}).Write(w)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body TemplateBody
	if err := DecodeJSONBody(w, r, &body); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	t, err := s.budget.CreateTemplate(r.Context(), services.CreateTemplateRequest{
		Name:        sanitizeInput(body.Name),
		AccountPath: sanitizeInput(body.AccountPath),
		Items:       body.Items,
	})
	if err != nil {
		s.fail(w, r, applog.OpCreate, err)
		return
	}

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/templates/"+url.PathEscape(t.ID)+"?account="+url.QueryEscape(t.AccountPath)).
		Payload(t).
		Write(w)
}

// handleLoadTemplate returns one template so its lines can be put back into
// a zero-based entry.
func (s *Server) handleLoadTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.budget.LoadTemplate(r.Context(),
		sanitizeInput(r.URL.Query().Get("account")),
		sanitizeInput(r.PathValue("id")))
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	OK(t).Write(w)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.budget.DeleteTemplate(r.Context(), sanitizeInput(r.PathValue("id"))); err != nil {
		s.fail(w, r, applog.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
