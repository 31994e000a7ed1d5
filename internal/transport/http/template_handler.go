package httptransport

import (
	"github.com/gin-gonic/gin"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/middleware"
	"leomail/backend/internal/service"
)

// ========== Template Handlers ==========

func (h *Handler) listTemplates(c *gin.Context) {
	projectID := c.Param("projectId")
	if err := h.permissions.RequireProject(projectID, middleware.UserID(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}

	templates, err := h.templates.List(projectID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	Success(c, templates)
}

// createTemplate 在项目下创建模板，项目 ID 以路径为准
func (h *Handler) createTemplate(c *gin.Context) {
	userID := middleware.UserID(c)
	projectID := c.Param("projectId")
	if err := h.permissions.RequireProject(projectID, userID); err != nil {
		writeError(c, h.logger, err)
		return
	}

	var input service.TemplateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	input.ProjectID = projectID

	tpl, err := h.templates.Create(input, userID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	Created(c, tpl)
}

func (h *Handler) getTemplate(c *gin.Context) {
	tpl, ok := h.authorizedTemplate(c)
	if !ok {
		return
	}
	Success(c, tpl)
}

func (h *Handler) updateTemplate(c *gin.Context) {
	tpl, ok := h.authorizedTemplate(c)
	if !ok {
		return
	}

	var input service.TemplateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	updated, err := h.templates.Update(tpl.ID, input)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	Success(c, updated)
}

func (h *Handler) deleteTemplate(c *gin.Context) {
	tpl, ok := h.authorizedTemplate(c)
	if !ok {
		return
	}
	if err := h.templates.Delete(tpl.ID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	NoContent(c)
}

func (h *Handler) authorizedTemplate(c *gin.Context) (*domain.Template, bool) {
	tpl, err := h.templates.Get(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return nil, false
	}
	if err := h.permissions.RequireProject(tpl.ProjectID, middleware.UserID(c)); err != nil {
		writeError(c, h.logger, err)
		return nil, false
	}
	return tpl, true
}

// ========== Greeting Handlers ==========

func (h *Handler) listGreetings(c *gin.Context) {
	greetings, err := h.templates.ListGreetings()
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	Success(c, greetings)
}

func (h *Handler) getGreeting(c *gin.Context) {
	g, err := h.templates.GetGreeting(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	Success(c, g)
}
