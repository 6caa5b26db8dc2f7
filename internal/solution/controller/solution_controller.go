package controller

import (
	"context"
	"strconv"
	"strings"
	"time"

	"judgeflow/internal/common/http/middleware"
	"judgeflow/internal/solution/model"
	"judgeflow/internal/solution/service"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const defaultActivityDays = 14

// SolutionService is the part of the solution service the HTTP layer uses.
type SolutionService interface {
	Submit(ctx context.Context, input service.SubmitInput) (*model.Submission, error)
	Get(ctx context.Context, id, ownerID string) (*model.Submission, error)
	ListByUser(ctx context.Context, ownerID string) ([]*model.Submission, error)
	DailyActivity(ctx context.Context, ownerID string, windowDays int) ([]model.ActivityDay, error)
}

// SolutionController handles solution HTTP endpoints.
type SolutionController struct {
	solutions SolutionService
}

// NewSolutionController creates a new SolutionController.
func NewSolutionController(solutions SolutionService) *SolutionController {
	return &SolutionController{solutions: solutions}
}

// Register mounts the routes under group. The group must run
// middleware.RequireUser. submitGuards run before Submit only.
func (h *SolutionController) Register(group *gin.RouterGroup, submitGuards ...gin.HandlerFunc) {
	group.POST("/solutions", append(submitGuards, h.Submit)...)
	group.GET("/solutions", h.List)
	group.GET("/solutions/activity", h.Activity)
	group.GET("/solutions/:id", h.Get)
}

// Submit accepts a solution for asynchronous execution.
func (h *SolutionController) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	submission, err := h.solutions.Submit(c.Request.Context(), service.SubmitInput{
		UserID:   middleware.UserID(c),
		TaskID:   req.TaskID,
		Code:     req.Code,
		Language: req.Language,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, toSolutionResponse(submission))
}

// Get returns one of the caller's solutions.
func (h *SolutionController) Get(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.BadRequest(c, "Invalid solution id")
		return
	}
	submission, err := h.solutions.Get(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSolutionResponse(submission))
}

// List returns the caller's solutions, newest first.
func (h *SolutionController) List(c *gin.Context) {
	list, err := h.solutions.ListByUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]SolutionResponse, 0, len(list))
	for _, s := range list {
		items = append(items, toSolutionResponse(s))
	}
	response.Success(c, items)
}

// Activity returns per-day submission counts.
func (h *SolutionController) Activity(c *gin.Context) {
	days := defaultActivityDays
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(c, "Invalid days")
			return
		}
		days = n
	}
	activity, err := h.solutions.DailyActivity(c.Request.Context(), middleware.UserID(c), days)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, activity)
}

// SubmitRequest defines the submission payload.
type SubmitRequest struct {
	TaskID   string `json:"taskId" binding:"required"`
	Code     string `json:"code" binding:"required"`
	Language string `json:"language" binding:"required"`
}

// SolutionResponse is the public view of a submission.
type SolutionResponse struct {
	ID          string `json:"id"`
	TaskID      string `json:"taskId"`
	Language    string `json:"language"`
	Code        string `json:"code"`
	Status      string `json:"status"`
	Feedback    string `json:"feedback,omitempty"`
	TestsPassed int    `json:"testsPassed"`
	TestsTotal  int    `json:"testsTotal"`
	CreatedAt   string `json:"createdAt"`
}

func toSolutionResponse(s *model.Submission) SolutionResponse {
	return SolutionResponse{
		ID:          s.ID,
		TaskID:      s.TaskID,
		Language:    string(s.Language),
		Code:        s.Code,
		Status:      string(s.Status),
		Feedback:    s.Feedback,
		TestsPassed: s.TestsPassed,
		TestsTotal:  s.TestsTotal,
		CreatedAt:   s.CreatedAt.UTC().Format(time.RFC3339),
	}
}
