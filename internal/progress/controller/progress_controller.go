package controller

import (
	"context"
	"strconv"
	"strings"

	"judgeflow/internal/common/http/middleware"
	"judgeflow/internal/progress/model"
	"judgeflow/internal/task"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const defaultRecommendLimit = 5

// ProgressService is the part of the progress service the HTTP layer uses.
type ProgressService interface {
	Recommend(ctx context.Context, userID string, limit int) ([]task.Task, error)
	Confidences(ctx context.Context, userID string) ([]model.TopicConfidence, error)
}

// ProgressController handles progress HTTP endpoints.
type ProgressController struct {
	progress ProgressService
}

func NewProgressController(progress ProgressService) *ProgressController {
	return &ProgressController{progress: progress}
}

// Register mounts the routes under group.
func (h *ProgressController) Register(group *gin.RouterGroup) {
	group.GET("/progress/recommendations", h.Recommendations)
	group.GET("/progress/confidence", h.Confidence)
}

// Recommendations returns tasks ranked for the caller.
func (h *ProgressController) Recommendations(c *gin.Context) {
	limit := defaultRecommendLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(c, "Invalid limit")
			return
		}
		limit = n
	}
	tasks, err := h.progress.Recommend(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]RecommendationResponse, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, RecommendationResponse{
			ID:         t.ID,
			Title:      t.Title,
			Difficulty: string(t.Difficulty),
			Tags:       t.Tags,
		})
	}
	response.Success(c, items)
}

// Confidence returns the caller's per-topic confidence.
func (h *ProgressController) Confidence(c *gin.Context) {
	list, err := h.progress.Confidences(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make(map[string]float64, len(list))
	for _, tc := range list {
		out[tc.Topic] = tc.Confidence
	}
	response.Success(c, out)
}

// RecommendationResponse is the summary of a recommended task.
type RecommendationResponse struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Difficulty string   `json:"difficulty"`
	Tags       []string `json:"tags"`
}
