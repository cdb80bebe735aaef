package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/repoqa/internal/model"
	"github.com/xxxsen/repoqa/internal/pkg/errcode"
	"github.com/xxxsen/repoqa/internal/pkg/response"
)

type IndexService interface {
	Submit(ctx context.Context, userID, repoURL, ref, credential string) (*model.IndexJob, error)
	Status(ctx context.Context, userID, jobID string) (*model.IndexJob, error)
	List(ctx context.Context, userID string, limit, offset uint) ([]model.IndexJob, error)
}

type IndexHandler struct {
	index IndexService
}

func NewIndexHandler(index IndexService) *IndexHandler {
	return &IndexHandler{index: index}
}

type submitIndexRequest struct {
	RepoURL    string `json:"repo_url"`
	Ref        string `json:"ref"`
	Credential string `json:"credential"`
}

func (h *IndexHandler) Submit(c *gin.Context) {
	var req submitIndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	job, err := h.index.Submit(c.Request.Context(), getUserID(c), req.RepoURL, req.Ref, req.Credential)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"job_id": job.ID, "repo_id": job.RepoID})
}

func (h *IndexHandler) Status(c *gin.Context) {
	job, err := h.index.Status(c.Request.Context(), getUserID(c), c.Param("job_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, job)
}

func (h *IndexHandler) List(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)
	jobs, err := h.index.List(c.Request.Context(), getUserID(c), uint(limit), uint(offset))
	if err != nil {
		handleError(c, err)
		return
	}
	if jobs == nil {
		jobs = []model.IndexJob{}
	}
	response.Success(c, gin.H{"jobs": jobs})
}
