package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"SwapAgent-Chain/internal/agent"
	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/internal/task"
)

const (
	ctxOwner = "owner"
	ctxAgent = "agent"
)

type createAgentRequest struct {
	Name string `json:"name"`
	Goal string `json:"goal"`
}

type setStatusRequest struct {
	Status agent.Status `json:"status"`
}

type errorResponse struct {
	Error string       `json:"error"`
	Code  xerrors.Code `json:"code"`
}

func requireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := strings.TrimSpace(c.GetHeader(OwnerHeader))
		if owner == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "缺少 " + OwnerHeader + " 请求头", Code: xerrors.CodeInvalidArgument})
			return
		}
		c.Set(ctxOwner, owner)
		c.Next()
	}
}

// loadAgent 校验路径中的智能体属于当前 owner。
func (s *Server) loadAgent() gin.HandlerFunc {
	return func(c *gin.Context) {
		found, err := s.agents.GetOwned(c.Request.Context(), c.GetString(ctxOwner), c.Param("id"))
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		c.Set(ctxAgent, found)
		c.Next()
	}
}

func currentAgent(c *gin.Context) *agent.Agent {
	value, _ := c.Get(ctxAgent)
	found, _ := value.(*agent.Agent)
	return found
}

func (s *Server) handleCreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "请求体解析失败", Code: xerrors.CodeInvalidArgument})
		return
	}
	created, err := s.agents.CreateAgent(c.Request.Context(), agent.CreateRequest{
		Owner: c.GetString(ctxOwner),
		Name:  req.Name,
		Goal:  req.Goal,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleListAgents(c *gin.Context) {
	agents, err := s.agents.List(c.Request.Context(), c.GetString(ctxOwner))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

func (s *Server) handleGetAgent(c *gin.Context) {
	c.JSON(http.StatusOK, currentAgent(c))
}

func (s *Server) handleDeleteAgent(c *gin.Context) {
	if err := s.agents.Delete(c.Request.Context(), currentAgent(c).ID); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSetStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "请求体解析失败", Code: xerrors.CodeInvalidArgument})
		return
	}
	updated, err := s.agents.SetStatus(c.Request.Context(), currentAgent(c).ID, req.Status)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleRefreshBalance(c *gin.Context) {
	updated, err := s.agents.RefreshBalance(c.Request.Context(), currentAgent(c).ID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// handleExecute 同步执行一次运行。运行失败同样返回 200，结果中 success 为 false。
func (s *Server) handleExecute(c *gin.Context) {
	result := s.runner.Execute(c.Request.Context(), currentAgent(c).ID)
	if !result.Success && result.Code == agent.CodeAgentBusy {
		c.JSON(http.StatusConflict, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleEnqueue(c *gin.Context) {
	if s.submitter == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "未启用异步运行", Code: xerrors.CodeInitializationFailure})
		return
	}
	agentID := currentAgent(c).ID
	if err := s.submitter.Submit(c.Request.Context(), agentID); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"agent_id": agentID, "status": "queued"})
}

func (s *Server) handleListTasks(c *gin.Context) {
	opts := []task.ListOption{}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit 必须为正整数", Code: xerrors.CodeInvalidArgument})
			return
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := c.Query("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if c.Query("order") == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortOldestFirst))
	}

	records, err := s.history.ListTasks(c.Request.Context(), currentAgent(c).ID, opts...)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": records})
}

func (s *Server) handleClearTasks(c *gin.Context) {
	if err := s.history.ClearTasks(c.Request.Context(), currentAgent(c).ID); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.history.Stats(c.Request.Context(), currentAgent(c).ID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	status := statusFor(xerrors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", "error", err, "path", c.FullPath())
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: xerrors.MessageOf(err), Code: xerrors.CodeOf(err)})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case agent.CodeAgentNotFound, task.CodeTaskNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case agent.CodeAgentValidation, task.CodeTaskValidation, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case agent.CodeAgentConflict, agent.CodeAgentBusy, agent.CodeAgentInactive, task.CodeTaskConflict, xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeConfiguration, xerrors.CodeInitializationFailure, xerrors.CodeQueueFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
