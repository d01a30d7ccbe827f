package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trading-engine/internal/engine"
)

type journalQuery struct {
	Date  string `form:"date"`
	Limit int    `form:"limit"`
}

func (q *journalQuery) normalize() error {
	if q.Date != "" {
		if _, err := time.Parse(time.DateOnly, q.Date); err != nil {
			return err
		}
	}
	if q.Limit <= 0 {
		q.Limit = 200
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
	return nil
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func tail[T any](rows []T, limit int) []T {
	if len(rows) > limit {
		return rows[len(rows)-limit:]
	}
	return rows
}

func (s *Server) health(c *gin.Context) {
	st := s.Engine.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"running":   st.Running,
		"last_tick": st.Last.At,
		"halted":    st.Day.Halted,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"system": s.Meta,
		"engine": s.Engine.Status(),
	})
}

func (s *Server) getOrders(c *gin.Context) {
	var q journalQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "bad_query", err.Error())
		return
	}
	if err := q.normalize(); err != nil {
		respondError(c, http.StatusBadRequest, "bad_date", "date must be YYYY-MM-DD")
		return
	}
	rows, err := s.Engine.Orders(c.Request.Context(), q.Date)
	if err != nil {
		s.log.Error().Err(err).Str("date", q.Date).Msg("list orders")
		respondError(c, http.StatusInternalServerError, "journal_error", "failed to read order journal")
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": q.Date, "orders": tail(rows, q.Limit)})
}

func (s *Server) getActions(c *gin.Context) {
	var q journalQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "bad_query", err.Error())
		return
	}
	if err := q.normalize(); err != nil {
		respondError(c, http.StatusBadRequest, "bad_date", "date must be YYYY-MM-DD")
		return
	}
	rows, err := s.Engine.Actions(c.Request.Context(), q.Date)
	if err != nil {
		s.log.Error().Err(err).Str("date", q.Date).Msg("list actions")
		respondError(c, http.StatusInternalServerError, "journal_error", "failed to read action journal")
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": q.Date, "actions": tail(rows, q.Limit)})
}

func (s *Server) getReport(c *gin.Context) {
	r, err := s.Engine.Report(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("build report")
		respondError(c, http.StatusInternalServerError, "report_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, r)
}

// reloadPlan stages the plan file for the next tick. A rejected plan leaves the
// current one in force.
func (s *Server) reloadPlan(c *gin.Context) {
	if err := s.Engine.Reload(c.Request.Context()); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "plan_rejected", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "staged"})
}

type commandRequest struct {
	Reason string `json:"reason"`
}

// command queues an operator command. The body is optional.
func (s *Server) command(cmd engine.Command) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req commandRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "bad_body", err.Error())
				return
			}
		}
		operator := CurrentOperator(c)
		reason := operator
		if req.Reason != "" {
			reason = operator + ": " + req.Reason
		}
		if err := s.Engine.Submit(cmd, reason); err != nil {
			respondError(c, http.StatusBadRequest, "bad_command", err.Error())
			return
		}
		s.log.Warn().Str("command", string(cmd)).Str("operator", operator).Str("reason", req.Reason).Msg("operator command")
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "command": cmd})
	}
}
