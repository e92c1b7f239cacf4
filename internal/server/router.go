package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"squad/internal/dag"
	"squad/internal/export"
	"squad/internal/fairness"
	"squad/internal/governance"
	"squad/internal/history"
	"squad/internal/member"
	"squad/internal/task"
	"squad/internal/team"
	"squad/internal/workflow"
)

// apiError is the structured error body: {kind, message, details}.
type apiError struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func fail(c *gin.Context, status int, kind string, err error) {
	c.JSON(status, gin.H{"error": apiError{Kind: kind, Message: err.Error()}})
}

// failDomain maps domain sentinels onto the HTTP taxonomy: absence is 404,
// illegal transitions and conflicts are 409, the rest of the service-layer
// validation surface is 400.
func failDomain(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound),
		errors.Is(err, team.ErrNotFound),
		errors.Is(err, workflow.ErrNotFound),
		errors.Is(err, member.ErrNotFound),
		errors.Is(err, history.ErrNotFound):
		fail(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, task.ErrInvalidTransition),
		errors.Is(err, member.ErrHandoffIncomplete),
		errors.Is(err, team.ErrConflict):
		fail(c, http.StatusConflict, "conflict", err)
	default:
		fail(c, http.StatusBadRequest, "invalid_argument", err)
	}
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())
	router.Use(s.observe())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")

	api.POST("/teams/:team/tasks", s.createTask)
	api.GET("/teams/:team/tasks/ready", s.readyTasks)
	api.GET("/tasks/:id", s.getTask)
	api.POST("/tasks/:id/claim", s.claimTask)
	api.POST("/tasks/:id/complete", s.completeTask)
	api.POST("/tasks/:id/fail", s.failTask)

	api.POST("/teams/:team/messages", s.postMessage)
	api.GET("/teams/:team/messages", s.recentMessages)
	api.PUT("/teams/:team/workers/:worker", s.updateWorker)
	api.GET("/teams/:team/workers", s.listWorkers)
	api.POST("/teams/:team/knowledge", s.shareKnowledge)
	api.GET("/teams/:team/knowledge/:key", s.getKnowledge)
	api.POST("/teams/:team/artifacts", s.registerArtifact)
	api.POST("/teams/:team/decisions", s.proposeDecision)
	api.POST("/decisions/:id/votes", s.castVote)

	api.POST("/teams/:team/workflows", s.createWorkflow)
	api.GET("/teams/:team/workflows", s.listWorkflows)
	api.GET("/workflows/:id", s.getWorkflow)
	api.POST("/workflows/:id/start", s.workflowAction(s.workflows.Start))
	api.POST("/workflows/:id/pause", s.workflowAction(s.workflows.Pause))
	api.POST("/workflows/:id/resume", s.workflowAction(s.workflows.Resume))
	api.POST("/workflows/:id/cancel", s.workflowAction(s.workflows.Cancel))
	api.GET("/workflows/:id/critical-path", s.criticalPath)

	api.POST("/teams/:team/members", s.addMember)
	api.GET("/teams/:team/members", s.listMembers)
	api.PUT("/teams/:team/members/:worker/state", s.updateMemberState)
	api.POST("/teams/:team/members/:worker/handoff", s.initiateHandoff)
	api.PUT("/teams/:team/members/:worker/handoff", s.completeHandoff)
	api.GET("/teams/:team/members/:worker/performance", s.memberPerformance)
	api.POST("/teams/:team/roles", s.assignRole)
	api.GET("/teams/:team/roles/:role", s.resolveRole)

	api.POST("/teams/:team/approvals", s.recordApproval)
	api.POST("/workflows/:id/gates/:phase/check", s.checkGate)
	api.GET("/governance/audit", s.auditTrail)

	api.GET("/teams/:team/fairness", s.fairnessScore)
	api.GET("/teams/:team/fairness/:worker", s.fairnessWorker)
	api.POST("/teams/:team/incidents", s.reportIncident)
	api.GET("/teams/:team/incidents", s.listIncidents)
	api.POST("/incidents/:id/transition", s.transitionIncident)

	api.GET("/executions", s.queryExecutions)
	api.GET("/executions/:id", s.getExecution)
	api.POST("/executions/similar", s.similarExecutions)
	api.GET("/analytics", s.analytics)
	api.POST("/exports", s.runExport)

	return router
}

// observe records per-route request metrics.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(route, c.Request.Method, strconv.Itoa(c.Writer.Status()), time.Since(started))
	}
}

func (s *Server) createTask(c *gin.Context) {
	var body struct {
		Title        string            `json:"title"`
		Body         string            `json:"body"`
		RequiredRole string            `json:"required_role"`
		Priority     int               `json:"priority"`
		Creator      string            `json:"creator"`
		Parent       string            `json:"parent"`
		Workflow     string            `json:"workflow"`
		DependsOn    []string          `json:"depends_on"`
		Metadata     map[string]string `json:"metadata"`
		Tags         []string          `json:"tags"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	created, err := s.tasks.Create(c.Request.Context(), task.CreateRequest{
		Team:         c.Param("team"),
		Title:        body.Title,
		Body:         body.Body,
		RequiredRole: body.RequiredRole,
		Priority:     body.Priority,
		Creator:      body.Creator,
		Parent:       body.Parent,
		Workflow:     body.Workflow,
		DependsOn:    body.DependsOn,
		Metadata:     body.Metadata,
		Tags:         body.Tags,
	})
	if err != nil {
		failDomain(c, err)
		return
	}
	s.metrics.IncTaskTransition("created")
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getTask(c *gin.Context) {
	t, err := s.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) readyTasks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	ready, err := s.tasks.Ready(c.Request.Context(), c.Param("team"), c.Query("role"), c.Query("worker"), limit)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": ready})
}

func (s *Server) claimTask(c *gin.Context) {
	var body struct {
		WorkerID string `json:"worker_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	claimed, err := s.tasks.Claim(c.Request.Context(), c.Param("id"), body.WorkerID)
	if err != nil {
		failDomain(c, err)
		return
	}
	if claimed == nil {
		// Lost race: not an error in the conflict taxonomy.
		s.metrics.IncClaim("lost")
		c.JSON(http.StatusOK, gin.H{"claimed": false, "task": nil})
		return
	}
	s.metrics.IncClaim("won")
	s.metrics.IncTaskTransition("claimed")
	c.JSON(http.StatusOK, gin.H{"claimed": true, "task": claimed})
}

func (s *Server) completeTask(c *gin.Context) {
	var body struct {
		Result map[string]any `json:"result"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	t, err := s.tasks.Complete(c.Request.Context(), c.Param("id"), body.Result)
	if err != nil {
		failDomain(c, err)
		return
	}
	s.metrics.IncTaskTransition("completed")
	c.JSON(http.StatusOK, t)
}

func (s *Server) failTask(c *gin.Context) {
	var body struct {
		Error string `json:"error"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	t, err := s.tasks.Fail(c.Request.Context(), c.Param("id"), body.Error)
	if err != nil {
		failDomain(c, err)
		return
	}
	s.metrics.IncTaskTransition("failed")
	c.JSON(http.StatusOK, t)
}

func (s *Server) postMessage(c *gin.Context) {
	var m team.Message
	if err := c.ShouldBindJSON(&m); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	m.Team = c.Param("team")
	posted, err := s.teams.PostMessage(c.Request.Context(), m)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusCreated, posted)
}

func (s *Server) recentMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	messages, err := s.teams.RecentMessages(c.Request.Context(), c.Param("team"), limit)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) updateWorker(c *gin.Context) {
	var w team.Worker
	if err := c.ShouldBindJSON(&w); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	w.Team = c.Param("team")
	w.WorkerID = c.Param("worker")
	updated, err := s.teams.UpdateWorker(c.Request.Context(), w)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) listWorkers(c *gin.Context) {
	workers, err := s.teams.ListWorkers(c.Request.Context(), c.Param("team"))
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers})
}

func (s *Server) shareKnowledge(c *gin.Context) {
	var item team.KnowledgeItem
	if err := c.ShouldBindJSON(&item); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	item.Team = c.Param("team")
	shared, err := s.teams.ShareKnowledge(c.Request.Context(), item)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusCreated, shared)
}

func (s *Server) getKnowledge(c *gin.Context) {
	item, err := s.teams.GetKnowledge(c.Request.Context(), c.Param("team"), c.Param("key"))
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) registerArtifact(c *gin.Context) {
	var a team.Artifact
	if err := c.ShouldBindJSON(&a); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	a.Team = c.Param("team")
	registered, err := s.teams.RegisterArtifact(c.Request.Context(), a)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusCreated, registered)
}

func (s *Server) proposeDecision(c *gin.Context) {
	var d team.Decision
	if err := c.ShouldBindJSON(&d); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	d.Team = c.Param("team")
	proposed, err := s.teams.ProposeDecision(c.Request.Context(), d)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusCreated, proposed)
}

func (s *Server) castVote(c *gin.Context) {
	var body struct {
		Worker string `json:"worker"`
		Vote   string `json:"vote"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	decision, err := s.teams.CastVote(c.Request.Context(), c.Param("id"), body.Worker, team.Vote(body.Vote))
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// workflowGraphRequest is the submission shape: nodes plus edges, assembled
// through the dag builders so dependency links stay consistent.
type workflowGraphRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Nodes       []*dag.Node `json:"nodes"`
	Edges       []dag.Edge  `json:"edges"`
}

func (r workflowGraphRequest) build() (*dag.Graph, error) {
	g := dag.New("", r.Name)
	g.Description = r.Description
	for _, node := range r.Nodes {
		n := *node
		n.DependsOn = nil
		n.Dependents = nil
		if err := g.AddNode(&n); err != nil {
			return nil, err
		}
	}
	for _, edge := range r.Edges {
		if err := g.AddEdge(edge.From, edge.To); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (s *Server) createWorkflow(c *gin.Context) {
	var body workflowGraphRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	g, err := body.build()
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	d, err := s.workflows.Create(c.Request.Context(), c.Param("team"), g)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (s *Server) listWorkflows(c *gin.Context) {
	definitions, err := s.workflows.List(c.Request.Context(), c.Param("team"))
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": definitions})
}

func (s *Server) getWorkflow(c *gin.Context) {
	d, err := s.workflows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) workflowAction(action func(ctx context.Context, id string) (*workflow.Definition, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := action(c.Request.Context(), c.Param("id"))
		if err != nil {
			failDomain(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

func (s *Server) criticalPath(c *gin.Context) {
	path, err := s.workflows.CriticalPath(c.Request.Context(), c.Param("id"))
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (s *Server) addMember(c *gin.Context) {
	var body struct {
		Worker       string `json:"worker"`
		Persona      string `json:"persona"`
		Role         string `json:"role"`
		AddedBy      string `json:"added_by"`
		Reason       string `json:"reason"`
		InitialState string `json:"initial_state"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	m, err := s.members.AddMember(c.Request.Context(), member.AddMemberRequest{
		Team:         c.Param("team"),
		Worker:       body.Worker,
		Persona:      body.Persona,
		Role:         body.Role,
		AddedBy:      body.AddedBy,
		Reason:       body.Reason,
		InitialState: member.State(body.InitialState),
	})
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (s *Server) listMembers(c *gin.Context) {
	members, err := s.members.ListMembers(c.Request.Context(), c.Param("team"), member.State(c.Query("state")))
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (s *Server) updateMemberState(c *gin.Context) {
	var body struct {
		State  string `json:"state"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	m, err := s.members.UpdateMemberState(c.Request.Context(), c.Param("team"), c.Param("worker"),
		member.State(body.State), body.Reason)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) initiateHandoff(c *gin.Context) {
	var body struct {
		InitiatedBy string `json:"initiated_by"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	h, err := s.members.InitiateHandoff(c.Request.Context(), c.Param("team"), c.Param("worker"), body.InitiatedBy)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusCreated, h)
}

func (s *Server) completeHandoff(c *gin.Context) {
	var body struct {
		CompletedBy string         `json:"completed_by"`
		Update      member.Handoff `json:"update"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	h, err := s.members.CompleteHandoff(c.Request.Context(), c.Param("team"), c.Param("worker"),
		body.CompletedBy, body.Update)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) memberPerformance(c *gin.Context) {
	report, err := s.members.Performance(c.Request.Context(), c.Param("team"), c.Param("worker"))
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) assignRole(c *gin.Context) {
	var body struct {
		Role       string `json:"role"`
		Worker     string `json:"worker"`
		AssignedBy string `json:"assigned_by"`
		Reason     string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	assignment, err := s.members.AssignRole(c.Request.Context(), c.Param("team"),
		body.Role, body.Worker, body.AssignedBy, body.Reason)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, assignment)
}

func (s *Server) resolveRole(c *gin.Context) {
	worker, err := s.members.ResolveRole(c.Request.Context(), c.Param("team"), c.Param("role"))
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"worker": worker})
}

func (s *Server) recordApproval(c *gin.Context) {
	var a governance.Approval
	if err := c.ShouldBindJSON(&a); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	a.Team = c.Param("team")
	recorded, err := s.gates.RecordApproval(c.Request.Context(), a)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusCreated, recorded)
}

func (s *Server) checkGate(c *gin.Context) {
	var body struct {
		Team      string         `json:"team"`
		Actor     string         `json:"actor"`
		Documents []string       `json:"documents"`
		Values    map[string]any `json:"values"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	result, err := s.gates.CheckPhaseGate(c.Request.Context(), c.Param("id"), c.Param("phase"), governance.GateContext{
		Team:      body.Team,
		Documents: body.Documents,
		Values:    body.Values,
	}, body.Actor)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) auditTrail(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": s.gates.AuditTrail()})
}

func (s *Server) fairnessScore(c *gin.Context) {
	teamID := c.Param("team")
	c.JSON(http.StatusOK, gin.H{
		"score":               s.fairness.Score(teamID, time.Now().UTC()),
		"suggested_threshold": s.fairness.SuggestedThreshold(teamID),
	})
}

func (s *Server) fairnessWorker(c *gin.Context) {
	teamID, worker := c.Param("team"), c.Param("worker")
	now := time.Now().UTC()
	until, cooling := s.fairness.CoolingOffUntil(teamID, worker, now)
	resp := gin.H{
		"assignments":       s.fairness.AssignmentCount(teamID, worker, now),
		"cooling_off":       cooling,
		"weight_adjustment": s.fairness.WeightAdjustment(teamID, worker, now),
	}
	if cooling {
		resp["cooling_off_until"] = until
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) reportIncident(c *gin.Context) {
	var req struct {
		Worker      string `json:"worker"`
		Severity    string `json:"severity"`
		Description string `json:"description"`
		ReportedBy  string `json:"reported_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	incident := s.incidents.Report(c.Param("team"), req.Worker,
		fairness.Severity(req.Severity), req.Description, req.ReportedBy)
	c.JSON(http.StatusCreated, incident)
}

func (s *Server) listIncidents(c *gin.Context) {
	incidents := s.incidents.List(c.Param("team"), fairness.IncidentStatus(c.Query("status")))
	c.JSON(http.StatusOK, gin.H{"incidents": incidents})
}

func (s *Server) transitionIncident(c *gin.Context) {
	var req struct {
		To   string `json:"to"`
		Note string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	incident, err := s.incidents.Transition(c.Param("id"), fairness.IncidentStatus(req.To), req.Note)
	if err != nil {
		if errors.Is(err, fairness.ErrIncidentNotFound) {
			fail(c, http.StatusNotFound, "not_found", err)
			return
		}
		fail(c, http.StatusConflict, "conflict", err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (s *Server) queryExecutions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	filter := history.Filter{
		Persona:     c.Query("persona"),
		Outcome:     history.Outcome(c.Query("outcome")),
		Correlation: c.Query("correlation"),
		User:        c.Query("user"),
		Tag:         c.Query("tag"),
		HasError:    c.Query("has_error") == "true",
		Limit:       limit,
		Offset:      offset,
	}
	records, err := s.queries.Filter(c.Request.Context(), filter)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": records})
}

func (s *Server) getExecution(c *gin.Context) {
	record, err := s.historians.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) similarExecutions(c *gin.Context) {
	var body struct {
		Embedding []float32 `json:"embedding"`
		K         int       `json:"k"`
		MinScore  float64   `json:"min_score"`
		Outcome   string    `json:"outcome"`
		Persona   string    `json:"persona"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	results, err := s.queries.Similar(c.Request.Context(), history.SimilarQuery{
		Embedding: body.Embedding,
		K:         body.K,
		MinScore:  body.MinScore,
		Outcome:   history.Outcome(body.Outcome),
		Persona:   body.Persona,
	})
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) analytics(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid_argument", err)
			return
		}
		since = parsed
	}
	report, err := s.queries.Analyze(c.Request.Context(), c.Query("persona"), since)
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) runExport(c *gin.Context) {
	var body struct {
		Format  string `json:"format"`
		Path    string `json:"path"`
		Gzip    bool   `json:"gzip"`
		Persona string `json:"persona"`
		Outcome string `json:"outcome"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	result, err := s.exporter.Export(c.Request.Context(), history.Filter{
		Persona: body.Persona,
		Outcome: history.Outcome(body.Outcome),
	}, export.Options{
		Format: export.Format(body.Format),
		Path:   body.Path,
		Gzip:   body.Gzip,
	})
	if err != nil {
		failDomain(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
