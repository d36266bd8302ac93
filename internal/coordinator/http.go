package coordinator

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/coordhub/coordhub/internal/apierr"
)

// MaxPayloadSize bounds request bodies the same way the teacher's handlers
// guard against oversized uploads.
const MaxPayloadSize = 1 << 20 // 1MiB

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Router builds the gorilla/mux router exposing every Coordinator operation
// under /coordinator, per spec §6.
func (c *Coordinator) Router() *mux.Router {
	c.hub.onDisconnect = c.markOffline
	c.hub.onInbound = c.handleInboundFrame

	r := mux.NewRouter()
	api := r.PathPrefix("/coordinator").Subrouter()

	api.HandleFunc("/ws", c.handleWebSocket).Methods("GET")

	api.HandleFunc("/agents", c.handleListAgents).Methods("GET")
	api.HandleFunc("/agents", c.handleUpsertAgent).Methods("POST")

	api.HandleFunc("/chat", c.handleTailChat).Methods("GET")
	api.HandleFunc("/chat", c.handleAppendChat).Methods("POST")
	api.HandleFunc("/chat/{id}/reactions", c.handleAddReaction).Methods("POST")

	api.HandleFunc("/tasks", c.handleListTasks).Methods("GET")
	api.HandleFunc("/tasks", c.handleTasksPost).Methods("POST")
	api.HandleFunc("/tasks/{id}", c.handlePatchTask).Methods("PATCH")

	api.HandleFunc("/zones", c.handleListZones).Methods("GET")
	api.HandleFunc("/zones", c.handleZonesPost).Methods("POST")
	api.HandleFunc("/zones/query", c.handleQueryZone).Methods("GET")

	api.HandleFunc("/claims", c.handleListClaims).Methods("GET")
	api.HandleFunc("/claims", c.handleClaimsPost).Methods("POST")

	api.HandleFunc("/handoffs", c.handleListHandoffs).Methods("GET")
	api.HandleFunc("/handoffs", c.handleHandoffsPost).Methods("POST")

	api.HandleFunc("/work", c.handleWork).Methods("GET")
	api.HandleFunc("/onboard", c.handleOnboard).Methods("GET")
	api.HandleFunc("/session-resume", c.handleSessionResume).Methods("GET")

	return r
}

func (c *Coordinator) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	if agentID == "" {
		respondErr(w, apierr.Validationf("agentId query parameter is required"))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sub := c.hub.register(agentID, conn)

	_, aerr := c.markActiveLocking(agentID)
	if aerr == nil {
		agents, lerr := c.ListAgents()
		if lerr != nil {
			agents = nil
		}
		var active []*Agent
		for _, a := range agents {
			if a.Status == AgentActive {
				active = append(active, a)
			}
		}
		c.hub.sendTo(agentID, WSWelcome, map[string]interface{}{"agentId": agentID, "agents": active})
		if c.onboarder != nil {
			if snap, ok, err := c.onboarder.GetDashboardSnapshot(agentID); err == nil && ok {
				c.hub.sendTo(agentID, WSStateSync, snap)
			}
		}
	}

	go sub.writePump()
	go sub.readPump(c.hub)
}

// handleInboundFrame dispatches a frame a subscriber sent over the push
// channel, per spec §6: ping replies pong and refreshes lastSeen; chat
// appends and broadcasts; agent-update changes status.
func (c *Coordinator) handleInboundFrame(agentID string, msg WSMessage) {
	switch msg.Type {
	case WSPing:
		c.touchLastSeen(agentID)
		c.hub.sendTo(agentID, WSPong, map[string]interface{}{})
	case WSChat:
		var body struct {
			Author     string     `json:"author"`
			AuthorType AuthorType `json:"authorType"`
			Message    string     `json:"message"`
		}
		if !decodeFrameData(msg.Data, &body) {
			return
		}
		if body.Author == "" {
			body.Author = agentID
		}
		if body.AuthorType == "" {
			body.AuthorType = AuthorAgent
		}
		_, _ = c.AppendChat(body.Author, body.AuthorType, body.Message)
	case WSAgentUpdate:
		var body struct {
			Status      *AgentStatus `json:"status"`
			CurrentTask *string      `json:"currentTask"`
			WorkingOn   *string      `json:"workingOn"`
		}
		if !decodeFrameData(msg.Data, &body) {
			return
		}
		_, _ = c.UpsertAgent(AgentUpsert{
			AgentID: agentID, Status: body.Status, CurrentTask: body.CurrentTask, WorkingOn: body.WorkingOn,
		})
	}
}

// decodeFrameData re-marshals a push-channel frame's loosely typed Data
// field into a concrete struct.
func decodeFrameData(data interface{}, out interface{}) bool {
	b, err := json.Marshal(data)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, out) == nil
}

// markActiveLocking takes the instance lock itself, for callers (like the
// websocket handshake) that are not already holding it.
func (c *Coordinator) markActiveLocking(agentID string) (*Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markActive(agentID)
}

func decodeJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxPayloadSize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[coordinator] encode response: %v", err)
	}
}

// respondErr maps an apierr.Error to its HTTP status; non-apierr errors
// (should not happen past this package's boundary) fall back to 500.
func respondErr(w http.ResponseWriter, err error) {
	ae, ok := apierr.As(err)
	if !ok {
		ae = apierr.Storagef(err, "unexpected error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.Kind.Status())
	respondJSON(w, map[string]interface{}{"error": ae.Message, "kind": string(ae.Kind), "details": ae.Details})
}

func (c *Coordinator) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := c.ListAgents()
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, agents)
}

func (c *Coordinator) handleUpsertAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID      string       `json:"agentId"`
		Status       *AgentStatus `json:"status"`
		CurrentTask  *string      `json:"currentTask"`
		WorkingOn    *string      `json:"workingOn"`
		Capabilities []string     `json:"capabilities"`
		Offers       []string     `json:"offers"`
		Needs        []string     `json:"needs"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	a, err := c.UpsertAgent(AgentUpsert{
		AgentID: body.AgentID, Status: body.Status, CurrentTask: body.CurrentTask,
		WorkingOn: body.WorkingOn, Capabilities: body.Capabilities, Offers: body.Offers, Needs: body.Needs,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, a)
}

func (c *Coordinator) handleTailChat(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := c.TailChat(limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, msgs)
}

func (c *Coordinator) handleAppendChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Author     string     `json:"author"`
		AuthorType AuthorType `json:"authorType"`
		Message    string     `json:"message"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	if body.AuthorType == "" {
		body.AuthorType = AuthorAgent
	}
	m, err := c.AppendChat(body.Author, body.AuthorType, body.Message)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, m)
}

func (c *Coordinator) handleAddReaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		By    string `json:"by"`
		Emoji string `json:"emoji"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	m, err := c.AddReaction(id, body.By, body.Emoji)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, m)
}

func (c *Coordinator) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := c.ListTasks()
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, tasks)
}

// taskActionBody covers every field any task POST action might carry; unused
// fields are simply left zero for a given action.
type taskActionBody struct {
	Action      string       `json:"action"`
	ID          string       `json:"id"`
	AgentID     string       `json:"agentId"`
	Reason      string       `json:"reason"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    TaskPriority `json:"priority"`
	CreatedBy   string       `json:"createdBy"`
	Tags        []string     `json:"tags"`
	Files       []string     `json:"files"`
}

// handleTasksPost dispatches POST /tasks per §6: action∈{pickup,complete,
// block,release}, defaulting to create when action is absent.
func (c *Coordinator) handleTasksPost(w http.ResponseWriter, r *http.Request) {
	var body taskActionBody
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	var t *Task
	var err error
	switch body.Action {
	case "pickup":
		t, err = c.Pickup(body.ID, body.AgentID)
	case "complete":
		t, err = c.Complete(body.ID, body.AgentID)
	case "block":
		t, err = c.Block(body.ID, body.AgentID, body.Reason)
	case "release":
		t, err = c.Release(body.ID, body.AgentID)
	case "", "create":
		t, err = c.CreateTask(TaskCreate{
			Title: body.Title, Description: body.Description, Priority: body.Priority,
			CreatedBy: body.CreatedBy, Tags: body.Tags, Files: body.Files,
		})
	default:
		err = apierr.Validationf("unknown task action %q", body.Action)
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, t)
}

func (c *Coordinator) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body TaskPatch
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	t, err := c.PatchTask(id, body)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, t)
}

func (c *Coordinator) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones, err := c.ListZones()
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, zones)
}

// handleZonesPost dispatches POST /zones per §6: action∈{claim,release},
// defaulting to claim.
func (c *Coordinator) handleZonesPost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action      string `json:"action"`
		ZoneID      string `json:"zoneId"`
		Path        string `json:"path"`
		Owner       string `json:"owner"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	switch body.Action {
	case "release":
		if err := c.ReleaseZone(body.ZoneID, body.Owner); err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, map[string]interface{}{"released": true, "zoneId": body.ZoneID})
	case "", "claim":
		z, err := c.ClaimZone(body.ZoneID, body.Path, body.Owner, body.Description)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, z)
	default:
		respondErr(w, apierr.Validationf("unknown zone action %q", body.Action))
	}
}

func (c *Coordinator) handleQueryZone(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	z, err := c.QueryZonePath(path)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, z)
}

func (c *Coordinator) handleListClaims(w http.ResponseWriter, r *http.Request) {
	includeStale := r.URL.Query().Get("includeStale") == "true"
	claims, err := c.ListClaims(includeStale)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, claims)
}

// handleClaimsPost dispatches POST /claims per §6: action∈{claim,release},
// defaulting to claim.
func (c *Coordinator) handleClaimsPost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action      string `json:"action"`
		What        string `json:"what"`
		By          string `json:"by"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	switch body.Action {
	case "release":
		if err := c.ReleaseClaim(body.What, body.By); err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, map[string]interface{}{"released": true, "what": body.What})
	case "", "claim":
		cl, err := c.Claim(body.What, body.By, body.Description)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, cl)
	default:
		respondErr(w, apierr.Validationf("unknown claim action %q", body.Action))
	}
}

func (c *Coordinator) handleListHandoffs(w http.ResponseWriter, r *http.Request) {
	handoffs, err := c.ListHandoffs()
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, handoffs)
}

// handleHandoffsPost dispatches POST /handoffs per §6:
// action∈{create,claim,complete}, defaulting to create.
func (c *Coordinator) handleHandoffsPost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action    string       `json:"action"`
		ID        string       `json:"id"`
		AgentID   string       `json:"agentId"`
		FromAgent string       `json:"fromAgent"`
		ToAgent   string       `json:"toAgent"`
		Title     string       `json:"title"`
		Context   string       `json:"context"`
		Code      string       `json:"code"`
		FilePath  string       `json:"filePath"`
		NextSteps []string     `json:"nextSteps"`
		Priority  TaskPriority `json:"priority"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	var h *Handoff
	var err error
	switch body.Action {
	case "claim":
		h, err = c.ClaimHandoff(body.ID, body.AgentID)
	case "complete":
		h, err = c.CompleteHandoff(body.ID, body.AgentID)
	case "", "create":
		h, err = c.CreateHandoff(HandoffCreate{
			FromAgent: body.FromAgent, ToAgent: body.ToAgent, Title: body.Title, Context: body.Context,
			Code: body.Code, FilePath: body.FilePath, NextSteps: body.NextSteps, Priority: body.Priority,
		})
	default:
		err = apierr.Validationf("unknown handoff action %q", body.Action)
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, h)
}

func (c *Coordinator) handleWork(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	bundle, err := c.WorkBundleFor(agentID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, bundle)
}

func (c *Coordinator) handleOnboard(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	bundle, err := c.Onboard(agentID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, bundle)
}

func (c *Coordinator) handleSessionResume(w http.ResponseWriter, r *http.Request) {
	bundle, err := c.SessionResume()
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, bundle)
}
