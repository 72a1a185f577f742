package main

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elijahnyp/lighting_zone/state"
	. "github.com/elijahnyp/lighting_zone/util"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Data interface{} `json:"data"`
	Type string      `json:"type"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn *websocket.Conn
	send chan WebSocketMessage
	hub  *WSHub
}

// WSHub maintains the set of active clients and broadcasts messages
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan WebSocketMessage
	register   chan *WSClient
	unregister chan *WSClient
}

// SystemStatus represents the overall system status
type SystemStatus struct {
	Zones          []WebZoneStatus `json:"zones"`
	TotalZones     int             `json:"total_zones"`
	ZonesOn        int             `json:"zones_on"`
	ZonesAvailable int             `json:"zones_available"`
	TotalMembers   int             `json:"total_members"`
	DispatchMode   string          `json:"dispatch_mode"`
}

// WebZoneStatus represents zone status for web interface
type WebZoneStatus struct {
	Name       string   `json:"name"`
	UniqueID   string   `json:"unique_id"`
	State      string   `json:"state"`
	Available  bool     `json:"available"`
	Members    []string `json:"members"`
	MembersOn  []string `json:"members_on"`
	MembersOff []string `json:"members_off"`
	Timestamp  int64    `json:"timestamp"`
}

// MemberStatus is one member with its last known state
type MemberStatus struct {
	EntityID   string `json:"entity_id"`
	StateTopic string `json:"state_topic"`
	State      string `json:"state"`
	Present    bool   `json:"present"`
}

// ZoneDetail represents detailed zone information
type ZoneDetail struct {
	WebZoneStatus
	MemberStates []MemberStatus `json:"member_states"`
	Topics       ZoneTopics     `json:"topics"`
}

type ZoneTopics struct {
	State        string `json:"state"`
	Availability string `json:"availability"`
	Attributes   string `json:"attributes"`
	DimAbsolute  string `json:"dim_absolute"`
	DimRelative  string `json:"dim_relative"`
}

// DimResponse is returned after a zone dim completes
type DimResponse struct {
	Zone    string            `json:"zone"`
	Members int               `json:"members"`
	Failed  map[string]string `json:"failed,omitempty"`
	Error   string            `json:"error,omitempty"`
}

var wsHub *WSHub

func init() {
	wsHub = NewHub()
	go wsHub.Run()
}

// NewHub creates a new WebSocket hub
func NewHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WebSocketMessage),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the WebSocket hub
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			Logger.Info().Msg("Client connected to WebSocket")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				Logger.Info().Msg("Client disconnected from WebSocket")
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// BroadcastUpdate sends an update to all connected clients
func (h *WSHub) BroadcastUpdate(messageType string, data interface{}) {
	select {
	case h.broadcast <- WebSocketMessage{Type: messageType, Data: data}:
	default:
		// hub busy, skip this update
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		if err := c.conn.Close(); err != nil {
			Logger.Error().Err(err).Msg("Error closing WebSocket connection")
		}
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *WSClient) writePump() {
	defer func() {
		if err := c.conn.Close(); err != nil {
			Logger.Debug().Err(err).Msg("Error closing WebSocket connection")
		}
	}()

	for message := range c.send {
		if err := c.conn.WriteJSON(message); err != nil {
			return
		}
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		Logger.Debug().Err(err).Msg("Error writing close message")
	}
}

// ServeWebSocket handles websocket requests from the peer
func ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan WebSocketMessage, 256),
		hub:  wsHub,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func newWebZoneStatus(z Zone, zs state.ZoneState) WebZoneStatus {
	return WebZoneStatus{
		Name:       z.Name,
		UniqueID:   z.ID(),
		State:      zs.Value(),
		Available:  zs.Available,
		Members:    zs.Members,
		MembersOn:  zs.MembersOn,
		MembersOff: zs.MembersOff,
		Timestamp:  time.Now().Unix(),
	}
}

// webZoneStatus reports the last published state, or a fresh aggregate when
// the zone has not been computed yet.
func webZoneStatus(z Zone) WebZoneStatus {
	zs, ok := ZoneStatus(z.Name)
	if !ok {
		zs = state.Aggregate(z.MemberIDs(), member_store.Get)
	}
	return newWebZoneStatus(z, zs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger.Error().Err(err).Msg("Error encoding response")
	}
}

// APISystemStatus returns the overall system status as JSON
func APISystemStatus(w http.ResponseWriter, r *http.Request) {
	m := currentModel()
	status := SystemStatus{
		Zones:        []WebZoneStatus{},
		TotalZones:   len(m.Zones),
		DispatchMode: Config.GetString("dispatch.mode"),
	}
	for _, z := range m.Zones {
		zs := webZoneStatus(z)
		if zs.State == state.On {
			status.ZonesOn++
		}
		if zs.Available {
			status.ZonesAvailable++
		}
		status.Zones = append(status.Zones, zs)
	}
	status.TotalMembers = len(m.Entities())
	writeJSON(w, http.StatusOK, status)
}

// APIZoneDetail returns detailed information about a specific zone
func APIZoneDetail(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("zone")
	if name == "" {
		http.Error(w, "Zone name required", http.StatusBadRequest)
		return
	}
	z, ok := currentModel().FindZone(name)
	if !ok {
		http.Error(w, "Zone not found", http.StatusNotFound)
		return
	}
	detail := ZoneDetail{
		WebZoneStatus: webZoneStatus(z),
		MemberStates:  []MemberStatus{},
		Topics: ZoneTopics{
			State:        z.StateTopic(),
			Availability: z.AvailabilityTopic(),
			Attributes:   z.AttributesTopic(),
			DimAbsolute:  z.DimAbsoluteTopic(),
			DimRelative:  z.DimRelativeTopic(),
		},
	}
	for _, member := range z.Members {
		value, present := member_store.Get(member.EntityID)
		detail.MemberStates = append(detail.MemberStates, MemberStatus{
			EntityID:   member.EntityID,
			StateTopic: member.Topic(),
			State:      value,
			Present:    present,
		})
	}
	writeJSON(w, http.StatusOK, detail)
}

func apiDim(kind int) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["zone"]
		z, ok := currentModel().FindZone(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, DimResponse{Zone: name, Error: "zone not found"})
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, DimResponse{Zone: z.Name, Error: err.Error()})
			return
		}
		req, err := parseDimRequest(kind, body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, DimResponse{Zone: z.Name, Error: err.Error()})
			return
		}

		result := make(chan error, 1)
		select {
		case dim_channel <- DimItem{Zone: z.Name, Request: req, Result: result}:
		case <-r.Context().Done():
			return
		}
		select {
		case err = <-result:
		case <-r.Context().Done():
			return
		}

		resp := DimResponse{Zone: z.Name, Members: len(z.Members)}
		if err == nil {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		resp.Error = err.Error()
		var fanout *state.FanoutError
		if errors.As(err, &fanout) {
			resp.Failed = make(map[string]string)
			for id, ferr := range fanout.Failed {
				resp.Failed[id] = ferr.Error()
			}
			writeJSON(w, http.StatusBadGateway, resp)
			return
		}
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

// HomeHandler serves an overview table of all zones
func HomeHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "text/html")
	writeString := func(s string) {
		if _, err := io.WriteString(w, s); err != nil {
			Logger.Error().Msgf("Error writing response: %v", err)
		}
	}
	writeString("<html><body><table>")
	writeString("<tr><th>Zone</th><th>State</th><th>Available</th><th>On</th><th>Off</th><th>Members</th></tr>")
	for _, z := range currentModel().Zones {
		zs := webZoneStatus(z)
		writeString("<tr>")
		writeString(fmt.Sprintf("<td><a href=\"/api/zone?zone=%s\">%s</a></td>", html.EscapeString(z.Slug()), html.EscapeString(z.Name)))
		writeString(fmt.Sprintf("<td>%s</td>", zs.State))
		writeString(fmt.Sprintf("<td>%v</td>", zs.Available))
		writeString(fmt.Sprintf("<td>%s</td>", html.EscapeString(strings.Join(zs.MembersOn, ", "))))
		writeString(fmt.Sprintf("<td>%s</td>", html.EscapeString(strings.Join(zs.MembersOff, ", "))))
		writeString(fmt.Sprintf("<td>%d</td>", len(zs.Members)))
		writeString("</tr>")
	}
	writeString("</table></body></html>")
}

func registerWebHandlers(monitor *MonitorServer) {
	monitor.AddHandler("/", HomeHandler, http.MethodGet)
	monitor.AddHandler("/ws", ServeWebSocket)
	monitor.AddHandler("/api/status", APISystemStatus, http.MethodGet)
	monitor.AddHandler("/api/zone", APIZoneDetail, http.MethodGet)
	monitor.AddHandler("/api/zone/{zone}/dim_absolute", apiDim(DIM_ABSOLUTE), http.MethodPost)
	monitor.AddHandler("/api/zone/{zone}/dim_relative", apiDim(DIM_RELATIVE), http.MethodPost)
}
