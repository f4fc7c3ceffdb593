// internal/realtime/rooms.go
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/unclebandit/voicereach-engine/internal/model"
)

// Client -> server command types.
const (
	CmdSubscribeCampaign    = "subscribe:campaign"
	CmdUnsubscribeCampaign  = "unsubscribe:campaign"
	CmdSubscribeAnalytics   = "subscribe:analytics"
	CmdUnsubscribeAnalytics = "unsubscribe:analytics"
	CmdSubscribeSessions    = "subscribe:sessions"
	CmdUnsubscribeSessions  = "unsubscribe:sessions"
)

// Command is a subscription request sent by a client.
type Command struct {
	Type       string            `json:"type"`
	CampaignID string            `json:"campaignId,omitempty"`
	Filters    map[string]string `json:"filters,omitempty"`
}

const globalAnalyticsRoom = "analytics:global"

func CampaignRoom(id string) string         { return "campaign:" + id }
func AnalyticsRoom(userID string) string    { return "analytics:" + userID }
func SessionsRoom(userID string) string     { return "sessions:" + userID }
func CampaignSessionsRoom(id string) string { return "sessions:campaign:" + id }

func (h *Hub) handleCommand(c *Conn, cmd Command) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch cmd.Type {
	case CmdSubscribeCampaign, CmdUnsubscribeCampaign:
		id := cmd.CampaignID
		if id == "" {
			id = cmd.Filters["campaignId"]
		}
		if id == "" {
			return fmt.Errorf("%s requires campaignId", cmd.Type)
		}
		if cmd.Type == CmdSubscribeCampaign {
			h.joinLocked(c, CampaignRoom(id))
		} else {
			h.leaveLocked(c, CampaignRoom(id))
		}

	case CmdSubscribeAnalytics:
		h.joinLocked(c, AnalyticsRoom(c.User.ID))
		if c.User.Role.Privileged() {
			h.joinLocked(c, globalAnalyticsRoom)
		}
	case CmdUnsubscribeAnalytics:
		h.leaveLocked(c, AnalyticsRoom(c.User.ID))
		h.leaveLocked(c, globalAnalyticsRoom)

	case CmdSubscribeSessions:
		h.joinLocked(c, SessionsRoom(c.User.ID))
		if id := cmd.Filters["campaignId"]; id != "" {
			h.joinLocked(c, CampaignSessionsRoom(id))
		}
	case CmdUnsubscribeSessions:
		if id := cmd.Filters["campaignId"]; id != "" {
			h.leaveLocked(c, CampaignSessionsRoom(id))
			break
		}
		h.leaveLocked(c, SessionsRoom(c.User.ID))
		for room := range c.rooms {
			if strings.HasPrefix(room, "sessions:campaign:") {
				h.leaveLocked(c, room)
			}
		}

	default:
		return fmt.Errorf("unknown command %q", cmd.Type)
	}
	h.log.Debug().Str("conn", c.ID).Str("cmd", cmd.Type).Msg("command applied")
	return nil
}

func (h *Hub) joinLocked(c *Conn, room string) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Conn]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Conn, room string) {
	delete(c.rooms, room)
	if members := h.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) encode(event string, data any) ([]byte, bool) {
	b, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode event")
		return nil, false
	}
	return b, true
}

// EmitToCampaign reaches members of the campaign room and of the campaign's
// sessions room, each connection once.
func (h *Hub) EmitToCampaign(campaignID, event string, data any) {
	msg, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[*Conn]struct{})
	for _, room := range []string{CampaignRoom(campaignID), CampaignSessionsRoom(campaignID)} {
		for c := range h.rooms[room] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			h.deliverLocked(c, msg)
		}
	}
}

// EmitToUser reaches every live connection of userID.
func (h *Hub) EmitToUser(userID, event string, data any) {
	msg, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byUser[userID] {
		h.deliverLocked(c, msg)
	}
}

func (h *Hub) EmitToRole(role model.Role, event string, data any) {
	msg, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if c.User.Role == role {
			h.deliverLocked(c, msg)
		}
	}
}

func (h *Hub) EmitGlobal(event string, data any) {
	msg, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		h.deliverLocked(c, msg)
	}
}
