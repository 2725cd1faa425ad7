package protocol

import (
	"encoding/json"
	"fmt"
)

// LinkRequestType tags an inbound user request.
type LinkRequestType string

const (
	LinkConnect    LinkRequestType = "connect"
	LinkDisconnect LinkRequestType = "disconnect"
)

// LinkRequest is the text JSON message a user client sends to pair with or
// unpair from a device.
type LinkRequest struct {
	Type     LinkRequestType `json:"type"`
	DeviceID DeviceID        `json:"device_id,omitempty"`
}

// ParseLinkRequest decodes and validates a wire LinkRequest.
func ParseLinkRequest(data []byte) (LinkRequest, error) {
	var req LinkRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return LinkRequest{}, fmt.Errorf("malformed link request: %w", err)
	}

	switch req.Type {
	case LinkConnect:
		if req.DeviceID == "" {
			return LinkRequest{}, fmt.Errorf("connect request without device_id")
		}
	case LinkDisconnect:
		// A stray device_id is tolerated and dropped; disconnect never
		// targets a device.
		req.DeviceID = ""
	default:
		return LinkRequest{}, fmt.Errorf("unknown link request type: %q", req.Type)
	}

	return req, nil
}

// UserStatus tags an outbound user response.
type UserStatus string

const (
	StatusConnected    UserStatus = "connected"
	StatusDisconnected UserStatus = "disconnected"
	StatusNoSuchDevice UserStatus = "no_such_device"
	StatusDropped      UserStatus = "dropped"
)

// UserResponse is the text JSON message sent back to a user client.
// DeviceID is present only for StatusConnected.
type UserResponse struct {
	Status   UserStatus `json:"status"`
	DeviceID DeviceID   `json:"device_id,omitempty"`
}
