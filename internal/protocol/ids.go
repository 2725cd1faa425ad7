// Package protocol defines the identifiers and wire messages exchanged with
// user clients (text JSON) and capture devices (binary CBOR).
package protocol

// UserID identifies a user session. Compared by value.
type UserID string

// DeviceID identifies a capture device session.
type DeviceID string

// VideoID identifies one recorded video and its derived artifacts.
type VideoID string

func (id UserID) String() string   { return string(id) }
func (id DeviceID) String() string { return string(id) }
func (id VideoID) String() string  { return string(id) }
