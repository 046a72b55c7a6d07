package websocket

import (
	"time"

	"github.com/coder/websocket"
)

// MessageType tells the browser client what to do with an update.
type MessageType string

const (
	// MessageCSS asks the client to swap matching stylesheets in place.
	MessageCSS MessageType = "css"
	// MessageReload asks for a full page reload.
	MessageReload MessageType = "reload"
	// MessageError reports a failed build without reloading.
	MessageError MessageType = "error"
)

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type    MessageType `json:"type"`
	BuildID string      `json:"build_id,omitempty"`
	Task    string      `json:"task,omitempty"`
	// Paths are URL paths below the server root, e.g. "/css/main.css".
	Paths     []string  `json:"paths,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client represents a connected live-reload browser tab
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
}
