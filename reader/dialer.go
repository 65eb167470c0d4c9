package reader

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tradedash/internal/venue"
)

// Conn is the part of a websocket connection the manager relies on.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens push channel connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials with gorilla/websocket.
type WSDialer struct {
	Dialer    *websocket.Dialer
	UserAgent string
}

func NewWSDialer(handshakeTimeout time.Duration, userAgent string) *WSDialer {
	d := *websocket.DefaultDialer
	if handshakeTimeout > 0 {
		d.HandshakeTimeout = handshakeTimeout
	}
	if userAgent == "" {
		userAgent = venue.DefaultUserAgent
	}
	return &WSDialer{Dialer: &d, UserAgent: userAgent}
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	header.Set("User-Agent", d.UserAgent)

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
