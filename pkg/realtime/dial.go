package realtime

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// DefaultEndpoint is the realtime session WebSocket endpoint. The model is
// appended as a query parameter.
const DefaultEndpoint = "wss://api.openai.com/v1/realtime"

// Dialer opens realtime session sockets. Endpoint is overridable for tests.
type Dialer struct {
	APIKey   string
	Model    string
	Endpoint string
}

// Dial opens a WebSocket connection to the realtime endpoint with the
// required auth headers.
func (d *Dialer) Dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	url := endpoint
	if d.Model != "" {
		url = fmt.Sprintf("%s?model=%s", endpoint, d.Model)
	}

	headers := http.Header{}
	if d.APIKey != "" {
		headers.Set("Authorization", "Bearer "+d.APIKey)
		headers.Set("OpenAI-Beta", "realtime=v1")
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: dial failed: %w", err)
	}
	return conn, nil
}
