package socket

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// gorillaDial is the default DialFunc backing real connections.
func gorillaDial(ctx context.Context, url string, header http.Header) (wsConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}
