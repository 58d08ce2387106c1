package directline

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"dlbridge/internal/activity"
)

// socketLoop reads activity sets from the stream socket until the socket
// closes or Stop is called. The loop owns the activities channel.
func (c *Client) socketLoop(conn *websocket.Conn) {
	defer close(c.activities)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stop:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Error("stream read error", "err", err)
				}
				c.Stop()
			}
			return
		}
		// The service sends empty keepalive frames.
		if len(frame) == 0 {
			continue
		}
		var set activity.Set
		if err := json.Unmarshal(frame, &set); err != nil {
			c.logger.Warn("malformed stream frame", "err", err)
			continue
		}
		if !c.deliverSet(&set) {
			return
		}
	}
}

// pollLoop fetches the activity backlog at the configured interval,
// tracking the server watermark. The loop owns the activities channel.
func (c *Client) pollLoop() {
	defer close(c.activities)
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			set, err := c.fetchActivities()
			if err != nil {
				c.logger.Warn("poll failed", "err", err)
				continue
			}
			if !c.deliverSet(set) {
				return
			}
		}
	}
}

// deliverSet pushes a batch downstream in arrival order and advances the
// watermark. Returns false when the client stopped mid-delivery.
func (c *Client) deliverSet(set *activity.Set) bool {
	for _, a := range set.Activities {
		select {
		case c.activities <- a:
		case <-c.stop:
			return false
		}
	}
	if set.Watermark != "" {
		c.mu.Lock()
		c.watermark = set.Watermark
		c.mu.Unlock()
	}
	return true
}

func (c *Client) fetchActivities() (*activity.Set, error) {
	c.mu.Lock()
	watermark := c.watermark
	convID := c.convID
	c.mu.Unlock()

	endpoint := fmt.Sprintf("%s/conversations/%s/activities", c.domain, convID)
	if watermark != "" {
		endpoint += "?watermark=" + url.QueryEscape(watermark)
	}
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch activities: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch activities: status %d: %s", resp.StatusCode, truncate(body))
	}
	var set activity.Set
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("fetch activities: decode: %w", err)
	}
	return &set, nil
}
