package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuswallet.org/internal/events"
	"campuswallet.org/internal/ledger"
)

func TestStreamDeliversOwnMovements(t *testing.T) {
	c := newTestAPI(t)
	s := c.seed()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/stream", nil)
	require.NoError(t, err)
	req.Header.Set(authHeader, bearer+c.token(s.bobID))
	resp, err := c.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	require.Equal(t, ": stream started", lines.Text())

	// alice's cash-in does not involve bob; the transfer does
	c.fund(s.aliceID, "50")
	var sent ledger.Entry
	r := c.call(http.MethodPost, "/v1/transfers", &s.aliceID, map[string]any{"receiver": s.bob.ID, "amount": "20"}, &sent)
	require.Equal(t, http.StatusCreated, r.StatusCode)

	var evt events.Event
	for lines.Scan() {
		line := lines.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			require.NoError(t, json.Unmarshal([]byte(data), &evt))
			break
		}
	}
	assert.Equal(t, events.TypeEntryCompleted, evt.Type)
	assert.Equal(t, sent.ID, evt.Entry.ID)
	assert.Equal(t, s.bob.ID, evt.Entry.ReceiverID)
}
