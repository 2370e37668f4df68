package cli

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dispatch/internal/ir"
)

func readEvents(t *testing.T, db string, args ...string) EventsResult {
	t.Helper()
	out, err := execute(t, db, append([]string{"events", "--format", "json"}, args...)...)
	require.NoError(t, err)
	var page EventsResult
	decodeResponse(t, out, &page)
	return page
}

func TestEventsCommand_Filters(t *testing.T) {
	db := deployed(t)
	convo := createConversation(t, db)
	_, err := execute(t, db, "call", "sendMessage", convo, "bob", "hi", "--from", "alice", "--value", "100000000000000")
	require.NoError(t, err)

	page := readEvents(t, db, "--name", "MessageSent")
	require.Len(t, page.Events, 1)
	ev := page.Events[0]
	assert.Equal(t, "MessageSent", ev.Name)
	assert.Equal(t, ir.String(convo), ev.Fields["conversationId"])
	assert.Equal(t, ev.Seq, page.Next)

	routes := readRoutes(t, db)
	page = readEvents(t, db, "--emitter", "$proxy", "--name", "FeeCharged")
	require.Len(t, page.Events, 1)
	assert.Equal(t, routes.Proxy, page.Events[0].Emitter)

	page = readEvents(t, db, "--emitter", "$module.ledger")
	assert.Empty(t, page.Events, "routed modules emit in the proxy's context")
}

func TestEventsCommand_Paging(t *testing.T) {
	db := deployed(t)
	createConversation(t, db)

	all := readEvents(t, db, "--limit", "0")
	require.Greater(t, len(all.Events), 2)
	for i := 1; i < len(all.Events); i++ {
		assert.Greater(t, all.Events[i].Seq, all.Events[i-1].Seq)
	}

	first := readEvents(t, db, "--limit", "2")
	require.Len(t, first.Events, 2)
	rest := readEvents(t, db, "--after", itoa(first.Next), "--limit", "0")
	assert.Len(t, rest.Events, len(all.Events)-2)
	assert.Equal(t, all.Next, rest.Next)

	empty := readEvents(t, db, "--after", itoa(all.Next))
	assert.Empty(t, empty.Events)
	assert.Equal(t, all.Next, empty.Next, "an empty page keeps the cursor")
}

func TestEventsCommand_Text(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")

	out, err := execute(t, db, "events")
	require.NoError(t, err)
	assert.Equal(t, "no events\n", out)

	_, err = execute(t, db, "events", "--emitter", "0xzz")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func readRoutes(t *testing.T, db string) RoutesResult {
	t.Helper()
	out, err := execute(t, db, "routes", "--format", "json")
	require.NoError(t, err)
	var routes RoutesResult
	decodeResponse(t, out, &routes)
	return routes
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
