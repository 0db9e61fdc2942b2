package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"cake-server/internal/auth"
	"cake-server/internal/core"
	"cake-server/internal/entities"
	"cake-server/internal/fanout"
	"cake-server/internal/lookup"
	"cake-server/internal/metrics"
)

type fakeProvider struct {
	source entities.Source
	err    error
}

func (f fakeProvider) Source() entities.Source { return f.source }

func (f fakeProvider) Search(_ context.Context, query string) ([]lookup.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []lookup.Candidate{{Name: query + " (" + string(f.source) + ")", Source: f.source}}, nil
}

type testEnv struct {
	srv   *httptest.Server
	rooms *core.Rooms
}

func newTestEnv(t *testing.T, limit rate.Limit, burst int) testEnv {
	t.Helper()

	bus := fanout.NewBus(64, zerolog.Nop())
	m := metrics.New()
	rooms, err := core.NewRooms(bus, core.Options{Recorder: m})
	require.NoError(t, err)
	m.Gauges(rooms.Count, bus.Subscribers)

	search, err := lookup.NewService([]lookup.Provider{
		fakeProvider{source: entities.SourceTMDB},
		fakeProvider{source: entities.SourceWikidata, err: core.ErrUpstreamUnavailable},
	}, 16, time.Second, m)
	require.NoError(t, err)

	s := NewServer(Options{
		Rooms:          rooms,
		Identity:       auth.NewIdentity("test-secret", time.Hour),
		Search:         search,
		Metrics:        m.Handler(),
		Rate:           limit,
		Burst:          burst,
		AllowedOrigins: []string{"*"},
	})
	srv := httptest.NewServer(s.Router())

	t.Cleanup(func() {
		s.Shutdown()
		srv.Close()
		rooms.Close()
		_ = bus.Close()
	})
	return testEnv{srv: srv, rooms: rooms}
}

func (e testEnv) do(t *testing.T, token, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}

	res, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, raw
}

func (e testEnv) device(t *testing.T) string {
	t.Helper()
	res, raw := e.do(t, "", http.MethodPost, "/api/identity", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var id IdentityResponse
	require.NoError(t, json.Unmarshal(raw, &id))
	return id.Token
}

func (e testEnv) createRoom(t *testing.T, token string) CreateRoomResponse {
	t.Helper()
	res, raw := e.do(t, token, http.MethodPost, "/api/rooms", CreateRoomRequest{HostName: "Host"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(raw))
	var created CreateRoomResponse
	require.NoError(t, json.Unmarshal(raw, &created))
	return created
}

func decodeAs[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func TestIdentity(t *testing.T) {
	env := newTestEnv(t, 100, 100)

	res, raw := env.do(t, "", http.MethodPost, "/api/identity", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	first := decodeAs[IdentityResponse](t, raw)
	assert.NotEmpty(t, first.DeviceID)
	assert.NotEmpty(t, first.Token)
	assert.Equal(t, first.Token, res.Header.Get(TokenHeader))

	var cookie *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == TokenCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, first.Token, cookie.Value)

	res, raw = env.do(t, first.Token, http.MethodPost, "/api/identity", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, first.DeviceID, decodeAs[IdentityResponse](t, raw).DeviceID)
	assert.Empty(t, res.Header.Get(TokenHeader), "known devices are not re-minted")
}

func TestRoomFlow(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	host := env.device(t)
	guest := env.device(t)

	created := env.createRoom(t, host)
	assert.Len(t, created.RoomCode, core.RoomCodeLength)
	assert.True(t, created.Player.IsHost)
	base := "/api/rooms/" + strings.ToLower(created.RoomCode)

	res, raw := env.do(t, guest, http.MethodPost, base+"/join", JoinRequest{Name: "Guest"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(raw))
	joined := decodeAs[MembershipResponse](t, raw)
	assert.False(t, joined.Player.IsHost)
	assert.Equal(t, "Guest", joined.Player.Name)

	submit := func(token, title string) entities.Entry {
		res, raw := env.do(t, token, http.MethodPost, base+"/entries", core.EntryInput{
			Title:          title,
			ImageReference: "https://img.example/" + title + ".jpg",
			Source:         entities.SourceTMDB,
		})
		require.Equal(t, http.StatusCreated, res.StatusCode, string(raw))
		return decodeAs[entities.Entry](t, raw)
	}
	hostEntry := submit(host, "cat")
	guestEntry := submit(guest, "dog")

	res, raw = env.do(t, guest, http.MethodGet, base+"/entries", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decodeAs[[]entities.Entry](t, raw), 2)

	x, y := 0.25, 0.75
	res, raw = env.do(t, guest, http.MethodPut, base+"/placements/"+hostEntry.ID.String(), PlacementRequest{X: &x, Y: &y})
	require.Equal(t, http.StatusOK, res.StatusCode, string(raw))
	placement := decodeAs[entities.Placement](t, raw)
	assert.Equal(t, 0.25, placement.X)
	require.NotNil(t, placement.PlacedBy)
	assert.Equal(t, joined.Player.ID, *placement.PlacedBy)

	res, raw = env.do(t, guest, http.MethodGet, base+"/layout", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	layout := decodeAs[[]core.Slot](t, raw)
	require.Len(t, layout, 2)
	assert.True(t, layout[0].Placed)
	assert.False(t, layout[1].Placed)

	res, _ = env.do(t, guest, http.MethodPost, base+"/advance", nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, raw = env.do(t, host, http.MethodPost, base+"/advance", AdvanceRequest{})
	require.Equal(t, http.StatusOK, res.StatusCode, string(raw))
	assert.Equal(t, entities.StatusReveal, decodeAs[entities.Room](t, raw).Status)

	res, _ = env.do(t, guest, http.MethodPost, base+"/entries", core.EntryInput{
		Title: "late", ImageReference: "https://img.example/late.jpg", Source: entities.SourceTMDB,
	})
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	// A stale expected cursor leaves the room where it is.
	stale := core.Cursor{Status: entities.StatusLobby}
	res, raw = env.do(t, host, http.MethodPost, base+"/advance", AdvanceRequest{Expect: &stale})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, entities.StatusReveal, decodeAs[entities.Room](t, raw).Status)

	env.do(t, host, http.MethodPost, base+"/advance", nil)
	res, raw = env.do(t, host, http.MethodPost, base+"/advance", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, entities.StatusVoting, decodeAs[entities.Room](t, raw).Status)

	res, raw = env.do(t, guest, http.MethodPut, base+"/votes/wildest", VoteRequest{EntryID: guestEntry.ID.String()})
	require.Equal(t, http.StatusOK, res.StatusCode, string(raw))
	assert.Equal(t, 1, decodeAs[entities.Vote](t, raw).Value)

	res, raw = env.do(t, guest, http.MethodGet, base+"/tally", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	tally := decodeAs[TallyResponse](t, raw)
	assert.Equal(t, entities.CategoryWildest, tally.Category)
	require.NotNil(t, tally.Winner)
	assert.Equal(t, guestEntry.ID, tally.Winner.EntryID)

	res, raw = env.do(t, guest, http.MethodPatch, base+"/players/me", RenameRequest{Name: "Renamed"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Renamed", decodeAs[entities.Player](t, raw).Name)

	res, raw = env.do(t, guest, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	snap := decodeAs[core.Snapshot](t, raw)
	assert.Equal(t, snap.Room.Version, snap.Seq)
	assert.Len(t, snap.Players, 2)
	assert.Len(t, snap.Votes, 1)
	assert.Len(t, snap.Placements, 1)
}

func TestErrorStatuses(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	host := env.device(t)
	stranger := env.device(t)
	created := env.createRoom(t, host)
	base := "/api/rooms/" + created.RoomCode

	res, raw := env.do(t, host, http.MethodGet, "/api/rooms/ZZZZZ", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Contains(t, decodeAs[errorBody](t, raw).Error, "not found")

	res, _ = env.do(t, stranger, http.MethodPost, base+"/entries", core.EntryInput{
		Title: "x", ImageReference: "https://img.example/x.jpg", Source: entities.SourceTMDB,
	})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, _ = env.do(t, host, http.MethodPost, base+"/entries", core.EntryInput{Title: "x", Source: entities.SourceTMDB})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	entry, err := env.rooms.ListEntries(created.Room.ID)
	require.NoError(t, err)
	assert.Empty(t, entry)

	x, y := 1.5, 0.5
	res, _ = env.do(t, host, http.MethodPut, base+"/placements/not-a-uuid", PlacementRequest{X: &x, Y: &y})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = env.do(t, host, http.MethodPut, base+"/placements/"+created.Room.ID.String(), PlacementRequest{X: &x, Y: &y})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = env.do(t, host, http.MethodGet, base+"/tally?category=loudest", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+base+"/join", strings.NewReader("{nope"))
	require.NoError(t, err)
	req.Header.Set(TokenHeader, stranger)
	bad, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, 1, 1)

	res, _ := env.do(t, "", http.MethodGet, "/api/search?q=x", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = env.do(t, "", http.MethodGet, "/api/search?q=x", nil)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)

	res, _ = env.do(t, "", http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode, "health checks are not limited")
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, 100, 100)

	res, raw := env.do(t, "", http.MethodGet, "/api/search?q=holmes", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	all := decodeAs[[]lookup.Candidate](t, raw)
	require.Len(t, all, 1, "the failing provider contributes nothing")
	assert.Equal(t, entities.SourceTMDB, all[0].Source)

	res, raw = env.do(t, "", http.MethodGet, "/api/search?q=holmes&source=wikidata", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "[]", strings.TrimSpace(string(raw)))

	res, _ = env.do(t, "", http.MethodGet, "/api/search?q=holmes&source=imdb", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	env.createRoom(t, env.device(t))

	res, raw := env.do(t, "", http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(raw), "cake_rooms 1")
	assert.Contains(t, string(raw), `cake_mutations_total{op="create_room",result="ok"} 1`)
}

func dial(t *testing.T, env testEnv, code, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/rooms/" + code + "/ws?token=" + token
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	res.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(Message) bool) Message {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var m Message
		require.NoError(t, conn.ReadJSON(&m))
		if match(m) {
			return m
		}
	}
}

func TestWebsocket_SnapshotThenEvents(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	host := env.device(t)
	created := env.createRoom(t, host)

	conn := dial(t, env, created.RoomCode, host)

	first := readUntil(t, conn, func(Message) bool { return true })
	require.Equal(t, "Snapshot", first.Type)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, created.Room.ID, first.Snapshot.Room.ID)

	res, raw := env.do(t, host, http.MethodPost, "/api/rooms/"+created.RoomCode+"/entries", core.EntryInput{
		Title: "cat", ImageReference: "https://img.example/cat.jpg", Source: entities.SourceWikidata,
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(raw))
	entry := decodeAs[entities.Entry](t, raw)

	ev := readUntil(t, conn, func(m Message) bool { return m.Type == "Event" })
	require.NotNil(t, ev.Event)
	assert.Equal(t, fanout.KindEntry, ev.Event.Kind)
	assert.Equal(t, entry.ID, ev.Event.Entry.ID)
	assert.Greater(t, ev.Event.Seq, first.Snapshot.Seq)

	x, y := 0.1, 0.2
	require.NoError(t, conn.WriteJSON(Command{Type: "PlaceEntry", EntryID: entry.ID.String(), X: &x, Y: &y}))
	// The reply and the resulting event travel independently.
	var reply, placed *Message
	for reply == nil || placed == nil {
		m := readUntil(t, conn, func(Message) bool { return true })
		switch {
		case m.Type == "PlaceEntry":
			reply = &m
		case m.Type == "Event" && m.Event.Kind == fanout.KindPlacement:
			placed = &m
		}
	}
	assert.Empty(t, reply.Error)
	assert.Equal(t, 0.1, placed.Event.Placement.X)

	require.NoError(t, conn.WriteJSON(Command{Type: "CastVote", EntryID: entry.ID.String()}))
	voted := readUntil(t, conn, func(m Message) bool { return m.Type == "CastVote" })
	assert.Contains(t, voted.Error, "phase")

	require.NoError(t, conn.WriteJSON(Command{Type: "Dance"}))
	danced := readUntil(t, conn, func(m Message) bool { return m.Type == "Dance" })
	assert.Contains(t, danced.Error, "unknown command")
}

func TestWebsocket_CommandsNeedMembership(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	created := env.createRoom(t, env.device(t))
	watcher := env.device(t)

	conn := dial(t, env, created.RoomCode, watcher)
	readUntil(t, conn, func(m Message) bool { return m.Type == "Snapshot" })

	require.NoError(t, conn.WriteJSON(Command{Type: "AdvancePhase"}))
	reply := readUntil(t, conn, func(m Message) bool { return m.Type == "AdvancePhase" })
	assert.NotEmpty(t, reply.Error)

	room, err := env.rooms.Room(created.Room.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusLobby, room.Status)
}

func TestWebsocket_UnknownRoom(t *testing.T) {
	env := newTestEnv(t, 100, 100)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/rooms/ZZZZZ/ws"

	_, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestIPRateLimiter_PrunesIdleEntries(t *testing.T) {
	limiter := NewIPRateLimiter(1, 1)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	for i := 0; i <= cleanupThreshold; i++ {
		limiter.GetLimiter("10.0." + strconv.Itoa(i))
	}
	now = now.Add(maxIdleAge + time.Minute)
	limiter.GetLimiter("fresh")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Len(t, limiter.ips, 1)
}
