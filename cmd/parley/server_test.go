package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, start time.Time, lines ...string) []frame {
	var buf bytes.Buffer
	srv, err := NewServer(Config{
		Logger: slog.Default(),
		Output: &buf,
		Clock:  engine.NewFixedClock(start),
		Seed:   1,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Serve(context.Background(), strings.NewReader(strings.Join(lines, "\n"))))

	var frames []frame
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var f frame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &f))
		frames = append(frames, f)
	}
	return frames
}

func byID(frames []frame, id string) (frame, bool) {
	for _, f := range frames {
		if f.ID == id && f.Type != "deliver" && f.Type != "broadcast" {
			return f, true
		}
	}
	return frame{}, false
}

func ofType(frames []frame, typ string) []frame {
	var out []frame
	for _, f := range frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

var evening = time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)

func TestServeMessages(t *testing.T) {
	assert := assert.New(t)

	frames := serve(t, evening,
		`{"id":"1","sender":"p-alice","channel":"trade","text":"WTS [Diamond Sword] $50"}`,
		`this is not json`,
		`{"id":"2","op":"bogus","sender":"p-alice"}`,
		`{"id":"3","sender":"p-troll","channel":"global","text":"hi"}`,
		``,
		`{"id":"4","op":"announce","sender":"p-mod","text":"server event"}`,
		`{"id":"5","channel":"global","text":"who am i"}`,
	)

	f, ok := byID(frames, "1")
	require.True(t, ok)
	assert.Equal("result", f.Type)
	require.NotNil(t, f.Result)
	assert.True(f.Result.Valid)
	assert.Equal("vip", f.Result.Group)
	require.NotNil(t, f.Result.Trade)
	require.Len(t, f.Result.Trade.Prices, 1)
	assert.Equal(50.0, f.Result.Trade.Prices[0].Value)
	assert.True(f.Result.Trade.HasItemLinks)
	assert.NotEmpty(f.Result.Trade.PostID)
	assert.Contains(f.Result.Text, `<item type="diamond_sword">`)

	errs := ofType(frames, "error")
	require.Len(t, errs, 2)
	assert.Equal("invalid_request", errs[0].Reason)
	assert.Equal("2", errs[1].ID)
	assert.Contains(errs[1].Error, "unknown op")

	f, ok = byID(frames, "3")
	require.True(t, ok)
	assert.Equal("result", f.Type)
	assert.False(f.Result.Valid)
	assert.Equal("access_denied", string(f.Result.Rejection.Reason))

	f, ok = byID(frames, "4")
	require.True(t, ok)
	assert.Equal("ok", f.Type)
	bcasts := ofType(frames, "broadcast")
	require.Len(t, bcasts, 1)
	assert.Equal("events", bcasts[0].Channel)
	assert.Equal("[ANNOUNCEMENT 20:00] server event", bcasts[0].Text)

	f, ok = byID(frames, "5")
	require.True(t, ok)
	assert.Equal("rejected", f.Type)
	assert.Equal("invalid_request", f.Reason)
}

func TestReplayExpiresPosts(t *testing.T) {
	assert := assert.New(t)

	frames := serve(t, evening,
		`{"id":"1","time":"2026-08-01T20:00:00Z","sender":"p-alice","channel":"trade","text":"WTS iron axe 5k"}`,
		`{"id":"2","time":"2026-08-01T20:30:00Z","op":"posts","sender":"p-alice","channel":"trade"}`,
		`{"id":"3","time":"2026-08-01T21:00:30Z","op":"posts","sender":"p-alice","channel":"trade"}`,
	)

	f, ok := byID(frames, "1")
	require.True(t, ok)
	require.True(t, f.Result.Valid)
	assert.Equal(5000.0, f.Result.Trade.Prices[0].Value)

	f, ok = byID(frames, "2")
	require.True(t, ok)
	posts, ok := f.Data.([]any)
	require.True(t, ok)
	assert.Len(posts, 1)

	f, ok = byID(frames, "3")
	require.True(t, ok)
	assert.Nil(f.Data)

	var expired []frame
	for _, d := range ofType(frames, "deliver") {
		if d.To == "p-alice" && strings.Contains(d.Text, "has expired") {
			expired = append(expired, d)
		}
	}
	assert.Len(expired, 1)
}

func TestTicketOps(t *testing.T) {
	assert := assert.New(t)

	frames := serve(t, evening,
		`{"id":"t1","op":"ticket","sender":"p-bob","title":"stuck","text":"I fell into the void"}`,
		`{"id":"t2","op":"ticket-close","sender":"p-alice","ticket":1}`,
		`{"id":"t3","op":"ticket-respond","sender":"p-mod","ticket":1,"text":"on my way"}`,
		`{"id":"t4","op":"ticket-resolve","sender":"p-bob","ticket":1}`,
		`{"id":"t5","op":"ticket-resolve","sender":"p-mod","ticket":1}`,
		`{"id":"t6","op":"ticket-close","sender":"p-bob","ticket":1}`,
	)

	f, ok := byID(frames, "t1")
	require.True(t, ok)
	assert.Equal("ok", f.Type)

	f, _ = byID(frames, "t2")
	assert.Equal("rejected", f.Type)
	assert.Equal("permission_required", f.Reason)

	f, _ = byID(frames, "t3")
	assert.Equal("ok", f.Type)

	f, _ = byID(frames, "t4")
	assert.Equal("rejected", f.Type)
	assert.Equal("permission_required", f.Reason)

	f, _ = byID(frames, "t5")
	assert.Equal("ok", f.Type)

	// resolved is terminal
	f, _ = byID(frames, "t6")
	assert.Equal("error", f.Type)

	var toStaff, toBob int
	for _, d := range ofType(frames, "deliver") {
		switch d.To {
		case "p-mod":
			toStaff++
		case "p-bob":
			toBob++
		}
	}
	assert.Equal(1, toStaff)
	assert.Equal(2, toBob)
}

func TestScheduleRequiresAnnouncer(t *testing.T) {
	assert := assert.New(t)

	frames := serve(t, evening,
		`{"id":"s1","op":"schedule","sender":"p-alice","text":"party","at":"2026-08-01T21:00:00Z"}`,
		`{"id":"s2","op":"schedule","sender":"p-mod","text":"party","at":"2026-08-01T21:00:00Z"}`,
		`{"id":"s3","op":"schedule","sender":"p-mod","text":"too late","at":"2026-08-01T19:00:00Z"}`,
		`{"id":"s4","time":"2026-08-01T21:00:10Z","op":"cancel-post","sender":"p-bob","post":"missing"}`,
	)

	f, _ := byID(frames, "s1")
	assert.Equal("rejected", f.Type)
	assert.Equal("permission_required", f.Reason)

	f, _ = byID(frames, "s2")
	assert.Equal("ok", f.Type)

	f, _ = byID(frames, "s3")
	assert.Equal("rejected", f.Type)
	assert.Equal("schedule_in_past", f.Reason)

	f, _ = byID(frames, "s4")
	assert.Equal("error", f.Type)

	found := false
	for _, b := range ofType(frames, "broadcast") {
		if b.Channel == "events" && b.Text == "party" {
			found = true
		}
	}
	assert.True(found)
}

func TestJoinAndLeave(t *testing.T) {
	assert := assert.New(t)

	frames := serve(t, evening,
		`{"id":"j1","op":"join","sender":"p-zed","name":"Zed","group":"vip"}`,
		`{"id":"j2","sender":"p-bob","channel":"global","text":"hey @zed"}`,
		`{"id":"j3","op":"leave","sender":"p-zed"}`,
		`{"id":"j4","op":"leave","sender":"p-zed"}`,
	)

	f, _ := byID(frames, "j2")
	require.NotNil(t, f.Result)
	require.NotNil(t, f.Result.Mentions)
	assert.Equal([]string{"Zed"}, f.Result.Mentions.MentionedPlayers)

	var toZed int
	for _, d := range ofType(frames, "deliver") {
		if d.To == "p-zed" {
			toZed++
		}
	}
	assert.Equal(1, toZed)

	f, _ = byID(frames, "j3")
	assert.Equal("ok", f.Type)
	f, _ = byID(frames, "j4")
	assert.Equal("rejected", f.Type)
}

func TestSenderRateLimit(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	srv, err := NewServer(Config{Output: &buf, Clock: engine.NewFixedClock(evening), SenderLimit: 2})
	require.NoError(t, err)

	ctx := context.Background()
	msg := request{Op: "message", Sender: "p-bob", Channel: "global", Text: "hi"}
	assert.Equal("result", srv.Handle(ctx, msg).Type)
	assert.Equal("result", srv.Handle(ctx, msg).Type)
	f := srv.Handle(ctx, msg)
	assert.Equal("rejected", f.Type)
	assert.Equal("rate_limited", f.Reason)

	// other senders and presence ops are unaffected
	msg.Sender = "p-alice"
	assert.Equal("result", srv.Handle(ctx, msg).Type)
	assert.Equal("ok", srv.Handle(ctx, request{Op: "leave", Sender: "p-bob"}).Type)
}

func TestReportRules(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	rules, err := config.Parse([]byte("channels:\n  - id: a\n  - kind: trade\n"))
	require.NoError(t, err)
	assert.NoError(reportRules(&buf, rules, false))
	assert.Contains(buf.String(), "channels:   1")
	assert.Contains(buf.String(), "warning: channels[1]: missing id, dropped")
	assert.Error(reportRules(&buf, rules, true))
}

func TestRejoinReplacesGroupAndCapabilities(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var buf bytes.Buffer
	srv, err := NewServer(Config{Output: &buf, Clock: engine.NewFixedClock(evening), GroupCacheTTL: time.Minute})
	require.NoError(err)
	ctx := context.Background()

	join := request{Op: "join", Sender: "p-x", Name: "Xavier", Group: "default", Capabilities: []string{"chat.announce"}}
	require.Equal("ok", srv.Handle(ctx, join).Type)
	msg := request{Op: "message", Sender: "p-x", Channel: "global", Text: "hello"}
	f := srv.Handle(ctx, msg)
	require.NotNil(f.Result)
	assert.True(f.Result.Valid)
	assert.Equal("default", f.Result.Group)
	sched := request{Op: "schedule", Sender: "p-x", Text: "party", At: "2026-08-01T21:00:00Z"}
	assert.Equal("ok", srv.Handle(ctx, sched).Type)

	// the cached group from the first message must not outlive the rejoin
	join.Group = "muted"
	join.Capabilities = nil
	require.Equal("ok", srv.Handle(ctx, join).Type)
	f = srv.Handle(ctx, msg)
	require.NotNil(f.Result)
	assert.False(f.Result.Valid)
	assert.Equal("muted", f.Result.Group)
	assert.Equal("access_denied", string(f.Result.Rejection.Reason))

	f = srv.Handle(ctx, sched)
	assert.Equal("rejected", f.Type)
	assert.Equal("permission_required", f.Reason)
}
