package practice

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fury-esports/furybot/go/internal/notify"
	"github.com/fury-esports/furybot/go/internal/teams"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var epoch = time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC)

type fakeRepo struct {
	mu        sync.Mutex
	practices map[uuid.UUID]*Practice
	completes int
	failNext  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{practices: make(map[uuid.UUID]*Practice)}
}

func (f *fakeRepo) fail() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeRepo) CreatePractice(_ context.Context, p *Practice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.practices[p.ID] = p.clone()
	return nil
}

func (f *fakeRepo) GetPractice(_ context.Context, id uuid.UUID) (*Practice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.practices[id]
	if !ok {
		return nil, ErrPracticeNotFound
	}
	return p.clone(), nil
}

func (f *fakeRepo) OngoingPracticeID(_ context.Context, teamID uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.practices {
		if p.TeamID == teamID && p.Status == StatusOngoing {
			return p.ID, nil
		}
	}
	return uuid.Nil, ErrNoOngoingPractice
}

func (f *fakeRepo) SaveMessageID(_ context.Context, id uuid.UUID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.practices[id].MessageID = messageID
	return nil
}

func (f *fakeRepo) AddMember(_ context.Context, practiceID uuid.UUID, m Member) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	m.History = append([]Interval(nil), m.History...)
	f.practices[practiceID].Members[m.MemberID] = &m
	return nil
}

func (f *fakeRepo) OpenInterval(_ context.Context, memberRowID uuid.UUID, iv Interval) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.practices {
		for _, m := range p.Members {
			if m.ID == memberRowID {
				m.History = append(m.History, iv)
				return nil
			}
		}
	}
	return errors.New("member row not found")
}

func (f *fakeRepo) CloseIntervals(_ context.Context, practiceID uuid.UUID, ids []uuid.UUID, at time.Time, complete bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	p := f.practices[practiceID]
	for _, id := range ids {
		for _, m := range p.Members {
			for i := range m.History {
				if m.History[i].ID == id {
					t := at
					m.History[i].LeftAt = &t
				}
			}
		}
	}
	if complete {
		p.Status = StatusCompleted
		p.EndedAt = &at
		f.completes++
	}
	return nil
}

type fakeTeams struct {
	team *teams.Team
}

func (f fakeTeams) GetTeam(_ context.Context, id uuid.UUID) (*teams.Team, error) {
	if id != f.team.ID {
		return nil, teams.ErrTeamNotFound
	}
	return f.team, nil
}

func (f fakeTeams) RequireMember(ctx context.Context, id uuid.UUID, memberID string) (*teams.Team, error) {
	t, err := f.GetTeam(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.HasMember(memberID) {
		return nil, teams.ErrMemberNotOnTeam
	}
	return t, nil
}

func (f fakeTeams) TeamByVoiceChannel(_ context.Context, channelID string) (*teams.Team, error) {
	if channelID == "" || channelID != f.team.VoiceChannelID {
		return nil, teams.ErrTeamNotFound
	}
	return f.team, nil
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *clockwork.FakeClock
	repo  *fakeRepo
	posts *notify.Recorder
	team  *teams.Team
	app   *App
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		clock: clockwork.NewFakeClockAt(epoch),
		repo:  newFakeRepo(),
		posts: notify.NewRecorder(),
		team: &teams.Team{
			ID:             uuid.New(),
			GuildID:        "guild",
			Name:           "Varsity",
			TextChannelID:  "team-chat",
			VoiceChannelID: "team-voice",
			Members: []teams.Member{
				{MemberID: "alice"}, {MemberID: "bob"}, {MemberID: "carol"}, {MemberID: "dave", IsSub: true},
			},
		},
	}
	h.app = NewApp(h.repo, fakeTeams{team: h.team}, h.posts, h.clock)
	return h
}

func (h *harness) start(present ...string) *Practice {
	h.t.Helper()
	p, err := h.app.Start(h.ctx, h.team.ID, present[0], present)
	if err != nil {
		h.t.Fatalf("Start: %v", err)
	}
	return p
}

func (h *harness) practice(id uuid.UUID) *Practice {
	h.t.Helper()
	p, err := h.app.GetPractice(h.ctx, id)
	if err != nil {
		h.t.Fatalf("GetPractice: %v", err)
	}
	return p
}

func (h *harness) move(member, before, after string) {
	h.t.Helper()
	err := h.app.HandleVoiceState(h.ctx, VoiceStateChange{MemberID: member, Before: before, After: after, At: h.clock.Now()})
	if err != nil {
		h.t.Fatalf("HandleVoiceState(%s %q -> %q): %v", member, before, after, err)
	}
}

func TestStartRecordsPresentMembers(t *testing.T) {
	h := newHarness(t)
	p := h.start("alice", "bob", "stranger", "bob")

	if len(p.Members) != 2 {
		t.Fatalf("members = %d, want 2", len(p.Members))
	}
	if p.OpenIntervals() != 2 {
		t.Fatalf("open intervals = %d", p.OpenIntervals())
	}
	if !p.StartedAt.Equal(epoch) || p.Status != StatusOngoing {
		t.Fatalf("practice = %+v", p)
	}

	last, ok := h.posts.Last()
	if !ok || last.ChannelID != "team-chat" || len(last.Buttons) != 1 {
		t.Fatalf("panel = %+v", last)
	}
	if action, args := notify.ParseCustomID(last.Buttons[0].CustomID); action != ActionUnable || args[0] != p.ID.String() {
		t.Fatalf("button id = %q", last.Buttons[0].CustomID)
	}
	if got := h.repo.practices[p.ID].MessageID; got != last.MessageID {
		t.Fatalf("stored message id = %q, want %q", got, last.MessageID)
	}
}

func TestStartGuards(t *testing.T) {
	h := newHarness(t)

	if _, err := h.app.Start(h.ctx, h.team.ID, "stranger", []string{"stranger"}); !errors.Is(err, teams.ErrMemberNotOnTeam) {
		t.Fatalf("outsider start = %v", err)
	}
	if _, err := h.app.Start(h.ctx, h.team.ID, "alice", []string{"bob"}); !errors.Is(err, ErrNotInVoiceChannel) {
		t.Fatalf("start from outside the channel = %v", err)
	}

	h.start("alice")
	if _, err := h.app.Start(h.ctx, h.team.ID, "bob", []string{"bob"}); !errors.Is(err, ErrPracticeInProgress) {
		t.Fatalf("second start = %v", err)
	}

	other := newHarness(t)
	other.team.VoiceChannelID = ""
	if _, err := other.app.Start(other.ctx, other.team.ID, "alice", []string{"alice"}); !errors.Is(err, ErrNoVoiceChannel) {
		t.Fatalf("start without voice channel = %v", err)
	}
}

func TestFailedCreateLeavesNoPractice(t *testing.T) {
	h := newHarness(t)
	h.repo.failNext = errors.New("db down")

	if _, err := h.app.Start(h.ctx, h.team.ID, "alice", []string{"alice"}); err == nil {
		t.Fatalf("Start succeeded with a failing store")
	}
	if _, err := h.app.OngoingPractice(h.ctx, h.team.ID); !errors.Is(err, ErrNoOngoingPractice) {
		t.Fatalf("OngoingPractice = %v", err)
	}
	if len(h.posts.Posted()) != 0 {
		t.Fatalf("panel posted for a practice that was never stored")
	}
}

func TestJoinLeaveAndRejoin(t *testing.T) {
	h := newHarness(t)
	p := h.start("alice", "bob")

	h.clock.Advance(30 * time.Minute)
	if err := h.app.HandleLeave(h.ctx, p.ID, "bob", time.Time{}); err != nil {
		t.Fatalf("HandleLeave: %v", err)
	}
	h.clock.Advance(10 * time.Minute)
	if err := h.app.HandleJoin(h.ctx, p.ID, "bob", time.Time{}); err != nil {
		t.Fatalf("HandleJoin: %v", err)
	}
	if err := h.app.HandleJoin(h.ctx, p.ID, "bob", time.Time{}); !errors.Is(err, ErrMemberAlreadyInPractice) {
		t.Fatalf("double join = %v", err)
	}
	h.clock.Advance(20 * time.Minute)
	if err := h.app.HandleLeave(h.ctx, p.ID, "bob", time.Time{}); err != nil {
		t.Fatalf("HandleLeave: %v", err)
	}
	if err := h.app.HandleLeave(h.ctx, p.ID, "bob", time.Time{}); !errors.Is(err, ErrNotPracticing) {
		t.Fatalf("double leave = %v", err)
	}

	got, err := h.app.TotalPracticeTime(h.ctx, p.ID, "bob")
	if err != nil {
		t.Fatalf("TotalPracticeTime: %v", err)
	}
	if got != 50*time.Minute {
		t.Fatalf("bob practiced %v, want 50m", got)
	}
	if h.practice(p.ID).Status != StatusOngoing {
		t.Fatalf("practice ended while alice is still in the channel")
	}
	if _, err := h.app.TotalPoints(h.ctx, p.ID); !errors.Is(err, ErrPracticeNotEnded) {
		t.Fatalf("TotalPoints before end = %v", err)
	}
}

func TestLateJoinerIsAdded(t *testing.T) {
	h := newHarness(t)
	p := h.start("alice")

	h.clock.Advance(5 * time.Minute)
	if err := h.app.HandleJoin(h.ctx, p.ID, "carol", time.Time{}); err != nil {
		t.Fatalf("HandleJoin: %v", err)
	}
	if err := h.app.HandleJoin(h.ctx, p.ID, "stranger", time.Time{}); !errors.Is(err, teams.ErrMemberNotOnTeam) {
		t.Fatalf("outsider join = %v", err)
	}
	if err := h.app.HandleLeave(h.ctx, p.ID, "bob", time.Time{}); !errors.Is(err, ErrMemberNotInPractice) {
		t.Fatalf("leave without joining = %v", err)
	}

	got := h.practice(p.ID)
	carol, ok := got.Members["carol"]
	if !ok || !carol.Practicing() || !carol.History[0].JoinedAt.Equal(epoch.Add(5*time.Minute)) {
		t.Fatalf("carol = %+v", carol)
	}
}

func TestLastLeaveCompletesOnce(t *testing.T) {
	h := newHarness(t)
	p := h.start("alice", "bob", "carol")

	h.clock.Advance(time.Hour)
	for _, m := range []string{"alice", "bob"} {
		if err := h.app.HandleLeave(h.ctx, p.ID, m, time.Time{}); err != nil {
			t.Fatalf("HandleLeave(%s): %v", m, err)
		}
	}
	if h.repo.completes != 0 {
		t.Fatalf("completed with carol still present")
	}
	h.clock.Advance(time.Hour)
	if err := h.app.HandleLeave(h.ctx, p.ID, "carol", time.Time{}); err != nil {
		t.Fatalf("HandleLeave(carol): %v", err)
	}
	if err := h.app.HandleJoin(h.ctx, p.ID, "alice", time.Time{}); !errors.Is(err, ErrPracticeCompleted) {
		t.Fatalf("join after completion = %v", err)
	}
	if _, err := h.app.End(h.ctx, p.ID); !errors.Is(err, ErrPracticeCompleted) {
		t.Fatalf("End after completion = %v", err)
	}
	if h.repo.completes != 1 {
		t.Fatalf("completed %d times, want 1", h.repo.completes)
	}

	got := h.practice(p.ID)
	if d, ok := got.Duration(); !ok || d != 2*time.Hour {
		t.Fatalf("duration = %v %v", d, ok)
	}
	want := 2 * (1 + 0.2*math.Log10(3))
	if points, err := h.app.TotalPoints(h.ctx, p.ID); err != nil || math.Abs(points-want) > 1e-9 {
		t.Fatalf("points = %v %v, want %v", points, err, want)
	}
	if _, err := h.app.OngoingPractice(h.ctx, h.team.ID); !errors.Is(err, ErrNoOngoingPractice) {
		t.Fatalf("OngoingPractice after completion = %v", err)
	}

	posted := h.posts.Posted()
	if retracted := h.posts.Retracted(); len(retracted) != 1 || retracted[0] != posted[0].MessageID {
		t.Fatalf("retracted = %v", retracted)
	}
	summary := posted[len(posted)-1].Content
	if !strings.Contains(summary, "<@carol>: 2h0m0s") || !strings.Contains(summary, "<@alice>: 1h0m0s") {
		t.Fatalf("summary = %q", summary)
	}
}

func TestUnableToAttend(t *testing.T) {
	h := newHarness(t)
	p := h.start("alice", "bob")

	if err := h.app.MarkUnableToAttend(h.ctx, p.ID, "carol", "  "); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("blank reason = %v", err)
	}
	if err := h.app.MarkUnableToAttend(h.ctx, p.ID, "alice", "sick"); !errors.Is(err, ErrMemberAlreadyInPractice) {
		t.Fatalf("opt out after joining = %v", err)
	}
	if err := h.app.MarkUnableToAttend(h.ctx, p.ID, "carol", "exam"); err != nil {
		t.Fatalf("MarkUnableToAttend: %v", err)
	}
	if err := h.app.HandleJoin(h.ctx, p.ID, "carol", time.Time{}); !errors.Is(err, ErrMemberNotAttending) {
		t.Fatalf("join after opting out = %v", err)
	}

	h.clock.Advance(time.Hour)
	ended, err := h.app.End(h.ctx, p.ID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.AttendingMembers() != 2 {
		t.Fatalf("attending = %d, want 2", ended.AttendingMembers())
	}
	if c := ended.Members["carol"]; c.Attending || c.Reason == nil || *c.Reason != "exam" {
		t.Fatalf("carol = %+v", c)
	}
	last, _ := h.posts.Last()
	if !strings.Contains(last.Content, "<@carol>: could not attend") {
		t.Fatalf("summary = %q", last.Content)
	}
}

func TestEndClosesOpenIntervals(t *testing.T) {
	h := newHarness(t)
	p := h.start("alice")

	h.clock.Advance(45 * time.Minute)
	ended, err := h.app.End(h.ctx, p.ID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.OpenIntervals() != 0 || ended.Status != StatusCompleted {
		t.Fatalf("ended = %+v", ended)
	}
	if got := ended.Members["alice"].TotalTime(); got != 45*time.Minute {
		t.Fatalf("alice practiced %v", got)
	}
	if points, err := h.app.TotalPoints(h.ctx, p.ID); err != nil || points != 0 {
		t.Fatalf("solo practice points = %v %v", points, err)
	}
	last, _ := h.posts.Last()
	if !strings.Contains(last.Content, "Only one member attended") {
		t.Fatalf("summary = %q", last.Content)
	}
}

func TestFailedCloseLeavesIntervalOpen(t *testing.T) {
	h := newHarness(t)
	p := h.start("alice", "bob")

	h.repo.failNext = errors.New("db down")
	if err := h.app.HandleLeave(h.ctx, p.ID, "bob", time.Time{}); err == nil {
		t.Fatalf("HandleLeave succeeded with a failing store")
	}
	if !h.practice(p.ID).Members["bob"].Practicing() {
		t.Fatalf("cache closed an interval the store did not")
	}
}

func TestVoiceStateMoves(t *testing.T) {
	h := newHarness(t)
	p := h.start("alice", "bob")

	h.clock.Advance(10 * time.Minute)
	h.move("carol", "", "team-voice")
	h.move("stranger", "", "team-voice")
	h.move("carol", "team-voice", "team-voice")
	h.clock.Advance(10 * time.Minute)
	h.move("carol", "team-voice", "lobby")
	h.move("bob", "team-voice", "")
	h.move("dave", "lobby", "afk")

	got := h.practice(p.ID)
	if _, ok := got.Members["stranger"]; ok {
		t.Fatalf("outsider recorded")
	}
	if got.Members["carol"].TotalTime() != 10*time.Minute {
		t.Fatalf("carol = %v", got.Members["carol"].TotalTime())
	}
	if got.Status != StatusOngoing {
		t.Fatalf("practice ended with alice present")
	}

	h.move("alice", "team-voice", "")
	if got := h.practice(p.ID); got.Status != StatusCompleted {
		t.Fatalf("status = %s after the channel emptied", got.Status)
	}
	h.move("alice", "", "team-voice")
}

func TestReturnedPracticeIsACopy(t *testing.T) {
	h := newHarness(t)
	p := h.start("alice")
	p.Members["alice"].History[0].LeftAt = &epoch
	delete(p.Members, "alice")

	got := h.practice(p.ID)
	if m, ok := got.Members["alice"]; !ok || !m.Practicing() {
		t.Fatalf("caller mutated the cached practice")
	}
}

func TestConcurrentLeavesCompleteOnce(t *testing.T) {
	h := newHarness(t)
	p := h.start("alice", "bob", "carol", "dave")
	h.clock.Advance(time.Hour)

	var wg sync.WaitGroup
	for _, m := range []string{"alice", "bob", "carol", "dave"} {
		wg.Add(1)
		go func(m string) {
			defer wg.Done()
			if err := h.app.HandleLeave(h.ctx, p.ID, m, time.Time{}); err != nil {
				t.Errorf("HandleLeave(%s): %v", m, err)
			}
		}(m)
	}
	wg.Wait()

	if h.repo.completes != 1 {
		t.Fatalf("completed %d times, want 1", h.repo.completes)
	}
	if got := h.practice(p.ID); got.Status != StatusCompleted || got.OpenIntervals() != 0 {
		t.Fatalf("practice = %+v", got)
	}
}
