package bot_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"broadcastbot/internal/bot"
	"broadcastbot/internal/content"
	"broadcastbot/internal/delivery"
	"broadcastbot/internal/dialog"
	"broadcastbot/internal/jobs"
	"broadcastbot/internal/scheduler"
	"broadcastbot/internal/storage"
	"broadcastbot/internal/storage/storagetest"
	kit "broadcastbot/internal/transport"
	"broadcastbot/internal/transport/telegram/router"
	"broadcastbot/internal/transport/transporttest"
	"broadcastbot/internal/users"
	logx "broadcastbot/pkg/logx"
)

const (
	adminID int64 = 9
	modID   int64 = 1
	userID  int64 = 2
)

type env struct {
	r     *router.Router
	fake  *transporttest.Fake
	st    *storage.Store
	dir   *users.Directory
	sched *scheduler.Scheduler
	now   time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	st := storagetest.Open(t)
	dir := users.New(st, logx.Nop(), []int64{adminID})
	for _, id := range []int64{modID, userID} {
		_, err := dir.GetOrCreate(ctx, id, "")
		require.NoError(t, err)
	}
	require.NoError(t, st.UpdateUserRole(ctx, modID, storage.RoleModerator))

	fake := &transporttest.Fake{}
	now := time.Now().Truncate(time.Minute)
	clock := func() time.Time { return now }
	eng := delivery.New(fake, logx.Nop())
	q := jobs.NewCron(jobs.CronConfig{PollInterval: time.Hour}, st, logx.Nop())
	sched := scheduler.New(scheduler.Config{}, st, dir, eng, q, logx.Nop(), scheduler.WithClock(clock))
	ctl := dialog.New(fake, dialog.NewMemoryStore(time.Hour), dir, sched, eng, logx.Nop(),
		dialog.WithLocation(time.UTC), dialog.WithClock(clock))

	r := router.New(router.Config{}, fake, dir, logx.Nop())
	bot.New(dir, st, ctl, logx.Nop(), time.UTC).Register(r)
	return &env{r: r, fake: fake, st: st, dir: dir, sched: sched, now: now}
}

func (e *env) say(from int64, text string) {
	e.r.Route(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text}})
}

func (e *env) press(from int64, data string) {
	sent := e.fake.SentTo(from)
	var mid int
	if len(sent) > 0 {
		mid = sent[len(sent)-1].Ref.MessageID
	}
	e.r.Route(context.Background(), kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb-" + data, ChatID: from, FromID: from, MessageID: mid, Data: data,
	}})
}

func keyboardLabels(t *testing.T, s transporttest.Sent) [][]string {
	t.Helper()
	require.NotNil(t, s.Options)
	rm, ok := s.Options.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	require.True(t, ok)
	var out [][]string
	for _, row := range rm.ReplyKeyboard {
		var labels []string
		for _, b := range row {
			labels = append(labels, b.Text)
		}
		out = append(out, labels)
	}
	return out
}

func TestStartPanels(t *testing.T) {
	e := newEnv(t)

	e.say(42, "/start")
	assert.Equal(t, "Вы подписались на рассылку", e.fake.LastText(42))
	role, err := e.dir.Role(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, storage.RoleUser, role)

	e.say(modID, "/start")
	sent := e.fake.SentTo(modID)
	require.Len(t, sent, 1)
	assert.Equal(t, "Панель модератора", sent[0].Text)
	assert.Equal(t, [][]string{{"/broadcast"}}, keyboardLabels(t, sent[0]))

	e.say(adminID, "/start")
	sent = e.fake.SentTo(adminID)
	require.Len(t, sent, 1)
	assert.Equal(t, "Панель администратора", sent[0].Text)
	assert.Equal(t, [][]string{{"/all_users", "/all_broadcasts"}, {"/give_role"}}, keyboardLabels(t, sent[0]))

	u, err := e.st.UserByID(context.Background(), adminID)
	require.NoError(t, err)
	assert.Equal(t, storage.RoleAdmin, u.Role, "bootstrap admin is stored as admin")
}

func TestStartTwiceKeepsRole(t *testing.T) {
	e := newEnv(t)
	e.say(modID, "/start")
	e.say(modID, "/start")
	role, err := e.dir.Role(context.Background(), modID)
	require.NoError(t, err)
	assert.Equal(t, storage.RoleModerator, role)
}

func TestAllUsers(t *testing.T) {
	e := newEnv(t)
	e.say(adminID, "/start")
	e.say(adminID, "/all_users")
	assert.Equal(t, "total: 3\nuser: 1\nmoderator: 1\nadmin: 1", e.fake.LastText(adminID))

	e.say(modID, "/all_users")
	assert.Equal(t, router.TextDenied, e.fake.LastText(modID))
}

func TestAllBroadcasts(t *testing.T) {
	e := newEnv(t)
	e.say(adminID, "/all_broadcasts")
	assert.Equal(t, "Нет запланированных рассылок", e.fake.LastText(adminID))

	at := e.now.Add(2 * time.Hour)
	_, err := e.sched.Arm(context.Background(), content.Payload{Text: "hi"}, at, modID)
	require.NoError(t, err)

	e.say(adminID, "/all_broadcasts")
	want := "Модератор: 1 | Запланированное время: " + at.UTC().Format(dialog.TimeLayout)
	assert.Equal(t, want, e.fake.LastText(adminID))
}

func TestBroadcastThroughRouter(t *testing.T) {
	e := newEnv(t)

	e.say(userID, "/broadcast")
	assert.Equal(t, router.TextDenied, e.fake.LastText(userID))

	e.say(modID, "/broadcast")
	e.say(modID, "Привет всем")
	assert.Contains(t, e.fake.LastText(modID), "Предпросмотр рассылки")

	e.press(userID, dialog.CbBroadcastConfirm)
	var denied bool
	for _, a := range e.fake.Answers() {
		if a.Op == "alert" && a.Text == router.TextDenied {
			denied = true
		}
	}
	assert.True(t, denied, "users cannot press moderator buttons")

	e.press(modID, dialog.CbBroadcastConfirm)
	got := e.fake.SentTo(userID)
	require.NotEmpty(t, got)
	assert.Equal(t, "Привет всем", got[len(got)-1].Text)
	assert.Contains(t, e.fake.LastText(modID), "✅ Успешно: 2")
}

func TestGiveRoleThroughRouter(t *testing.T) {
	e := newEnv(t)

	e.say(adminID, "/give_role")
	e.say(adminID, "2")
	e.press(adminID, dialog.CbRolePrefix+"moderator")

	role, err := e.dir.Role(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, storage.RoleModerator, role)
	assert.Equal(t, "✅ Пользователю 2 успешно назначена роль moderator", e.fake.LastText(adminID))
}

func TestCancelAndStrayMessages(t *testing.T) {
	e := newEnv(t)

	e.say(userID, "просто текст")
	assert.Empty(t, e.fake.SentTo(userID))

	e.say(userID, "/cancel")
	assert.Equal(t, dialog.TextNothingToCancel, e.fake.LastText(userID))

	e.say(modID, "/broadcast")
	e.say(modID, "/cancel")
	assert.Equal(t, dialog.TextCanceled, e.fake.LastText(modID))
}

func TestUsersReport(t *testing.T) {
	t.Parallel()
	got := bot.UsersReport(users.Counts{Total: 4, ByRole: map[storage.Role]int{storage.RoleUser: 4}})
	if want := "total: 4\nuser: 4\nmoderator: 0\nadmin: 0"; got != want {
		t.Fatalf("UsersReport = %q, want %q", got, want)
	}
}

func TestPendingReport(t *testing.T) {
	t.Parallel()
	msk := time.FixedZone("MSK", 3*60*60)
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	list := []storage.Broadcast{
		{CreatedBy: 5, ScheduledTime: &at},
		{CreatedBy: 6},
	}
	got := bot.PendingReport(list, msk)
	want := "Модератор: 5 | Запланированное время: 01.03.2026 12:30\nМодератор: 6 | Запланированное время: -"
	if got != want {
		t.Fatalf("PendingReport = %q, want %q", got, want)
	}
	if got := bot.PendingReport(nil, msk); got != "Нет запланированных рассылок" {
		t.Fatalf("PendingReport(nil) = %q", got)
	}
}
