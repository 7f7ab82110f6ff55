package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"homedash/internal/model"
	"homedash/internal/provider"
	"homedash/internal/state"
	"homedash/internal/storage"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func form(site, id string, minutes int) model.Record {
	return model.Record{
		ID:        site + ":" + id,
		Domain:    model.DomainForms,
		Origin:    site,
		Sender:    "visitor " + id,
		Subject:   "message " + id,
		Timestamp: t0.Add(time.Duration(minutes) * time.Minute),
	}
}

func mail(id string, minutes int) model.Record {
	return model.Record{
		ID:        id,
		Domain:    model.DomainMail,
		Origin:    "inbox",
		Sender:    "sender " + id,
		Subject:   "subject " + id,
		Timestamp: t0.Add(time.Duration(minutes) * time.Minute),
	}
}

func ids(records []model.Record) []string {
	var out []string
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

type notification struct {
	Title string
	Body  string
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (m *mockNotifier) Notify(_ context.Context, title, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, notification{Title: title, Body: body})
}

func (m *mockNotifier) titles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, n := range m.sent {
		out = append(out, n.Title)
	}
	return out
}

func (m *mockNotifier) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type mockMonitor struct {
	mu     sync.Mutex
	sites  []model.MonitoredSite
	checks int
}

func (m *mockMonitor) CheckAll(context.Context) []model.MonitoredSite {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	return append([]model.MonitoredSite(nil), m.sites...)
}

func (m *mockMonitor) Sites() []model.MonitoredSite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.MonitoredSite(nil), m.sites...)
}

type mockForms struct {
	mu      sync.Mutex
	records map[string][]model.Record
	errs    map[string]error
	onFetch func()
}

func (m *mockForms) FetchForms(_ context.Context, site model.MonitoredSite) ([]model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onFetch != nil {
		m.onFetch()
	}
	if err := m.errs[site.ID]; err != nil {
		return nil, err
	}
	return append([]model.Record(nil), m.records[site.ID]...), nil
}

func (m *mockForms) set(site string, records []model.Record, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = map[string][]model.Record{}
		m.errs = map[string]error{}
	}
	m.records[site] = records
	m.errs[site] = err
}

type mockMail struct {
	mu       sync.Mutex
	records  []model.Record
	err      error
	panicMsg string
	calls    int
	tokens   []string
}

func (m *mockMail) FetchMessages(_ context.Context, token string, _ int) ([]model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.tokens = append(m.tokens, token)
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	return append([]model.Record(nil), m.records...), m.err
}

type mockCards struct {
	mu    sync.Mutex
	lists map[string][]model.Record
	errs  map[string]error
	calls int
}

func (m *mockCards) FetchCards(_ context.Context, _ model.TrelloConfig, listID string) ([]model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.errs[listID]; err != nil {
		return nil, err
	}
	return append([]model.Record(nil), m.lists[listID]...), nil
}

type mockWeather struct {
	snap *model.WeatherSnapshot
	err  error
}

func (m *mockWeather) FetchWeather(context.Context, float64, float64) (*model.WeatherSnapshot, error) {
	return m.snap, m.err
}

type mockNews struct {
	items []model.NewsItem
}

func (m *mockNews) FetchNews(context.Context, []string) ([]model.NewsItem, error) {
	return m.items, nil
}

type fixture struct {
	sched    *Scheduler
	state    *state.State
	store    *storage.SQLite
	monitor  *mockMonitor
	forms    *mockForms
	mail     *mockMail
	cards    *mockCards
	notifier *mockNotifier
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		state:    state.New(store, log),
		store:    store,
		monitor:  &mockMonitor{sites: []model.MonitoredSite{{ID: "blog", Name: "Blog"}, {ID: "shop", Name: "Shop"}}},
		forms:    &mockForms{},
		mail:     &mockMail{},
		cards:    &mockCards{},
		notifier: &mockNotifier{},
	}
	src := Sources{Forms: f.forms, Mail: f.mail, Cards: f.cards}
	f.sched = New(f.state, f.monitor, src, f.notifier, opts, log)
	return f
}

func TestFormsColdStartThenArrival(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.forms.set("blog", []model.Record{form("blog", "1", 1), form("blog", "2", 2)}, nil)

	f.sched.SyncNow(ctx)
	if got := f.notifier.titles(); len(got) != 0 {
		t.Fatalf("first tick notified: %v", got)
	}
	if diff := cmp.Diff([]string{"blog:2", "blog:1"}, ids(f.sched.Records(model.DomainForms))); diff != "" {
		t.Errorf("visible mismatch (-want +got):\n%s", diff)
	}

	f.forms.set("blog", []model.Record{form("blog", "1", 1), form("blog", "2", 2), form("blog", "3", 3)}, nil)
	f.sched.SyncNow(ctx)
	if diff := cmp.Diff([]notification{{Title: "New form submission", Body: "visitor 3: message 3"}}, f.notifier.sent); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}

	f.notifier.reset()
	f.sched.SyncNow(ctx)
	if got := f.notifier.titles(); len(got) != 0 {
		t.Errorf("unchanged tick notified: %v", got)
	}
}

func TestFormsEmptyFirstTickStaysCold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.forms.set("blog", nil, errors.New("connection refused"))
	f.forms.set("shop", nil, errors.New("connection refused"))

	f.sched.SyncNow(ctx)
	if len(f.sched.Records(model.DomainForms)) != 0 {
		t.Fatalf("visible after failed tick = %v", ids(f.sched.Records(model.DomainForms)))
	}

	f.forms.set("blog", []model.Record{form("blog", "1", 1), form("blog", "2", 2)}, nil)
	f.forms.set("shop", []model.Record{form("shop", "1", 3)}, nil)
	f.sched.SyncNow(ctx)
	if got := f.notifier.titles(); len(got) != 0 {
		t.Errorf("first populated tick notified: %v", got)
	}
	if diff := cmp.Diff([]string{"shop:1", "blog:2", "blog:1"}, ids(f.sched.Records(model.DomainForms))); diff != "" {
		t.Errorf("visible mismatch (-want +got):\n%s", diff)
	}
}

func TestDismissDuringFetchSticks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.forms.set("blog", []model.Record{form("blog", "1", 1), form("blog", "2", 2)}, nil)
	f.sched.SyncNow(ctx)

	f.forms.onFetch = func() {
		f.forms.onFetch = nil
		if err := f.sched.Dismiss(ctx, model.DomainForms, "blog:1"); err != nil {
			t.Errorf("Dismiss: %v", err)
		}
	}
	f.sched.SyncNow(ctx)

	if diff := cmp.Diff([]string{"blog:2"}, ids(f.sched.Records(model.DomainForms))); diff != "" {
		t.Errorf("record dismissed mid-fetch reappeared (-want +got):\n%s", diff)
	}
}

func TestMailArrivalsAreBatched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	if err := f.state.SetGmailToken(ctx, "tok"); err != nil {
		t.Fatal(err)
	}
	f.mail.records = []model.Record{mail("m1", 1)}
	f.sched.SyncNow(ctx)

	f.mail.records = []model.Record{mail("m1", 1), mail("m2", 2), mail("m3", 3), mail("m4", 4), mail("m5", 5)}
	f.sched.SyncNow(ctx)

	if diff := cmp.Diff([]string{"4 new emails"}, f.notifier.titles()); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
	body := f.notifier.sent[0].Body
	want := "sender m5: subject m5\nsender m4: subject m4\nsender m3: subject m3\nand 1 more"
	if diff := cmp.Diff(want, body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestMailSkippedWithoutToken(t *testing.T) {
	f := newFixture(t, Options{})
	f.sched.SyncNow(context.Background())
	if f.mail.calls != 0 {
		t.Errorf("mail fetched %d times without a token", f.mail.calls)
	}
}

func TestMailTokenIsReadLive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.sched.SyncNow(ctx)

	if err := f.state.SetGmailToken(ctx, "fresh"); err != nil {
		t.Fatal(err)
	}
	f.sched.SyncNow(ctx)
	if diff := cmp.Diff([]string{"fresh"}, f.mail.tokens); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestMailAuthExpiredClearsToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	if err := f.state.SetGmailToken(ctx, "stale"); err != nil {
		t.Fatal(err)
	}
	f.mail.err = fmt.Errorf("list messages: %w", provider.ErrAuthExpired)
	f.forms.set("blog", []model.Record{form("blog", "1", 1)}, nil)

	f.sched.SyncNow(ctx)

	if got := f.state.GmailToken(ctx); got != "" {
		t.Errorf("token = %q, want cleared", got)
	}
	if diff := cmp.Diff([]string{"Gmail disconnected"}, f.notifier.titles()); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"blog:1"}, ids(f.sched.Records(model.DomainForms))); diff != "" {
		t.Errorf("forms must still sync (-want +got):\n%s", diff)
	}

	f.sched.SyncNow(ctx)
	if diff := cmp.Diff(1, f.mail.calls); diff != "" {
		t.Errorf("loop must continue without calling mail again (-want +got):\n%s", diff)
	}
}

func TestPanickingStepDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	if err := f.state.SetGmailToken(ctx, "tok"); err != nil {
		t.Fatal(err)
	}
	f.mail.panicMsg = "boom"
	f.forms.set("blog", []model.Record{form("blog", "1", 1)}, nil)

	f.sched.SyncNow(ctx)
	f.sched.SyncNow(ctx)

	if diff := cmp.Diff([]string{"blog:1"}, ids(f.sched.Records(model.DomainForms))); diff != "" {
		t.Errorf("forms mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(2, f.monitor.checks); diff != "" {
		t.Errorf("site checks mismatch (-want +got):\n%s", diff)
	}
}

func TestFailingSiteKeepsPreviousForms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.forms.set("blog", []model.Record{form("blog", "1", 1)}, nil)
	f.forms.set("shop", []model.Record{form("shop", "1", 5)}, nil)
	f.sched.SyncNow(ctx)

	f.forms.set("blog", []model.Record{form("blog", "1", 1), form("blog", "2", 2)}, nil)
	f.forms.set("shop", nil, errors.New("timeout"))
	f.sched.SyncNow(ctx)

	if diff := cmp.Diff([]string{"shop:1", "blog:2", "blog:1"}, ids(f.sched.Records(model.DomainForms))); diff != "" {
		t.Errorf("visible mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"New form submission"}, f.notifier.titles()); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkReadAndDismiss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	stale := []model.Record{form("blog", "1", 5), form("blog", "2", 1)}
	f.forms.set("blog", stale, nil)
	f.sched.SyncNow(ctx)

	if err := f.sched.MarkRead(ctx, model.DomainForms, "blog:1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if diff := cmp.Diff([]string{"blog:2", "blog:1"}, ids(f.sched.Records(model.DomainForms))); diff != "" {
		t.Errorf("order after read mismatch (-want +got):\n%s", diff)
	}
	if !f.state.ReadIDs(ctx, model.DomainForms).Has("blog:1") {
		t.Error("read id not persisted")
	}

	if err := f.sched.Dismiss(ctx, model.DomainForms, "blog:1"); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	f.sched.SyncNow(ctx)
	if diff := cmp.Diff([]string{"blog:2"}, ids(f.sched.Records(model.DomainForms))); diff != "" {
		t.Errorf("dismissed record reappeared (-want +got):\n%s", diff)
	}
}

func TestUserActionErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	if err := f.sched.MarkRead(ctx, model.DomainMail, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkRead err = %v, want ErrNotFound", err)
	}
	if err := f.sched.Dismiss(ctx, model.DomainMail, "m1"); !errors.Is(err, ErrNotDismissable) {
		t.Errorf("Dismiss mail err = %v, want ErrNotDismissable", err)
	}
	if err := f.sched.Dismiss(ctx, model.DomainForms, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Dismiss err = %v, want ErrNotFound", err)
	}
}

func TestReadSetIsReadLive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.forms.set("blog", []model.Record{form("blog", "1", 1)}, nil)
	f.sched.SyncNow(ctx)

	// Written behind the scheduler's back, as another surface would.
	if err := f.state.AddRead(ctx, model.DomainForms, "blog:1"); err != nil {
		t.Fatal(err)
	}
	f.sched.SyncNow(ctx)

	got := f.sched.Records(model.DomainForms)
	if len(got) != 1 || !got[0].Read {
		t.Errorf("records = %+v, want blog:1 read", got)
	}
}

func TestClearRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	read := form("blog", "1", 1)
	read.Read = true
	f.forms.set("blog", []model.Record{read, form("blog", "2", 2)}, nil)
	f.sched.SyncNow(ctx)

	n, err := f.sched.ClearRead(ctx)
	if err != nil {
		t.Fatalf("ClearRead: %v", err)
	}
	if diff := cmp.Diff(1, n); diff != "" {
		t.Errorf("cleared count mismatch (-want +got):\n%s", diff)
	}
	if !f.state.DeletedIDs(ctx, model.DomainForms).Has("blog:1") {
		t.Error("cleared id not persisted as deleted")
	}
	f.sched.SyncNow(ctx)
	if diff := cmp.Diff([]string{"blog:2"}, ids(f.sched.Records(model.DomainForms))); diff != "" {
		t.Errorf("visible mismatch (-want +got):\n%s", diff)
	}
}

func TestCards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	f.sched.SyncNow(ctx)
	if f.cards.calls != 0 {
		t.Fatalf("cards fetched without credentials")
	}

	if err := f.state.SetTrelloCredentials(ctx, "k", "t"); err != nil {
		t.Fatal(err)
	}
	f.sched.SyncNow(ctx)
	if f.cards.calls != 0 {
		t.Fatalf("cards fetched without a list selection")
	}

	if err := f.state.SelectBoard(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	if err := f.state.SelectLists(ctx, []string{"todo", "doing"}); err != nil {
		t.Fatal(err)
	}
	card := func(id, list string, minutes int) model.Record {
		return model.Record{ID: id, Domain: model.DomainCards, Origin: list, Subject: id, Timestamp: t0.Add(time.Duration(minutes) * time.Minute)}
	}
	f.cards.lists = map[string][]model.Record{
		"todo":  {card("c1", "todo", 1)},
		"doing": {card("c2", "doing", 2)},
	}
	f.sched.SyncNow(ctx)
	if diff := cmp.Diff([]string{"c2", "c1"}, ids(f.sched.Records(model.DomainCards))); diff != "" {
		t.Errorf("cards mismatch (-want +got):\n%s", diff)
	}

	f.cards.errs = map[string]error{"doing": &provider.HTTPError{StatusCode: 500}}
	f.sched.SyncNow(ctx)
	if diff := cmp.Diff([]string{"c2", "c1"}, ids(f.sched.Records(model.DomainCards))); diff != "" {
		t.Errorf("failing list should keep previous cards (-want +got):\n%s", diff)
	}

	f.cards.errs = map[string]error{"todo": &provider.HTTPError{StatusCode: 401}}
	f.sched.SyncNow(ctx)
	cfg := f.state.Trello(ctx)
	if cfg.Token != "" || cfg.Key != "k" {
		t.Errorf("trello config after 401 = %+v, want token cleared and key kept", cfg)
	}
	if len(f.sched.Records(model.DomainCards)) != 0 {
		t.Error("cards should be cleared after auth expiry")
	}
	if diff := cmp.Diff([]string{"Trello disconnected"}, f.notifier.titles()); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
}

func TestWeatherAndNews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{
		Location:  &Location{Label: "Berlin", Latitude: 52.5, Longitude: 13.4},
		NewsFeeds: []string{"https://news.example.com/rss"},
	})
	snap := &model.WeatherSnapshot{TemperatureC: 12, Summary: "Overcast"}
	weather := &mockWeather{snap: snap}
	f.sched.src.Weather = weather
	f.sched.src.News = &mockNews{items: []model.NewsItem{{GUID: "n1", Title: "Tram reopens"}}}

	f.sched.SyncNow(ctx)

	got, loc := f.sched.Weather()
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Errorf("weather mismatch (-want +got):\n%s", diff)
	}
	if loc == nil || loc.Label != "Berlin" {
		t.Errorf("location = %+v", loc)
	}
	if diff := cmp.Diff([]model.NewsItem{{GUID: "n1", Title: "Tram reopens"}}, f.sched.News()); diff != "" {
		t.Errorf("news mismatch (-want +got):\n%s", diff)
	}

	// A failed or empty weather fetch keeps the last known conditions.
	weather.snap, weather.err = nil, errors.New("timeout")
	f.sched.SyncNow(ctx)
	if got, _ := f.sched.Weather(); got != snap {
		t.Errorf("weather after failure = %+v, want last known", got)
	}
}

func TestPruneHonoursRetention(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Retention: 24 * time.Hour})
	if err := f.state.AddDeleted(ctx, model.DomainForms, "blog:old"); err != nil {
		t.Fatal(err)
	}
	f.sched.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	f.sched.SyncNow(ctx)

	if f.state.DeletedIDs(ctx, model.DomainForms).Has("blog:old") {
		t.Error("id older than retention was not pruned")
	}
}

func TestNoPruneByDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	if err := f.state.AddDeleted(ctx, model.DomainForms, "blog:old"); err != nil {
		t.Fatal(err)
	}
	f.sched.now = func() time.Time { return time.Now().Add(10 * 365 * 24 * time.Hour) }

	f.sched.SyncNow(ctx)

	if !f.state.DeletedIDs(ctx, model.DomainForms).Has("blog:old") {
		t.Error("deleted ids must be kept forever without retention")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, Options{Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.sched.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		f.monitor.mu.Lock()
		checks := f.monitor.checks
		f.monitor.mu.Unlock()
		if checks >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d ticks ran", checks)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if f.sched.LastTick().IsZero() {
		t.Error("LastTick not recorded")
	}
}
