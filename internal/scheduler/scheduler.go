// Package scheduler drives the periodic synchronization of every dashboard
// domain and exposes the resulting views and user actions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"homedash/internal/model"
	"homedash/internal/provider"
	"homedash/internal/reconcile"
	"homedash/internal/state"
)

// ErrNotFound is returned by user actions on records that are not visible.
var ErrNotFound = errors.New("record not found")

// ErrNotDismissable is returned when dismissing outside the forms domain.
var ErrNotDismissable = errors.New("only form submissions can be dismissed")

// FormsSource fetches the form submissions of one site.
type FormsSource interface {
	FetchForms(ctx context.Context, site model.MonitoredSite) ([]model.Record, error)
}

// MailSource fetches inbox messages with an access token.
type MailSource interface {
	FetchMessages(ctx context.Context, token string, limit int) ([]model.Record, error)
}

// CardsSource fetches the cards of one board list.
type CardsSource interface {
	FetchCards(ctx context.Context, cfg model.TrelloConfig, listID string) ([]model.Record, error)
}

// WeatherSource fetches current conditions.
type WeatherSource interface {
	FetchWeather(ctx context.Context, lat, lon float64) (*model.WeatherSnapshot, error)
}

// NewsSource fetches filtered headlines from feeds.
type NewsSource interface {
	FetchNews(ctx context.Context, urls []string) ([]model.NewsItem, error)
}

// SiteMonitor checks the monitored sites.
type SiteMonitor interface {
	CheckAll(ctx context.Context) []model.MonitoredSite
	Sites() []model.MonitoredSite
}

// Notifier delivers user notifications.
type Notifier interface {
	Notify(ctx context.Context, title, body string)
}

// Sources groups the adapters. A nil source disables its domain.
type Sources struct {
	Forms   FormsSource
	Mail    MailSource
	Cards   CardsSource
	Weather WeatherSource
	News    NewsSource
}

// Location is where weather is reported for.
type Location struct {
	Label     string
	Latitude  float64
	Longitude float64
}

// Options tunes the scheduler.
type Options struct {
	Interval  time.Duration
	MailLimit int
	// Retention bounds the age of persisted read and deleted ids.
	// Zero keeps them forever.
	Retention time.Duration
	Location  *Location
	NewsFeeds []string
}

// Scheduler periodically synchronizes every domain.
type Scheduler struct {
	state    *state.State
	monitor  SiteMonitor
	src      Sources
	notifier Notifier
	opts     Options
	log      *slog.Logger
	now      func() time.Time

	forms *reconcile.Engine
	mail  *reconcile.Engine
	cards *reconcile.Engine

	sitesBusy   sync.Mutex
	weatherBusy sync.Mutex
	newsBusy    sync.Mutex

	mu       sync.RWMutex
	weather  *model.WeatherSnapshot
	news     []model.NewsItem
	lastTick time.Time
}

// New creates a Scheduler.
func New(st *state.State, monitor SiteMonitor, src Sources, notifier Notifier, opts Options, log *slog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.MailLimit <= 0 {
		opts.MailLimit = 20
	}
	return &Scheduler{
		state:    st,
		monitor:  monitor,
		src:      src,
		notifier: notifier,
		opts:     opts,
		log:      log,
		now:      time.Now,
		forms:    reconcile.NewEngine(model.DomainForms),
		mail:     reconcile.NewEngine(model.DomainMail),
		cards:    reconcile.NewEngine(model.DomainCards),
	}
}

// Run performs one synchronization immediately and then one per interval,
// blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.SyncNow(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncNow(ctx)
		}
	}
}

type step struct {
	name string
	run  func(ctx context.Context, log *slog.Logger) error
	// authExpired runs instead of error logging when the step's provider
	// rejected the stored credential.
	authExpired func(ctx context.Context, log *slog.Logger)
}

func (s *Scheduler) steps() []step {
	return []step{
		{name: "forms", run: s.syncForms},
		{name: "sites", run: s.syncSites},
		{name: "mail", run: s.syncMail, authExpired: s.mailAuthExpired},
		{name: "cards", run: s.syncCards, authExpired: s.cardsAuthExpired},
		{name: "weather", run: s.syncWeather},
		{name: "news", run: s.syncNews},
	}
}

// SyncNow runs one tick: every domain step concurrently, each isolated from
// the failures of the others. Manual refreshes call it directly.
func (s *Scheduler) SyncNow(ctx context.Context) {
	log := s.log.With("tick", uuid.NewString())
	start := s.now()
	log.Debug("tick started")

	var g errgroup.Group
	for _, st := range s.steps() {
		g.Go(func() error {
			s.runStep(ctx, log, st)
			return nil
		})
	}
	_ = g.Wait()

	s.prune(ctx, log)

	s.mu.Lock()
	s.lastTick = s.now()
	s.mu.Unlock()
	log.Debug("tick finished", "duration", s.now().Sub(start))
}

func (s *Scheduler) runStep(ctx context.Context, log *slog.Logger, st step) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("sync step panic", "step", st.name, "panic", r)
		}
	}()

	err := st.run(ctx, log)
	switch {
	case err == nil:
	case errors.Is(err, provider.ErrAuthExpired) && st.authExpired != nil:
		log.Warn("credential expired", "step", st.name, "error", err)
		st.authExpired(ctx, log)
	default:
		log.Error("sync step", "step", st.name, "error", err)
	}
}

func (s *Scheduler) syncForms(ctx context.Context, log *slog.Logger) error {
	if s.src.Forms == nil {
		return nil
	}
	sites := s.monitor.Sites()
	if len(sites) == 0 {
		return nil
	}
	end, ok := s.forms.TryBegin()
	if !ok {
		log.Debug("forms sync already running")
		return nil
	}
	defer end()

	perSite := make([][]model.Record, len(sites))
	var g errgroup.Group
	for i, site := range sites {
		g.Go(func() error {
			records, err := s.src.Forms.FetchForms(ctx, site)
			if err != nil {
				log.Warn("fetch forms, keeping previous", "site", site.ID, "error", err)
				records = s.forms.VisibleFrom(site.ID)
			}
			perSite[i] = records
			return nil
		})
	}
	_ = g.Wait()

	fetched := slices.Concat(perSite...)
	arrivals := s.forms.Apply(fetched,
		s.idSet(ctx, s.state.DeletedIDs, model.DomainForms),
		s.idSet(ctx, s.state.ReadIDs, model.DomainForms))
	log.Debug("forms reconciled", "fetched", len(fetched), "new", len(arrivals))
	s.announce(ctx, model.DomainForms, arrivals)
	return nil
}

func (s *Scheduler) syncSites(ctx context.Context, log *slog.Logger) error {
	if !s.sitesBusy.TryLock() {
		log.Debug("site checks already running")
		return nil
	}
	defer s.sitesBusy.Unlock()

	sites := s.monitor.CheckAll(ctx)
	online := 0
	for _, site := range sites {
		if site.Status == model.StatusOnline {
			online++
		}
	}
	log.Debug("sites checked", "total", len(sites), "online", online)
	return nil
}

func (s *Scheduler) syncMail(ctx context.Context, log *slog.Logger) error {
	if s.src.Mail == nil {
		return nil
	}
	token := s.state.GmailToken(ctx)
	if token == "" {
		s.mail.Clear()
		return nil
	}
	end, ok := s.mail.TryBegin()
	if !ok {
		log.Debug("mail sync already running")
		return nil
	}
	defer end()

	records, err := s.src.Mail.FetchMessages(ctx, token, s.opts.MailLimit)
	if err != nil {
		return fmt.Errorf("fetch mail: %w", err)
	}
	arrivals := s.mail.Apply(records,
		s.idSet(ctx, s.state.DeletedIDs, model.DomainMail),
		s.idSet(ctx, s.state.ReadIDs, model.DomainMail))
	log.Debug("mail reconciled", "fetched", len(records), "new", len(arrivals))
	s.announce(ctx, model.DomainMail, arrivals)
	return nil
}

func (s *Scheduler) mailAuthExpired(ctx context.Context, log *slog.Logger) {
	if err := s.state.ClearGmailToken(ctx); err != nil {
		log.Error("clear gmail token", "error", err)
	}
	s.mail.Clear()
	s.notifier.Notify(ctx, "Gmail disconnected", "The access token expired. Send /gmail <token> to reconnect.")
}

func (s *Scheduler) syncCards(ctx context.Context, log *slog.Logger) error {
	if s.src.Cards == nil {
		return nil
	}
	cfg := s.state.Trello(ctx)
	if !cfg.Authorized() || len(cfg.ListIDs) == 0 {
		s.cards.Clear()
		return nil
	}
	end, ok := s.cards.TryBegin()
	if !ok {
		log.Debug("cards sync already running")
		return nil
	}
	defer end()

	perList := make([][]model.Record, len(cfg.ListIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, listID := range cfg.ListIDs {
		g.Go(func() error {
			records, err := s.src.Cards.FetchCards(gctx, cfg, listID)
			if errors.Is(err, provider.ErrAuthExpired) {
				return err
			}
			if err != nil {
				log.Warn("fetch cards, keeping previous", "list", listID, "error", err)
				records = s.cards.VisibleFrom(listID)
			}
			perList[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fetch cards: %w", err)
	}

	fetched := slices.Concat(perList...)
	arrivals := s.cards.Apply(fetched,
		s.idSet(ctx, s.state.DeletedIDs, model.DomainCards),
		s.idSet(ctx, s.state.ReadIDs, model.DomainCards))
	log.Debug("cards reconciled", "fetched", len(fetched), "new", len(arrivals))
	s.announce(ctx, model.DomainCards, arrivals)
	return nil
}

func (s *Scheduler) cardsAuthExpired(ctx context.Context, log *slog.Logger) {
	if err := s.state.ClearTrelloToken(ctx); err != nil {
		log.Error("clear trello token", "error", err)
	}
	s.cards.Clear()
	s.notifier.Notify(ctx, "Trello disconnected", "The token was rejected. Send /trello <key> <token> to reconnect.")
}

func (s *Scheduler) syncWeather(ctx context.Context, log *slog.Logger) error {
	loc := s.opts.Location
	if s.src.Weather == nil || loc == nil {
		return nil
	}
	if !s.weatherBusy.TryLock() {
		return nil
	}
	defer s.weatherBusy.Unlock()

	snap, err := s.src.Weather.FetchWeather(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		return fmt.Errorf("fetch weather: %w", err)
	}
	if snap == nil {
		log.Debug("weather response had no current conditions")
		return nil
	}
	s.mu.Lock()
	s.weather = snap
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) syncNews(ctx context.Context, log *slog.Logger) error {
	if s.src.News == nil || len(s.opts.NewsFeeds) == 0 {
		return nil
	}
	if !s.newsBusy.TryLock() {
		return nil
	}
	defer s.newsBusy.Unlock()

	items, err := s.src.News.FetchNews(ctx, s.opts.NewsFeeds)
	if err != nil {
		return fmt.Errorf("fetch news: %w", err)
	}
	s.mu.Lock()
	s.news = items
	s.mu.Unlock()
	log.Debug("news updated", "items", len(items))
	return nil
}

func (s *Scheduler) prune(ctx context.Context, log *slog.Logger) {
	if s.opts.Retention <= 0 {
		return
	}
	n, err := s.state.Prune(ctx, s.now().Add(-s.opts.Retention))
	if err != nil {
		log.Error("prune id sets", "error", err)
		return
	}
	if n > 0 {
		log.Info("pruned id sets", "removed", n)
	}
}

var nouns = map[model.Domain][2]string{
	model.DomainForms: {"form submission", "form submissions"},
	model.DomainMail:  {"email", "emails"},
	model.DomainCards: {"card", "cards"},
}

const maxListed = 3

// announce sends one notification for all arrivals of a domain in a tick.
func (s *Scheduler) announce(ctx context.Context, d model.Domain, arrivals []model.Record) {
	if len(arrivals) == 0 {
		return
	}
	noun := nouns[d]
	arrivals = slices.Clone(arrivals)
	reconcile.Sort(arrivals)
	if len(arrivals) == 1 {
		r := arrivals[0]
		s.notifier.Notify(ctx, "New "+noun[0], describe(r))
		return
	}

	var lines []string
	for _, r := range arrivals[:min(len(arrivals), maxListed)] {
		lines = append(lines, describe(r))
	}
	if extra := len(arrivals) - maxListed; extra > 0 {
		lines = append(lines, fmt.Sprintf("and %d more", extra))
	}
	s.notifier.Notify(ctx, fmt.Sprintf("%d new %s", len(arrivals), noun[1]), strings.Join(lines, "\n"))
}

func describe(r model.Record) string {
	switch {
	case r.Sender != "" && r.Subject != "":
		return r.Sender + ": " + r.Subject
	case r.Subject != "":
		return r.Subject
	}
	return r.Sender
}

func (s *Scheduler) engine(d model.Domain) *reconcile.Engine {
	switch d {
	case model.DomainForms:
		return s.forms
	case model.DomainMail:
		return s.mail
	case model.DomainCards:
		return s.cards
	}
	return nil
}

// idSet defers a persisted set lookup until the engine applies a fetch.
func (s *Scheduler) idSet(ctx context.Context, get func(context.Context, model.Domain) model.IDSet, d model.Domain) func() model.IDSet {
	return func() model.IDSet { return get(ctx, d) }
}

// MarkRead persists id as read and updates the visible collection.
func (s *Scheduler) MarkRead(ctx context.Context, d model.Domain, id string) error {
	e := s.engine(d)
	if e == nil {
		return fmt.Errorf("unknown domain %q", d)
	}
	if _, ok := e.Lookup(id); !ok {
		return ErrNotFound
	}
	if err := s.state.AddRead(ctx, d, id); err != nil {
		return fmt.Errorf("persist read: %w", err)
	}
	e.MarkRead(id)
	return nil
}

// Dismiss soft-deletes a form submission. It never reappears, whatever the
// site returns later.
func (s *Scheduler) Dismiss(ctx context.Context, d model.Domain, id string) error {
	if d != model.DomainForms {
		return ErrNotDismissable
	}
	if _, ok := s.forms.Lookup(id); !ok {
		return ErrNotFound
	}
	if err := s.state.AddDeleted(ctx, model.DomainForms, id); err != nil {
		return fmt.Errorf("persist dismiss: %w", err)
	}
	s.forms.Remove(id)
	return nil
}

// ClearRead dismisses every read form submission and returns how many.
func (s *Scheduler) ClearRead(ctx context.Context) (int, error) {
	ids := s.forms.RemoveRead()
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.state.AddDeleted(ctx, model.DomainForms, ids...); err != nil {
		return 0, fmt.Errorf("persist clear read: %w", err)
	}
	return len(ids), nil
}

// Records returns the visible collection of a domain.
func (s *Scheduler) Records(d model.Domain) []model.Record {
	if e := s.engine(d); e != nil {
		return e.Visible()
	}
	return nil
}

// Unread counts the unread visible records of a domain.
func (s *Scheduler) Unread(d model.Domain) int {
	if e := s.engine(d); e != nil {
		return e.Unread()
	}
	return 0
}

// Sites returns the latest state of every monitored site.
func (s *Scheduler) Sites() []model.MonitoredSite {
	return s.monitor.Sites()
}

// Weather returns the last known conditions, or nil.
func (s *Scheduler) Weather() (*model.WeatherSnapshot, *Location) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weather, s.opts.Location
}

// News returns the last fetched headlines.
func (s *Scheduler) News() []model.NewsItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.NewsItem(nil), s.news...)
}

// LastTick returns when the last tick finished.
func (s *Scheduler) LastTick() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick
}
