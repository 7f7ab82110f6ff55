package bot

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"homedash/internal/model"
	"homedash/internal/scheduler"
)

const (
	recordsLimit = 10
	newsLimit    = 10

	// Telegram rejects callback data longer than this.
	maxCallbackData = 64

	timeLayout = "2006-01-02 15:04 UTC"
)

var domainTitles = map[model.Domain]string{
	model.DomainForms: "Form submissions",
	model.DomainMail:  "Inbox",
	model.DomainCards: "Cards",
}

// FormatNotification formats a dispatcher notification as a Telegram message.
func FormatNotification(title, body string) string {
	if body == "" {
		return title
	}
	return title + "\n\n" + body
}

// Status is the snapshot rendered by /status.
type Status struct {
	LastTick   time.Time
	Sites      []model.MonitoredSite
	Unread     map[model.Domain]int
	Gmail      bool
	Trello     model.TrelloConfig
	Permission model.Permission
}

// FormatStatus formats the dashboard overview.
func FormatStatus(s Status) string {
	var b strings.Builder
	b.WriteString("Dashboard\n")
	if s.LastTick.IsZero() {
		b.WriteString("Last sync: never\n")
	} else {
		fmt.Fprintf(&b, "Last sync: %s\n", s.LastTick.UTC().Format(timeLayout))
	}

	online := 0
	for _, site := range s.Sites {
		if site.Status == model.StatusOnline {
			online++
		}
	}
	fmt.Fprintf(&b, "\nSites: %d/%d online\n", online, len(s.Sites))
	fmt.Fprintf(&b, "Unread: %d forms, %d mail, %d cards\n",
		s.Unread[model.DomainForms], s.Unread[model.DomainMail], s.Unread[model.DomainCards])

	fmt.Fprintf(&b, "\nGmail: %s\n", connected(s.Gmail))
	trello := connected(s.Trello.Authorized())
	if s.Trello.Authorized() {
		switch {
		case s.Trello.BoardID == "":
			trello += " (no board selected)"
		case len(s.Trello.ListIDs) == 0:
			trello += " (no lists selected)"
		default:
			trello += fmt.Sprintf(" (%d list(s))", len(s.Trello.ListIDs))
		}
	}
	fmt.Fprintf(&b, "Trello: %s\n", trello)
	fmt.Fprintf(&b, "Notifications: %s\n", permissionLabel(s.Permission))
	return b.String()
}

func connected(ok bool) string {
	if ok {
		return "connected"
	}
	return "not connected"
}

func permissionLabel(p model.Permission) string {
	switch p {
	case model.PermissionGranted:
		return "on"
	case model.PermissionDenied:
		return "muted"
	default:
		return "off (send /start)"
	}
}

// FormatSites formats the health of every monitored site.
func FormatSites(sites []model.MonitoredSite) string {
	if len(sites) == 0 {
		return "No sites configured. Add them to the dashboard file."
	}
	var b strings.Builder
	b.WriteString("Sites:\n")
	for _, s := range sites {
		fmt.Fprintf(&b, "\n%s [%s]\n", s.Name, s.Status)
		fmt.Fprintf(&b, "   %s\n", s.URL)
		if s.Status == model.StatusOnline {
			fmt.Fprintf(&b, "   %d ms", s.LatencyMS)
			if s.OnlineUsers > 0 || s.MonthlyVisitors > 0 {
				fmt.Fprintf(&b, ", %d online, %d this month", s.OnlineUsers, s.MonthlyVisitors)
			}
			b.WriteString("\n")
		}
		if !s.LastChecked.IsZero() {
			fmt.Fprintf(&b, "   checked %s\n", s.LastChecked.UTC().Format(timeLayout))
		}
	}
	return b.String()
}

// FormatRecords formats the visible records of a domain, unread first.
func FormatRecords(d model.Domain, records []model.Record) string {
	title := domainTitles[d]
	if len(records) == 0 {
		return title + ": nothing here."
	}

	unread := 0
	for _, r := range records {
		if !r.Read {
			unread++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d unread of %d):\n", title, unread, len(records))
	for i, r := range records[:min(len(records), recordsLimit)] {
		mark := "•"
		if r.Read {
			mark = "✓"
		}
		fmt.Fprintf(&b, "\n%d. %s %s\n", i+1, mark, headline(r))
		if r.OriginName != "" {
			fmt.Fprintf(&b, "   %s · %s\n", r.OriginName, r.Timestamp.UTC().Format(timeLayout))
		} else {
			fmt.Fprintf(&b, "   %s\n", r.Timestamp.UTC().Format(timeLayout))
		}
		fmt.Fprintf(&b, "   id: %s\n", r.ID)
	}
	if extra := len(records) - recordsLimit; extra > 0 {
		fmt.Fprintf(&b, "\n...and %d more\n", extra)
	}
	return b.String()
}

func headline(r model.Record) string {
	switch {
	case r.Sender != "" && r.Subject != "":
		return r.Sender + ": " + r.Subject
	case r.Subject != "":
		return r.Subject
	}
	return r.Sender
}

// RecordKeyboard builds read and dismiss buttons for the unread records shown
// by FormatRecords. It returns nil when there is nothing to act on.
func RecordKeyboard(d model.Domain, records []model.Record) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, r := range records[:min(len(records), recordsLimit)] {
		var row []tgbotapi.InlineKeyboardButton
		if data := fmt.Sprintf("%s:%s:%s", cmdRead, d, r.ID); !r.Read && len(data) <= maxCallbackData {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Read %d", i+1), data))
		}
		if data := cmdDismiss + ":" + r.ID; d == model.DomainForms && len(data) <= maxCallbackData {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Dismiss %d", i+1), data))
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

// FormatWeather formats the current conditions.
func FormatWeather(snap *model.WeatherSnapshot, loc *scheduler.Location) string {
	if loc == nil {
		return "Weather is not configured. Add a location to the dashboard file."
	}
	label := loc.Label
	if label == "" {
		label = fmt.Sprintf("%.2f, %.2f", loc.Latitude, loc.Longitude)
	}
	if snap == nil {
		return fmt.Sprintf("%s: no weather data yet.", label)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", label)
	fmt.Fprintf(&b, "%s, %.1f°C\n", snap.Summary, snap.TemperatureC)
	fmt.Fprintf(&b, "Wind %.0f km/h\n", snap.WindKPH)
	if !snap.ObservedAt.IsZero() {
		fmt.Fprintf(&b, "Observed %s\n", snap.ObservedAt.UTC().Format(timeLayout))
	}
	return b.String()
}

// FormatNews formats up to limit headlines.
func FormatNews(items []model.NewsItem, limit int) string {
	if len(items) == 0 {
		return "No headlines."
	}
	var b strings.Builder
	b.WriteString("Headlines:\n")
	for _, it := range items[:min(len(items), limit)] {
		fmt.Fprintf(&b, "\n%s\n", it.Title)
		if it.Source != "" {
			fmt.Fprintf(&b, "   %s\n", it.Source)
		}
		if it.Link != "" {
			fmt.Fprintf(&b, "   %s\n", it.Link)
		}
	}
	return b.String()
}

// FormatBoards formats the boards available to the stored Trello credentials.
func FormatBoards(boards []model.Board) string {
	if len(boards) == 0 {
		return "No boards found."
	}
	var b strings.Builder
	b.WriteString("Boards:\n")
	for _, board := range boards {
		fmt.Fprintf(&b, "\n%s\n   /board %s\n", board.Name, board.ID)
	}
	return b.String()
}

// BoardKeyboard builds one select button per board.
func BoardKeyboard(boards []model.Board) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, board := range boards {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(board.Name, cmdBoard+":"+board.ID),
		))
	}
	if len(rows) == 0 {
		return nil
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

// FormatLists formats the lists of the selected board.
func FormatLists(boardID string, lists []model.BoardList) string {
	if len(lists) == 0 {
		return fmt.Sprintf("Board %s selected. It has no open lists.", boardID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Board %s selected. Lists:\n", boardID)
	ids := make([]string, 0, len(lists))
	for _, l := range lists {
		fmt.Fprintf(&b, "\n%s\n   id: %s\n", l.Name, l.ID)
		ids = append(ids, l.ID)
	}
	fmt.Fprintf(&b, "\nFollow lists with /lists %s", strings.Join(ids, ","))
	return b.String()
}
