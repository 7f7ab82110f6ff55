package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"homedash/internal/model"
	"homedash/internal/scheduler"
)

func TestParseReadArgs(t *testing.T) {
	tests := []struct {
		name       string
		args       string
		wantDomain model.Domain
		wantID     string
		wantErr    bool
	}{
		{name: "form id with site prefix", args: "forms blog:12", wantDomain: model.DomainForms, wantID: "blog:12"},
		{name: "mail", args: "mail 18c2f0a9", wantDomain: model.DomainMail, wantID: "18c2f0a9"},
		{name: "domain is case insensitive", args: "CARDS 5f1", wantDomain: model.DomainCards, wantID: "5f1"},
		{name: "missing id", args: "mail", wantErr: true},
		{name: "unknown domain", args: "slack 1", wantErr: true},
		{name: "empty args", args: "", wantErr: true},
		{name: "too many args", args: "mail 1 2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, id, err := ParseReadArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantDomain, d); diff != "" {
				t.Errorf("domain mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantID, id); diff != "" {
				t.Errorf("id mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseIDArg(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    string
		wantErr bool
	}{
		{name: "valid", args: "blog:42", want: "blog:42"},
		{name: "with whitespace", args: "  7  ", want: "7"},
		{name: "extra words ignored", args: "abc def", want: "abc"},
		{name: "empty", args: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIDArg(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseTrelloArgs(t *testing.T) {
	key, token, err := ParseTrelloArgs(" k1  t1 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"k1", "t1"}, []string{key, token}); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	for _, args := range []string{"", "only-key", "a b c"} {
		if _, _, err := ParseTrelloArgs(args); err == nil {
			t.Errorf("ParseTrelloArgs(%q): expected error", args)
		}
	}
}

func TestParseListIDs(t *testing.T) {
	tests := []struct {
		name string
		args string
		want []string
	}{
		{name: "commas", args: "a,b,c", want: []string{"a", "b", "c"}},
		{name: "mixed separators", args: "a, b c", want: []string{"a", "b", "c"}},
		{name: "duplicates dropped", args: "a,b,a", want: []string{"a", "b"}},
		{name: "blanks dropped", args: ",,a,,", want: []string{"a"}},
		{name: "empty", args: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseListIDs(tt.args)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatNotification(t *testing.T) {
	tests := []struct {
		name  string
		title string
		body  string
		want  string
	}{
		{name: "title and body", title: "New email", body: "Ann: Hello", want: "New email\n\nAnn: Hello"},
		{name: "title only", title: "Blog is back online", want: "Blog is back online"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatNotification(tt.title, tt.body)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatStatus(t *testing.T) {
	got := FormatStatus(Status{
		LastTick: time.Date(2026, 3, 4, 5, 6, 0, 0, time.UTC),
		Sites: []model.MonitoredSite{
			{ID: "a", Status: model.StatusOnline},
			{ID: "b", Status: model.StatusOffline},
		},
		Unread:     map[model.Domain]int{model.DomainForms: 2, model.DomainMail: 5},
		Gmail:      true,
		Trello:     model.TrelloConfig{Key: "k", Token: "t", BoardID: "b1", ListIDs: []string{"l1", "l2"}},
		Permission: model.PermissionDenied,
	})

	for _, want := range []string{
		"Last sync: 2026-03-04 05:06 UTC",
		"Sites: 1/2 online",
		"Unread: 2 forms, 5 mail, 0 cards",
		"Gmail: connected",
		"Trello: connected (2 list(s))",
		"Notifications: muted",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("status missing %q, got:\n%s", want, got)
		}
	}

	empty := FormatStatus(Status{})
	for _, want := range []string{"Last sync: never", "Gmail: not connected", "Trello: not connected", "off (send /start)"} {
		if !strings.Contains(empty, want) {
			t.Errorf("empty status missing %q, got:\n%s", want, empty)
		}
	}
}

func TestFormatSites(t *testing.T) {
	if got := FormatSites(nil); !strings.Contains(got, "No sites configured") {
		t.Errorf("unexpected empty output: %s", got)
	}

	got := FormatSites([]model.MonitoredSite{
		{Name: "Blog", URL: "https://blog.example.com", Status: model.StatusOnline, LatencyMS: 210, OnlineUsers: 3, MonthlyVisitors: 900},
		{Name: "Shop", URL: "https://shop.example.com", Status: model.StatusOffline},
	})
	for _, want := range []string{"Blog [online]", "210 ms, 3 online, 900 this month", "Shop [offline]"} {
		if !strings.Contains(got, want) {
			t.Errorf("sites missing %q, got:\n%s", want, got)
		}
	}
}

func TestFormatRecords(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)

	if got := FormatRecords(model.DomainMail, nil); got != "Inbox: nothing here." {
		t.Errorf("unexpected empty output: %q", got)
	}

	records := []model.Record{
		{ID: "blog:2", Sender: "Ann", Subject: "Quote", OriginName: "Blog", Timestamp: ts},
		{ID: "blog:1", Subject: "Hello", Timestamp: ts, Read: true},
	}
	got := FormatRecords(model.DomainForms, records)
	for _, want := range []string{
		"Form submissions (1 unread of 2):",
		"1. • Ann: Quote",
		"Blog · 2026-01-02 03:04 UTC",
		"2. ✓ Hello",
		"id: blog:1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("records missing %q, got:\n%s", want, got)
		}
	}

	var many []model.Record
	for i := 0; i < recordsLimit+3; i++ {
		many = append(many, model.Record{ID: string(rune('a' + i)), Subject: "s", Timestamp: ts})
	}
	if got := FormatRecords(model.DomainCards, many); !strings.Contains(got, "...and 3 more") {
		t.Errorf("expected overflow line, got:\n%s", got)
	}
}

func TestRecordKeyboard(t *testing.T) {
	records := []model.Record{
		{ID: "blog:2"},
		{ID: "blog:1", Read: true},
	}

	kb := RecordKeyboard(model.DomainForms, records)
	if kb == nil {
		t.Fatal("expected keyboard")
	}
	var got [][]string
	for _, row := range kb.InlineKeyboard {
		var data []string
		for _, btn := range row {
			data = append(data, *btn.CallbackData)
		}
		got = append(got, data)
	}
	want := [][]string{
		{"read:forms:blog:2", "dismiss:blog:2"},
		{"dismiss:blog:1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("keyboard mismatch (-want +got):\n%s", diff)
	}

	if kb := RecordKeyboard(model.DomainMail, []model.Record{{ID: "m1", Read: true}}); kb != nil {
		t.Errorf("expected no keyboard for read mail, got %+v", kb)
	}

	long := model.Record{ID: strings.Repeat("x", maxCallbackData)}
	if kb := RecordKeyboard(model.DomainMail, []model.Record{long}); kb != nil {
		t.Errorf("oversized callback data must be skipped, got %+v", kb)
	}
}

func TestFormatWeather(t *testing.T) {
	tests := []struct {
		name string
		snap *model.WeatherSnapshot
		loc  *scheduler.Location
		want string
	}{
		{name: "not configured", want: "Weather is not configured"},
		{name: "no data yet", loc: &scheduler.Location{Label: "Berlin"}, want: "Berlin: no weather data yet."},
		{
			name: "conditions",
			snap: &model.WeatherSnapshot{TemperatureC: 12.34, WindKPH: 9.6, Summary: "Overcast"},
			loc:  &scheduler.Location{Label: "Berlin"},
			want: "Overcast, 12.3°C\nWind 10 km/h",
		},
		{
			name: "coordinates when unlabelled",
			snap: &model.WeatherSnapshot{Summary: "Clear sky"},
			loc:  &scheduler.Location{Latitude: 52.5, Longitude: 13.4},
			want: "52.50, 13.40",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatWeather(tt.snap, tt.loc); !strings.Contains(got, tt.want) {
				t.Errorf("weather missing %q, got:\n%s", tt.want, got)
			}
		})
	}
}

func TestFormatNews(t *testing.T) {
	if diff := cmp.Diff("No headlines.", FormatNews(nil, 5)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	items := []model.NewsItem{
		{Title: "Tram line reopens", Source: "City Herald", Link: "https://herald.example.com/1"},
		{Title: "Bike lanes extended"},
		{Title: "Hidden by limit"},
	}
	got := FormatNews(items, 2)
	for _, want := range []string{"Tram line reopens", "City Herald", "https://herald.example.com/1", "Bike lanes extended"} {
		if !strings.Contains(got, want) {
			t.Errorf("news missing %q, got:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Hidden by limit") {
		t.Errorf("limit not applied:\n%s", got)
	}
}

func TestFormatLists(t *testing.T) {
	got := FormatLists("b1", []model.BoardList{{ID: "l1", Name: "To do"}, {ID: "l2", Name: "Doing"}})
	for _, want := range []string{"Board b1 selected", "To do", "id: l2", "/lists l1,l2"} {
		if !strings.Contains(got, want) {
			t.Errorf("lists missing %q, got:\n%s", want, got)
		}
	}
	if got := FormatLists("b1", nil); !strings.Contains(got, "no open lists") {
		t.Errorf("unexpected empty output: %s", got)
	}
}
