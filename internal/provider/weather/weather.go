// Package weather fetches current conditions from Open-Meteo.
package weather

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"homedash/internal/model"
	"homedash/internal/provider"
)

// DefaultBaseURL is the Open-Meteo forecast API root.
const DefaultBaseURL = "https://api.open-meteo.com"

var currentSchema = provider.MustCompileSchema("open-meteo.json", `{
	"type": "object",
	"properties": {
		"current": {
			"type": "object",
			"required": ["time", "temperature_2m", "weather_code"],
			"properties": {
				"time":           {"type": "string"},
				"temperature_2m": {"type": "number"},
				"wind_speed_10m": {"type": "number"},
				"weather_code":   {"type": "integer"}
			}
		}
	}
}`)

// Client calls the Open-Meteo API.
type Client struct {
	client  provider.HTTPClient
	baseURL string
	retry   provider.RetryPolicy
	log     *slog.Logger
}

// New creates a Client against baseURL (DefaultBaseURL when empty).
func New(client provider.HTTPClient, baseURL string, policy provider.RetryPolicy, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{client: client, baseURL: strings.TrimRight(baseURL, "/"), retry: policy, log: log}
}

type forecast struct {
	Current *struct {
		Time        string  `json:"time"`
		Temperature float64 `json:"temperature_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

// FetchWeather returns the current conditions at lat, lon, or nil when the
// response carries none.
func (c *Client) FetchWeather(ctx context.Context, lat, lon float64) (*model.WeatherSnapshot, error) {
	q := url.Values{
		"latitude":  {strconv.FormatFloat(lat, 'f', 4, 64)},
		"longitude": {strconv.FormatFloat(lon, 'f', 4, 64)},
		"current":   {"temperature_2m,weather_code,wind_speed_10m"},
		"timezone":  {"UTC"},
	}
	endpoint := c.baseURL + "/v1/forecast?" + q.Encode()

	var f forecast
	err := c.retry.Do(ctx, c.log, "fetch weather", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
		if err != nil {
			return provider.Permanent(fmt.Errorf("create request: %w", err))
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("http get: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return &provider.HTTPError{URL: c.baseURL, StatusCode: resp.StatusCode}
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return nil
		}
		if err := currentSchema.Decode(body, &f); err != nil {
			return provider.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch weather: %w", err)
	}
	if f.Current == nil {
		return nil, nil
	}

	observed, _ := time.Parse("2006-01-02T15:04", f.Current.Time)
	return &model.WeatherSnapshot{
		TemperatureC: f.Current.Temperature,
		WindKPH:      f.Current.WindSpeed,
		Code:         f.Current.WeatherCode,
		Summary:      Describe(f.Current.WeatherCode),
		ObservedAt:   observed,
	}, nil
}

// Describe maps a WMO weather interpretation code to a short label.
func Describe(code int) string {
	switch {
	case code == 0:
		return "Clear sky"
	case code <= 2:
		return "Partly cloudy"
	case code == 3:
		return "Overcast"
	case code == 45 || code == 48:
		return "Fog"
	case code >= 51 && code <= 57:
		return "Drizzle"
	case code >= 61 && code <= 67:
		return "Rain"
	case code >= 71 && code <= 77:
		return "Snow"
	case code >= 80 && code <= 82:
		return "Rain showers"
	case code == 85 || code == 86:
		return "Snow showers"
	case code >= 95:
		return "Thunderstorm"
	}
	return "Unknown"
}
