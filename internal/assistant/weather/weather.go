// ABOUTME: Weather specialist task: geocodes a place and reports current conditions.
// ABOUTME: Talks to Open-Meteo compatible endpoints; no API key required.

package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/noa/internal/llm"
)

const (
	defaultGeocodeURL  = "https://geocoding-api.open-meteo.com/v1/search"
	defaultForecastURL = "https://api.open-meteo.com/v1/forecast"
)

const placePrompt = `Extract the place name a weather question asks about.
Reply with only the place name. Example: "What is the weather in New York?" -> New York`

// weatherCodes maps WMO weather interpretation codes to text.
var weatherCodes = map[int]string{
	0:  "clear sky",
	1:  "mainly clear",
	2:  "partly cloudy",
	3:  "overcast",
	45: "fog",
	51: "light drizzle",
	61: "light rain",
	63: "rain",
	65: "heavy rain",
	71: "light snow",
	73: "snow",
	75: "heavy snow",
	80: "rain showers",
	95: "thunderstorm",
}

// Config points the task at its endpoints. Zero values use the public
// Open-Meteo API.
type Config struct {
	GeocodeURL  string `yaml:"geocode_url"`
	ForecastURL string `yaml:"forecast_url"`
}

// Task answers weather queries. The model client is optional and only used
// to extract the place name from free-form questions.
type Task struct {
	cfg    Config
	client llm.Client
	http   *http.Client
	logger *slog.Logger
}

// New creates the weather task. client may be nil; pass nil logger for
// default.
func New(cfg Config, client llm.Client, logger *slog.Logger) *Task {
	if cfg.GeocodeURL == "" {
		cfg.GeocodeURL = defaultGeocodeURL
	}
	if cfg.ForecastURL == "" {
		cfg.ForecastURL = defaultForecastURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Task{
		cfg:    cfg,
		client: client,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger.With("component", "weather"),
	}
}

// Execute answers one weather query.
func (t *Task) Execute(ctx context.Context, query string) (string, error) {
	place, err := t.extractPlace(ctx, query)
	if err != nil {
		return "", err
	}

	loc, err := t.geocode(ctx, place)
	if err != nil {
		return "", err
	}

	current, err := t.current(ctx, loc)
	if err != nil {
		return "", err
	}

	desc, ok := weatherCodes[current.WeatherCode]
	if !ok {
		desc = "unknown conditions"
	}
	return fmt.Sprintf("It is currently %s and %.0f%s in %s (wind %.0f km/h)",
		desc, current.Temperature, current.TemperatureUnit, loc.Name, current.WindSpeed), nil
}

// extractPlace pulls the place name out of the query: the model when
// available, otherwise the text after the last " in ".
func (t *Task) extractPlace(ctx context.Context, query string) (string, error) {
	if t.client != nil {
		place, err := t.client.Chat(ctx, []llm.ChatTurn{
			{Role: "system", Content: placePrompt},
			{Role: "user", Content: query},
		})
		if err == nil && strings.TrimSpace(place) != "" {
			return strings.TrimSpace(place), nil
		}
		t.logger.Warn("place extraction via model failed, falling back", "error", err)
	}

	cleaned := strings.TrimRight(strings.TrimSpace(query), "?!. ")
	if idx := strings.LastIndex(strings.ToLower(cleaned), " in "); idx >= 0 {
		return strings.TrimSpace(cleaned[idx+4:]), nil
	}
	if cleaned == "" {
		return "", fmt.Errorf("no place in query %q", query)
	}
	return cleaned, nil
}

type location struct {
	Name      string
	Latitude  float64
	Longitude float64
}

type conditions struct {
	Temperature     float64
	TemperatureUnit string
	WeatherCode     int
	WindSpeed       float64
}

func (t *Task) geocode(ctx context.Context, place string) (*location, error) {
	u := fmt.Sprintf("%s?name=%s&count=1", t.cfg.GeocodeURL, url.QueryEscape(place))

	var parsed struct {
		Results []struct {
			Name      string  `json:"name"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	if err := t.getJSON(ctx, u, &parsed); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", place, err)
	}
	if len(parsed.Results) == 0 {
		return nil, fmt.Errorf("no location found for %q", place)
	}

	r := parsed.Results[0]
	return &location{Name: r.Name, Latitude: r.Latitude, Longitude: r.Longitude}, nil
}

func (t *Task) current(ctx context.Context, loc *location) (*conditions, error) {
	u := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&current=temperature_2m,weather_code,wind_speed_10m",
		t.cfg.ForecastURL, loc.Latitude, loc.Longitude)

	var parsed struct {
		Current struct {
			Temperature float64 `json:"temperature_2m"`
			WeatherCode int     `json:"weather_code"`
			WindSpeed   float64 `json:"wind_speed_10m"`
		} `json:"current"`
		CurrentUnits struct {
			Temperature string `json:"temperature_2m"`
		} `json:"current_units"`
	}
	if err := t.getJSON(ctx, u, &parsed); err != nil {
		return nil, fmt.Errorf("forecast for %s: %w", loc.Name, err)
	}

	unit := parsed.CurrentUnits.Temperature
	if unit == "" {
		unit = "°C"
	}
	return &conditions{
		Temperature:     parsed.Current.Temperature,
		TemperatureUnit: unit,
		WeatherCode:     parsed.Current.WeatherCode,
		WindSpeed:       parsed.Current.WindSpeed,
	}, nil
}

func (t *Task) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
