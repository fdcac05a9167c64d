package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/teslashibe/go-tony/internal/httpc"
)

// ForecastSamples is the number of three-hour forecast samples returned,
// roughly the next 24 hours.
const ForecastSamples = 8

var (
	currentWeatherJQ = mustParser(`{
		location: "\(.name), \(.sys.country // "")",
		temperature: .main.temp,
		feels_like: .main.feels_like,
		humidity: .main.humidity,
		pressure: .main.pressure,
		description: (.weather[0].description // ""),
		wind_speed: (.wind.speed // 0),
		visibility_km: ((.visibility // 0) / 1000)
	}`)
	forecastJQ = mustParser(`{
		location: "\(.city.name), \(.city.country // "")",
		forecast: [(.list // [])[:$n][] | {
			datetime: .dt_txt,
			temperature: .main.temp,
			description: (.weather[0].description // ""),
			humidity: .main.humidity,
			wind_speed: (.wind.speed // 0)
		}]
	}`, "$n")
)

// CurrentWeather is a current-conditions report.
type CurrentWeather struct {
	Location     string  `json:"location"`
	Temperature  float64 `json:"temperature"`
	FeelsLike    float64 `json:"feels_like"`
	Humidity     float64 `json:"humidity"`
	Pressure     float64 `json:"pressure"`
	Description  string  `json:"description"`
	WindSpeed    float64 `json:"wind_speed"`
	VisibilityKM float64 `json:"visibility_km"`
	Units        string  `json:"units"`
}

// ForecastSample is one three-hour forecast point.
type ForecastSample struct {
	DateTime    string  `json:"datetime"`
	Temperature float64 `json:"temperature"`
	Description string  `json:"description"`
	Humidity    float64 `json:"humidity"`
	WindSpeed   float64 `json:"wind_speed"`
}

// Forecast is a short-range forecast.
type Forecast struct {
	Location string           `json:"location"`
	Forecast []ForecastSample `json:"forecast"`
	Units    string           `json:"units"`
}

// Weather answers OpenWeather lookups.
type Weather struct {
	base   string
	key    func() string
	client *http.Client
	logger *slog.Logger
}

// NewWeather returns a Weather client.
func NewWeather(cfg Config) *Weather {
	cfg = cfg.withDefaults()
	return &Weather{
		base:   cfg.Endpoints.OpenWeather,
		key:    cfg.Keys.OpenWeather,
		client: cfg.Client,
		logger: cfg.Logger.With("component", "tools.weather"),
	}
}

// unitSystem maps a unit name to the OpenWeather parameter and the label
// reported with temperatures.
func unitSystem(units string) (param, label string, err error) {
	switch strings.ToLower(strings.TrimSpace(units)) {
	case "", "metric":
		return "metric", "°C", nil
	case "imperial":
		return "imperial", "°F", nil
	case "kelvin", "standard":
		return "standard", "K", nil
	default:
		return "", "", fmt.Errorf("unsupported units %q (use metric, imperial or kelvin)", units)
	}
}

func (w *Weather) get(ctx context.Context, path, location, units string) ([]byte, string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, "", errors.New("location is required")
	}
	param, label, err := unitSystem(units)
	if err != nil {
		return nil, "", err
	}
	key := keyOf(w.key)
	if key == "" {
		return nil, "", errors.New("no weather provider configured")
	}

	endpoint := httpc.WithQuery(w.base+path, url.Values{
		"q":     {location},
		"appid": {key},
		"units": {param},
	})
	body, err := httpc.GetJSON(ctx, w.client, endpoint, nil)
	if err != nil {
		w.logger.Debug("weather lookup failed", "path", path, "location", location, "error", err)
		return nil, "", fmt.Errorf("weather API error: %s", upstreamMessage(err))
	}
	return body, label, nil
}

// upstreamMessage pulls the "message" field out of an OpenWeather error body.
func upstreamMessage(err error) string {
	var se *httpc.StatusError
	if errors.As(err, &se) {
		var body struct {
			Message string `json:"message"`
		}
		if json.Unmarshal([]byte(se.Body), &body) == nil && body.Message != "" {
			return body.Message
		}
	}
	return err.Error()
}

// Current returns current conditions for location.
func (w *Weather) Current(ctx context.Context, location, units string) (*CurrentWeather, error) {
	body, label, err := w.get(ctx, "/weather", location, units)
	if err != nil {
		return nil, err
	}
	cw := &CurrentWeather{}
	if err := currentWeatherJQ.run(body, cw); err != nil {
		return nil, fmt.Errorf("weather API error: %w", err)
	}
	cw.Description = titleCase(cw.Description)
	cw.Units = label
	return cw, nil
}

// Forecast returns the next ForecastSamples samples for location.
func (w *Weather) Forecast(ctx context.Context, location, units string) (*Forecast, error) {
	body, label, err := w.get(ctx, "/forecast", location, units)
	if err != nil {
		return nil, err
	}
	f := &Forecast{}
	if err := forecastJQ.run(body, f, ForecastSamples); err != nil {
		return nil, fmt.Errorf("forecast API error: %w", err)
	}
	for i := range f.Forecast {
		f.Forecast[i].Description = titleCase(f.Forecast[i].Description)
	}
	f.Units = label
	return f, nil
}

// titleCase capitalizes each word. A Caser is stateful, so one is built per call.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}
