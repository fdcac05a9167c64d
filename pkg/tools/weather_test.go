package tools

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestCurrentWeather(t *testing.T) {
	f := newFakeProviders(t, map[string]http.HandlerFunc{
		"/ow/weather": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("units"); got != "imperial" {
				t.Errorf("units = %q, want imperial", got)
			}
			writeJSON(`{"name":"London","sys":{"country":"GB"},
				"main":{"temp":61.2,"feels_like":60,"humidity":72,"pressure":1012},
				"weather":[{"description":"light rain"}],"wind":{"speed":4.1},"visibility":8000}`)(w, r)
		},
	})
	r, err := NewDefault(f.config())
	if err != nil {
		t.Fatal(err)
	}

	res := r.Dispatch(context.Background(), "get_current_weather",
		map[string]any{"location": "London", "units": "imperial"})
	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	cw := res.Data.(*CurrentWeather)
	if cw.Location != "London, GB" {
		t.Errorf("Location = %q", cw.Location)
	}
	if cw.Description != "Light Rain" {
		t.Errorf("Description = %q, want Light Rain", cw.Description)
	}
	if cw.Units != "°F" || cw.VisibilityKM != 8 {
		t.Errorf("weather = %+v", cw)
	}
}

func TestWeatherForecastLimited(t *testing.T) {
	var samples []string
	for i := 0; i < 12; i++ {
		samples = append(samples, fmt.Sprintf(
			`{"dt_txt":"2025-01-01 %02d:00:00","main":{"temp":%d,"humidity":50},"weather":[{"description":"clear sky"}]}`,
			i, i))
	}
	f := newFakeProviders(t, map[string]http.HandlerFunc{
		"/ow/forecast": writeJSON(fmt.Sprintf(`{"city":{"name":"Pune","country":"IN"},"list":[%s]}`,
			strings.Join(samples, ","))),
	})
	w := NewWeather(f.config())

	fc, err := w.Forecast(context.Background(), "Pune", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.Forecast) != ForecastSamples {
		t.Fatalf("len(Forecast) = %d, want %d", len(fc.Forecast), ForecastSamples)
	}
	if fc.Units != "°C" {
		t.Errorf("Units = %q, want °C", fc.Units)
	}
	if fc.Forecast[7].Temperature != 7 || fc.Forecast[0].Description != "Clear Sky" {
		t.Errorf("samples = %+v", fc.Forecast)
	}
}

func TestWeatherErrors(t *testing.T) {
	f := newFakeProviders(t, map[string]http.HandlerFunc{
		"/ow/weather": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"cod":"404","message":"city not found"}`)
		},
	})
	w := NewWeather(f.config())

	_, err := w.Current(context.Background(), "Atlantis", "metric")
	if err == nil || err.Error() != "weather API error: city not found" {
		t.Errorf("err = %v, want upstream message", err)
	}
	if _, err := w.Current(context.Background(), "Paris", "rankine"); err == nil {
		t.Error("expected error for unsupported units")
	}

	cfg := f.config()
	cfg.Keys.OpenWeather = nil
	if _, err := NewWeather(cfg).Current(context.Background(), "Paris", ""); err == nil {
		t.Error("expected error without an API key")
	}
}

func TestWeatherDeclarationEnum(t *testing.T) {
	r, err := NewDefault(Config{})
	if err != nil {
		t.Fatal(err)
	}
	tool, ok := r.Lookup("get_weather_forecast")
	if !ok {
		t.Fatal("get_weather_forecast not registered")
	}
	if got := len(tool.Parameters.Properties["units"].Enum); got != 3 {
		t.Errorf("units enum size = %d, want 3", got)
	}
	if names := len(r.Tools()); names != 7 {
		t.Errorf("builtin tools = %d, want 7", names)
	}
}
