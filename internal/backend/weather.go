package backend

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
)

// WeatherClient fetches current conditions plus a short forecast for a US
// zip code or free-form location string.
type WeatherClient struct {
	logger     *slog.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewWeatherClient(log *slog.Logger, baseURL, apiKey string, timeout time.Duration) (*WeatherClient, error) {
	if log == nil {
		log = slog.Default()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.weatherapi.com/v1"
	}
	if apiKey == "" {
		return nil, fmt.Errorf("weather api_key is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WeatherClient{
		logger:     log.With(slog.String("service", "weather_backend")),
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *WeatherClient) ID() string { return IDWeather }

type weatherAPIResponse struct {
	Location struct {
		Name    string `json:"name"`
		Region  string `json:"region"`
		Country string `json:"country"`
	} `json:"location"`
	Current struct {
		TempC     float64 `json:"temp_c"`
		TempF     float64 `json:"temp_f"`
		Humidity  int     `json:"humidity"`
		WindKph   float64 `json:"wind_kph"`
		Condition struct {
			Text string `json:"text"`
		} `json:"condition"`
	} `json:"current"`
	Forecast struct {
		ForecastDay []struct {
			Date string `json:"date"`
			Day  struct {
				MinTempC  float64 `json:"mintemp_c"`
				MaxTempC  float64 `json:"maxtemp_c"`
				Condition struct {
					Text string `json:"text"`
				} `json:"condition"`
			} `json:"day"`
		} `json:"forecastday"`
	} `json:"forecast"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Execute looks up weather for the location in req.Content.
func (c *WeatherClient) Execute(ctx context.Context, req Request) (Result, error) {
	location := strings.TrimSpace(req.Content)
	if location == "" {
		return Result{}, Errorf(IDWeather, "empty location")
	}

	reqURL, err := url.Parse(c.baseURL + "/forecast.json")
	if err != nil {
		return Result{}, fmt.Errorf("parse base url: %w", err)
	}
	params := reqURL.Query()
	params.Set("key", c.apiKey)
	params.Set("q", location)
	params.Set("days", "3")
	reqURL.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, Errorf(IDWeather, "request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, Errorf(IDWeather, "read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, Errorf(IDWeather, "status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed weatherAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, Errorf(IDWeather, "invalid response: %v", err)
	}
	if parsed.Error != nil {
		return Result{}, Errorf(IDWeather, "%s", parsed.Error.Message)
	}

	report := &WeatherReport{
		Location:    displayLocation(parsed.Location.Name, parsed.Location.Region, parsed.Location.Country),
		Condition:   parsed.Current.Condition.Text,
		TempC:       parsed.Current.TempC,
		TempF:       parsed.Current.TempF,
		Humidity:    parsed.Current.Humidity,
		WindKph:     parsed.Current.WindKph,
		RetrievedAt: time.Now().UTC(),
	}
	for _, day := range parsed.Forecast.ForecastDay {
		report.Forecast = append(report.Forecast, ForecastDay{
			Date:      day.Date,
			Condition: day.Day.Condition.Text,
			MinTempC:  day.Day.MinTempC,
			MaxTempC:  day.Day.MaxTempC,
		})
	}
	return Result{Kind: KindWeather, Weather: report}, nil
}

func displayLocation(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}
