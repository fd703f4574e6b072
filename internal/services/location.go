package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dpup/prefab/logging"
	"github.com/facebookgo/clock"
	"github.com/gorilla/websocket"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	kml "github.com/twpayne/go-kml"

	"github.com/dpup/locationbar/server/internal/config"
	"github.com/dpup/locationbar/server/internal/lib/coords"
	"github.com/dpup/locationbar/server/internal/lib/geo"
	"github.com/dpup/locationbar/server/internal/lib/geoid"
	"github.com/dpup/locationbar/server/internal/lib/height"
	"github.com/dpup/locationbar/server/internal/lib/position"
	"github.com/dpup/locationbar/server/internal/lib/refine"
)

// ErrSamplingDisabled is returned when no terrain sampler is configured
var ErrSamplingDisabled = errors.New("terrain sampling is not configured")

// LocationService resolves pointer positions for the REST and streaming
// endpoints.
type LocationService struct {
	geoid     geoid.Model
	sampler   refine.Sampler
	formatter *coords.Formatter
	estimator *height.Estimator
	config    *config.LocationConfig
	clock     clock.Clock
	upgrader  websocket.Upgrader
	logger    logging.Logger // used when a request carries no logger
}

// NewLocationService creates a new LocationService. sampler may be nil, in
// which case positions are never refined.
func NewLocationService(model geoid.Model, sampler refine.Sampler, formatter *coords.Formatter, cfg *config.LocationConfig) *LocationService {
	s := &LocationService{
		geoid:     model,
		sampler:   sampler,
		formatter: formatter,
		estimator: height.NewEstimator(model, cfg.Ellipsoid),
		config:    cfg,
		clock:     clock.New(),
		logger:    logging.NewDevLogger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// NewController creates a position controller for one pointer
func (s *LocationService) NewController(ctx context.Context) *position.Controller {
	return position.New(ctx, position.Options{
		Geoid:         s.geoid,
		Sampler:       s.sampler,
		Formatter:     s.formatter,
		Ellipsoid:     s.config.Ellipsoid,
		UseProjection: s.config.UseProjection,
		Delay:         s.config.Debounce,
		Timeout:       s.config.SampleTimeout,
		Clock:         s.clock,
	})
}

// RegisterRoutes registers the REST endpoints on mux
func (s *LocationService) RegisterRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method, pattern string
		handler         runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/estimate", s.handleEstimate},
		{http.MethodGet, "/v1/sample", s.handleSample},
		{http.MethodGet, "/v1/placemark", s.handlePlacemark},
	}
	for _, route := range routes {
		if err := mux.HandlePath(route.method, route.pattern, s.withLogger(route.handler)); err != nil {
			return fmt.Errorf("failed to register %s %s: %w", route.method, route.pattern, err)
		}
	}
	return nil
}

func (s *LocationService) withLogger(h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		h(w, s.scoped(r), params)
	}
}

// scoped attaches the service logger when the server did not scope one
// to the request.
func (s *LocationService) scoped(r *http.Request) *http.Request {
	if logging.FromContext(r.Context()) != nil {
		return r
	}
	return r.WithContext(logging.With(r.Context(), s.logger))
}

// EstimateResponse is the fast estimate for a single pick
type EstimateResponse struct {
	Hit        bool           `json:"hit"`
	Position   *geo.Position  `json:"position,omitempty"`
	ErrorBound *float64       `json:"error_bound,omitempty"`
	Display    coords.Display `json:"display"`
	Outline    string         `json:"outline,omitempty"`
}

// SampleResponse is an accurate, geoid-corrected sample
type SampleResponse struct {
	Position geo.Position   `json:"position"`
	Display  coords.Display `json:"display"`
}

// Estimate computes the fast estimate for a pick without any refinement
func (s *LocationService) Estimate(pick Pick, useProjection bool) (*EstimateResponse, error) {
	tri, err := pick.Triangle()
	if err != nil {
		return nil, err
	}
	if tri == nil {
		return &EstimateResponse{}, nil
	}

	est := s.estimator.Estimate(*tri)
	return &EstimateResponse{
		Hit:        true,
		Position:   &est.Position,
		ErrorBound: est.ErrorBound,
		Display:    s.formatter.Format(est.Position, est.ErrorBound, useProjection),
		Outline:    geo.EncodeOutline(*tri),
	}, nil
}

// Sample takes an accurate terrain sample at pos and converts it to a
// height above the geoid.
func (s *LocationService) Sample(ctx context.Context, pos geo.Position, useProjection bool) (*SampleResponse, error) {
	if err := pos.Validate(); err != nil {
		return nil, err
	}
	if s.sampler == nil {
		return nil, ErrSamplingDisabled
	}

	timeout := s.config.SampleTimeout
	if timeout <= 0 {
		timeout = refine.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h, err := refine.Resolve(ctx, s.sampler, s.geoid, pos)
	if err != nil {
		return nil, err
	}

	corrected := pos.WithHeight(h)
	display := s.formatter.Format(corrected, nil, useProjection)
	display.Refined = true
	return &SampleResponse{Position: corrected, Display: display}, nil
}

func (s *LocationService) handleEstimate(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var pick Pick
	if err := json.NewDecoder(r.Body).Decode(&pick); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, fmt.Errorf("failed to decode pick: %w", err))
		return
	}

	resp, err := s.Estimate(pick, queryBool(r, "projection"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (s *LocationService) handleSample(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	pos, err := queryPosition(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	resp, err := s.Sample(r.Context(), pos, queryBool(r, "projection"))
	if err != nil {
		logging.Warnw(r.Context(), "Terrain sample failed", "lon", pos.Longitude, "lat", pos.Latitude, "error", err)
		writeError(r.Context(), w, sampleStatus(err), err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (s *LocationService) handlePlacemark(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	pos, err := queryPosition(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	resp, err := s.Sample(r.Context(), pos, false)
	if err != nil {
		logging.Warnw(r.Context(), "Terrain sample failed", "lon", pos.Longitude, "lat", pos.Latitude, "error", err)
		writeError(r.Context(), w, sampleStatus(err), err)
		return
	}

	doc := kml.KML(
		kml.Placemark(
			kml.Name(resp.Display.Latitude+" "+resp.Display.Longitude),
			kml.Description("Elevation "+resp.Display.Elevation),
			kml.Point(
				kml.AltitudeMode(kml.AltitudeModeAbsolute),
				kml.Coordinates(kml.Coordinate{
					Lon: resp.Position.Longitude,
					Lat: resp.Position.Latitude,
					Alt: *resp.Position.Height,
				}),
			),
		),
	)

	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.WriteHeader(http.StatusOK)
	if err := doc.WriteIndent(w, "", "  "); err != nil {
		logging.Errorw(r.Context(), "Failed to write placemark", "error", err)
	}
}

func (s *LocationService) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func sampleStatus(err error) int {
	switch {
	case errors.Is(err, geo.ErrInvalidCoordinate):
		return http.StatusBadRequest
	case errors.Is(err, ErrSamplingDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func queryPosition(r *http.Request) (geo.Position, error) {
	q := r.URL.Query()
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		return geo.Position{}, fmt.Errorf("invalid lon: %w", err)
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return geo.Position{}, fmt.Errorf("invalid lat: %w", err)
	}
	pos := geo.NewPosition(lon, lat)
	if err := pos.Validate(); err != nil {
		return geo.Position{}, err
	}
	return pos, nil
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Errorw(ctx, "Failed to write response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	writeJSON(ctx, w, status, errorResponse{Error: err.Error()})
}
