package server

import (
	"net/http"
	"time"

	"github.com/robynrox/evse-controller/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)

	e.GET("/api/status", s.StatusHandler)
	e.GET("/api/history", s.HistoryHandler)
	e.POST("/api/control/state", s.SetStateHandler)
	e.POST("/api/control/range", s.SetRangeHandler)
	e.POST("/api/control/demand-levels", s.SetDemandLevelsHandler)
	e.POST("/api/control/remote-protocol", s.SetRemoteProtocolHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

type statusResponse struct {
	State        string  `json:"state"`
	DesiredAmps  int     `json:"desired_amps"`
	ChargerState string  `json:"charger_state"`
	CurrentAmps  int     `json:"current_amps"`
	BatterySoC   int     `json:"battery_soc"`
	CommsFailure bool    `json:"comms_failure"`
	GridWatts    float64 `json:"grid_w"`
	EvseWatts    float64 `json:"evse_w"`
	HomeWatts    float64 `json:"home_w"`
	VoltageVolts float64 `json:"voltage"`
}

func (s *Server) StatusHandler(c echo.Context) error {
	res, err := s.request(domain.ControlStatusRequest{})
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody(err))
	}
	status, ok := res.(domain.ControlStatusResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorBody(echo.ErrInternalServerError))
	}
	body := statusResponse{
		State:        status.State.String(),
		DesiredAmps:  status.DesiredAmps,
		ChargerState: status.Charger.EffectiveStatus().String(),
		CurrentAmps:  status.Charger.CurrentAmps,
		BatterySoC:   status.Charger.BatteryPercent,
		CommsFailure: status.Charger.CommsFailure,
	}
	if status.LastSample != nil {
		body.GridWatts = status.LastSample.GridWatts
		body.EvseWatts = status.LastSample.EvseWatts
		body.HomeWatts = status.LastSample.HomeWatts()
		body.VoltageVolts = status.LastSample.VoltageVolts
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) HistoryHandler(c echo.Context) error {
	res, err := s.request(domain.ControlHistoryRequest{})
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody(err))
	}
	history, ok := res.(domain.ControlHistoryResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorBody(echo.ErrInternalServerError))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"entries": history.Entries,
	})
}

type setStateBody struct {
	State string `json:"state"`
}

func (s *Server) SetStateHandler(c echo.Context) error {
	var body setStateBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}
	state, err := domain.ParseControlState(body.State)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}
	res, err := s.request(domain.ControlSetStateRequest{State: state})
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody(err))
	}
	resp, ok := res.(domain.ControlSetStateResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorBody(echo.ErrInternalServerError))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"state":   resp.State.String(),
		"changed": resp.Changed,
	})
}

type setRangeBody struct {
	Charge    *domain.CurrentRange `json:"charge"`
	Discharge *domain.CurrentRange `json:"discharge"`
}

func (s *Server) SetRangeHandler(c echo.Context) error {
	var body setRangeBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}
	for _, r := range []*domain.CurrentRange{body.Charge, body.Discharge} {
		if r != nil && (r.Min < 0 || r.Max < r.Min) {
			return c.JSON(http.StatusBadRequest, errorBody(echo.NewHTTPError(http.StatusBadRequest, "invalid range")))
		}
	}
	res, err := s.request(domain.ControlSetCurrentRangeRequest{
		Charge:    body.Charge,
		Discharge: body.Discharge,
	})
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody(err))
	}
	resp, ok := res.(domain.ControlSetCurrentRangeResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorBody(echo.ErrInternalServerError))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"charge":    resp.Charge,
		"discharge": resp.Discharge,
	})
}

type setDemandLevelsBody struct {
	Levels []domain.HomeDemandLevel `json:"levels"`
}

func (s *Server) SetDemandLevelsHandler(c echo.Context) error {
	var body setDemandLevelsBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}
	if len(body.Levels) == 0 {
		return c.JSON(http.StatusBadRequest, errorBody(echo.NewHTTPError(http.StatusBadRequest, "empty levels")))
	}
	res, err := s.request(domain.ControlSetDemandLevelsRequest{Levels: body.Levels})
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody(err))
	}
	resp, ok := res.(domain.ControlSetDemandLevelsResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorBody(echo.ErrInternalServerError))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count": resp.Count,
	})
}

type setRemoteProtocolBody struct {
	Enable bool `json:"enable"`
}

func (s *Server) SetRemoteProtocolHandler(c echo.Context) error {
	var body setRemoteProtocolBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}
	res, err := s.request(domain.ControlSetRemoteProtocolRequest{Enable: body.Enable})
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody(err))
	}
	resp, ok := res.(domain.ControlSetRemoteProtocolResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorBody(echo.ErrInternalServerError))
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"requested": resp.Requested,
	})
}

func (s *Server) request(msg any) (any, error) {
	return s.rootContext.RequestFuture(s.masterActor, msg, 10*time.Second).Result()
}

func errorBody(err error) map[string]any {
	return map[string]any{
		"error": err.Error(),
	}
}
