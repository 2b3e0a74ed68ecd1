// Package api exposes the coordinator over a local Huma/chi HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/tab_sentry/internal/health"
	"github.com/dgnsrekt/tab_sentry/internal/relay"
	"github.com/dgnsrekt/tab_sentry/internal/sentry"
	"github.com/dgnsrekt/tab_sentry/internal/session"
)

type Service interface {
	SessionHealth(ctx context.Context) (health.Health, error)
	RecoveryStatus(ctx context.Context) (sentry.RecoveryStatus, error)
	CompleteRecovery(ctx context.Context) error
	ExitRecovery(ctx context.Context) error
	Credits(ctx context.Context) (int64, error)
	TabID() string
}

func NewServer(svc Service, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(svc.TabID()))
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Tab Sentry Control API", "1.0.0")
	api := humachi.New(router, cfg)

	registerHandlers(api, svc)
	router.Get("/api/v1/events", relay.SSEHandler(broker))

	return router
}

func registerHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
			TabID  string `json:"tab_id"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Liveness check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.TabID = svc.TabID()
			return out, nil
		})

	type sessionHealthOutput struct {
		Body health.Health
	}
	huma.Register(api, huma.Operation{OperationID: "session-health", Method: http.MethodGet, Path: "/api/v1/session/health", Summary: "Classify session health across the truth sources", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*sessionHealthOutput, error) {
			h, err := svc.SessionHealth(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &sessionHealthOutput{}
			out.Body = h
			return out, nil
		})

	type recoveryStatusOutput struct {
		Body sentry.RecoveryStatus
	}
	huma.Register(api, huma.Operation{OperationID: "recovery-status", Method: http.MethodGet, Path: "/api/v1/recovery", Summary: "Current recovery state", Tags: []string{"Recovery"}},
		func(ctx context.Context, input *struct{}) (*recoveryStatusOutput, error) {
			status, err := svc.RecoveryStatus(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &recoveryStatusOutput{}
			out.Body = status
			return out, nil
		})

	type recoveryActionOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "recovery-complete", Method: http.MethodPost, Path: "/api/v1/recovery/complete", Summary: "Finish recovery after a successful password update", Tags: []string{"Recovery"}},
		func(ctx context.Context, input *struct{}) (*recoveryActionOutput, error) {
			if err := svc.CompleteRecovery(ctx); err != nil {
				return nil, mapErr(err)
			}
			out := &recoveryActionOutput{}
			out.Body.Status = "completed"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "recovery-exit", Method: http.MethodPost, Path: "/api/v1/recovery/exit", Summary: "Abandon recovery mode", Tags: []string{"Recovery"}},
		func(ctx context.Context, input *struct{}) (*recoveryActionOutput, error) {
			if err := svc.ExitRecovery(ctx); err != nil {
				return nil, mapErr(err)
			}
			out := &recoveryActionOutput{}
			out.Body.Status = "exited"
			return out, nil
		})

	type creditsOutput struct {
		Body struct {
			Balance int64 `json:"balance"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "credits", Method: http.MethodGet, Path: "/api/v1/credits", Summary: "Fetch the credit balance", Tags: []string{"Credits"}},
		func(ctx context.Context, input *struct{}) (*creditsOutput, error) {
			bal, err := svc.Credits(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &creditsOutput{}
			out.Body.Balance = bal
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *session.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case session.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case session.CodeRecoveryConflict:
			return huma.Error409Conflict(coded.Message)
		case session.CodeAuthUnavailable, session.CodeBackendUnavailable, session.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		case session.CodeRecoveryExhausted:
			return huma.Error503ServiceUnavailable(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
