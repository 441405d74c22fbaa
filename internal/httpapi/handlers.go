package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-backend/internal/battle"
	"github.com/DoyleJ11/battle-backend/internal/engine"
	"github.com/DoyleJ11/battle-backend/internal/hub"
	"github.com/DoyleJ11/battle-backend/internal/store"
)

const maxBodyBytes = 64 << 10

type api struct {
	battles  *battle.Service
	hub      *hub.Hub
	validate *validator.Validate
	log      *zap.Logger
}

func newAPI(battles *battle.Service, h *hub.Hub, log *zap.Logger) *api {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &api{battles: battles, hub: h, validate: v, log: log}
}

type sideBody struct {
	ID   string `json:"id" validate:"required,max=64"`
	Name string `json:"name" validate:"max=80"`
}

type createBattleBody struct {
	ID     string   `json:"id" validate:"omitempty,max=64"`
	SideA  sideBody `json:"sideA"`
	SideB  sideBody `json:"sideB"`
	Rounds int      `json:"rounds" validate:"min=0,max=10"`
}

type verseBody struct {
	SideID string `json:"sideId" validate:"required"`
	Text   string `json:"text" validate:"required"`
}

type voteBody struct {
	Round  int    `json:"round" validate:"min=0"`
	SideID string `json:"sideId" validate:"required"`
}

type commentBody struct {
	Author string `json:"author" validate:"max=40"`
	Text   string `json:"text"`
}

func (a *api) createBattle(w http.ResponseWriter, r *http.Request) {
	var body createBattleBody
	if !a.decode(w, r, &body) {
		return
	}
	b, err := a.battles.Create(r.Context(), battle.CreateRequest{
		ID:     body.ID,
		SideA:  engine.Side{ID: engine.SideID(body.SideA.ID), Name: body.SideA.Name},
		SideB:  engine.Side{ID: engine.SideID(body.SideB.ID), Name: body.SideB.Name},
		Rounds: body.Rounds,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (a *api) getBattle(w http.ResponseWriter, r *http.Request) {
	b, err := a.battles.Get(r.Context(), chi.URLParam(r, "id"))
	a.respond(w, r, b, err)
}

func (a *api) submitVerse(w http.ResponseWriter, r *http.Request) {
	var body verseBody
	if !a.decode(w, r, &body) {
		return
	}
	b, err := a.battles.SubmitVerse(r.Context(), chi.URLParam(r, "id"), engine.SideID(body.SideID), body.Text)
	a.respond(w, r, b, err)
}

func (a *api) vote(w http.ResponseWriter, r *http.Request) {
	var body voteBody
	if !a.decode(w, r, &body) {
		return
	}
	b, err := a.battles.Vote(r.Context(), chi.URLParam(r, "id"), body.Round, engine.SideID(body.SideID))
	a.respond(w, r, b, err)
}

func (a *api) advance(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.battles.Advance)
}

func (a *api) pause(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.battles.Pause)
}

func (a *api) resume(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.battles.Resume)
}

func (a *api) startLive(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.battles.StartLive)
}

func (a *api) endLive(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.battles.EndLive)
}

func (a *api) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (engine.Battle, error)) {
	b, err := fn(r.Context(), chi.URLParam(r, "id"))
	a.respond(w, r, b, err)
}

func (a *api) comment(w http.ResponseWriter, r *http.Request) {
	var body commentBody
	if !a.decode(w, r, &body) {
		return
	}
	c, err := a.battles.Comment(r.Context(), chi.URLParam(r, "id"), body.Author, body.Text)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *api) room(w http.ResponseWriter, r *http.Request) {
	view, err := a.hub.Inspect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !view.OK {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "room not found"})
		return
	}
	writeJSON(w, http.StatusOK, view.View)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed body"})
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
			}
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request", Fields: fields})
			return false
		}
		a.writeError(w, r, err)
		return false
	}
	return true
}

func (a *api) respond(w http.ResponseWriter, r *http.Request, b engine.Battle, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type errorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrExists),
		errors.Is(err, engine.ErrWrongTurn),
		errors.Is(err, engine.ErrRoundComplete),
		errors.Is(err, engine.ErrRoundIncomplete),
		errors.Is(err, engine.ErrNotOngoing):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidVerse),
		errors.Is(err, engine.ErrUnknownSide),
		errors.Is(err, engine.ErrInvalidVotes),
		errors.Is(err, engine.ErrInvalidBattle),
		errors.Is(err, battle.ErrEmptyComment),
		errors.Is(err, battle.ErrCommentTooLong):
		return http.StatusBadRequest
	case errors.Is(err, hub.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
