package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hed1ad/safestride/internal/engine"
	"github.com/hed1ad/safestride/internal/profile"
)

const maxBodyBytes = 1 << 20

// Defaults applied to absent behavior_data fields.
const (
	defaultTypingInterval = 250.0
	defaultMouseCount     = 0
	defaultScrollCount    = 0
)

type analyzeRequest struct {
	UserID       string       `json:"user_id"`
	BehaviorData behaviorData `json:"behavior_data"`
}

type behaviorData struct {
	AvgTypingInterval  *float64 `json:"avgTypingInterval" validate:"omitempty,gte=0"`
	MouseMovementCount *int     `json:"mouseMovementCount" validate:"omitempty,gte=0"`
	ScrollEventCount   *int     `json:"scrollEventCount" validate:"omitempty,gte=0"`
}

func (b behaviorData) sample() engine.Sample {
	s := engine.Sample{
		TypingInterval: defaultTypingInterval,
		MouseCount:     defaultMouseCount,
		ScrollCount:    defaultScrollCount,
	}
	if b.AvgTypingInterval != nil {
		s.TypingInterval = *b.AvgTypingInterval
	}
	if b.MouseMovementCount != nil {
		s.MouseCount = *b.MouseMovementCount
	}
	if b.ScrollEventCount != nil {
		s.ScrollCount = *b.ScrollEventCount
	}
	return s
}

type analyzeResponse struct {
	Success bool `json:"success"`
	engine.Result
}

type profileResponse struct {
	Success bool           `json:"success"`
	Profile profile.Detail `json:"profile"`
}

type usersResponse struct {
	Success bool              `json:"success"`
	Users   []profile.Summary `json:"users"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Health(r.Context()))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+describeDecodeError(err))
		return
	}

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "INVALID_SAMPLE",
				fmt.Sprintf("%s must be >= %s", verrs[0].Field(), verrs[0].Param()))
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	res, err := s.engine.Analyze(r.Context(), req.UserID, req.BehaviorData.sample())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{Success: true, Result: res})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	detail, err := s.engine.ProfileSummary(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Success: true, Profile: detail})
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteProfile(r.Context(), chi.URLParam(r, "user_id")); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Profile deleted"})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, usersResponse{Success: true, Users: s.engine.ListProfiles(r.Context())})
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := "INTERNAL_ERROR"
	var engErr *engine.Error
	if errors.As(err, &engErr) && engErr.Code != "" {
		code = engErr.Code
	}

	switch engine.KindOf(err) {
	case engine.KindValidation:
		writeError(w, http.StatusBadRequest, code, err.Error())
	case engine.KindNotFound:
		writeError(w, http.StatusNotFound, code, engErr.Message)
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, code, err.Error())
	}
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type)
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return "body too large"
	}
	return err.Error()
}

// writeJSON encodes v before committing the status, so a value that cannot
// be encoded turns into a 500 instead of an empty success.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		buf.Reset()
		status = http.StatusInternalServerError
		_ = json.NewEncoder(&buf).Encode(errorResponse{
			Error: fmt.Sprintf("encode response: %v", err),
			Code:  "INTERNAL_ERROR",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
