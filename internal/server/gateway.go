package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorBody is the JSON error shape of the HTTP gateway.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func route[Req, Resp any](
	svc LeaderboardServer,
	bind func(*http.Request, map[string]string) (*Req, error),
	call func(LeaderboardServer, context.Context, *Req) (*Resp, error),
) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		req, err := bind(r, params)
		if err != nil {
			writeError(w, status.Error(codes.InvalidArgument, err.Error()))
			return
		}
		resp, err := call(svc, r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func bindBody[Req any](r *http.Request, _ map[string]string) (*Req, error) {
	req := new(Req)
	if r.Body == nil {
		return req, nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return req, nil
}

func bindEmpty(*http.Request, map[string]string) (*Empty, error) {
	return &Empty{}, nil
}

func bindTrader(_ *http.Request, params map[string]string) (*TraderRequest, error) {
	trader, err := uuid.Parse(params["trader"])
	if err != nil {
		return nil, fmt.Errorf("invalid trader: %w", err)
	}
	return &TraderRequest{Trader: trader}, nil
}

// bindRewardHistory reads ?limit= and ?before_sequence= for paging.
func bindRewardHistory(r *http.Request, params map[string]string) (*RewardHistoryRequest, error) {
	tr, err := bindTrader(r, params)
	if err != nil {
		return nil, err
	}
	req := &RewardHistoryRequest{Trader: tr.Trader}

	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid limit: %w", err)
		}
	}
	if v := q.Get("before_sequence"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid before_sequence: %w", err)
		}
		req.BeforeSequence = &seq
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(toStatus(err))
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{
		Code:    st.Code().String(),
		Message: st.Message(),
	})
}
