package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-walletsync/core"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, envelope := core.ToEnvelope(err)
	writeJSON(w, status, envelope)
}

// execute validates msg, runs the command and returns the result it stored.
func execute[T any, R any](ctx context.Context, cmd gocmd.Commander[T], msg T) (R, error) {
	var zero R
	if err := validate(msg); err != nil {
		return zero, err
	}
	collector := gocmd.NewResult[R]()
	if err := cmd.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		out, _ := collector.Load()
		return out, err
	}
	out, _ := collector.Load()
	return out, nil
}

func ask[T any, R any](ctx context.Context, qry gocmd.Querier[T, R], msg T) (R, error) {
	var zero R
	if err := validate(msg); err != nil {
		return zero, err
	}
	return qry.Query(ctx, msg)
}

type validator interface {
	Validate() error
}

func validate(msg any) error {
	if v, ok := msg.(validator); ok {
		return v.Validate()
	}
	return nil
}
