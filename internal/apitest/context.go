package apitest

import (
	"context"
	"net/http"
)

func contextWithUser(r *http.Request, id int64) context.Context {
	return context.WithValue(r.Context(), userIDKey{}, id)
}

func userFromContext(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey{}).(int64)
	return id
}
