package trace

import (
	"encoding/json"
	"net/http"
)

// Middleware continues the caller's trace from request headers, or starts one,
// and echoes the trace id back in the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := fromHeaders(r.Header)
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

func fromHeaders(h http.Header) Context {
	tc := Context{
		TraceID:      h.Get(TraceIDKey),
		SpanID:       newSpanID(),
		ParentSpanID: h.Get(SpanIDKey),
	}
	if tc.TraceID == "" {
		tc.TraceID = newTraceID()
	}
	return tc
}

// ExtractFromJSON reads a trace_id field from a WebSocket message. It reports
// false, with a fresh trace, when the field is absent.
func ExtractFromJSON(data []byte) (Context, bool) {
	var msg struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.TraceID == "" {
		return New(), false
	}
	return Context{TraceID: msg.TraceID, SpanID: newSpanID()}, true
}
