package grpcclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/GriffinCanCode/live-translator/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/resilience"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/trace"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/translation"
)

// fakeInference serves the two model methods. The first failN calls fail with failCode.
type fakeInference struct {
	mu        sync.Mutex
	calls     int
	failN     int
	failCode  codes.Code
	lastReq   *structpb.Struct
	lastTrace string
	detect    map[string]any
}

func (f *fakeInference) handle(ctx context.Context, req *structpb.Struct, reply func(*structpb.Struct) (*structpb.Struct, error)) (any, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.lastReq = req
	if tc, ok := trace.FromContext(ctx); ok {
		f.lastTrace = tc.TraceID
	}
	f.mu.Unlock()
	if n <= f.failN {
		return nil, status.Error(f.failCode, "model busy")
	}
	return reply(req)
}

func (f *fakeInference) last() (*structpb.Struct, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq, f.lastTrace
}

func (f *fakeInference) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func unary(fn func(ctx context.Context, req *structpb.Struct) (any, error)) grpc.MethodHandler {
	return func(_ any, ctx context.Context, dec func(any) error, icpt grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if icpt == nil {
			return fn(ctx, req)
		}
		return icpt(ctx, req, &grpc.UnaryServerInfo{}, func(ctx context.Context, r any) (any, error) {
			return fn(ctx, r.(*structpb.Struct))
		})
	}
}

func (f *fakeInference) register(s *grpc.Server) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "livetranslator.v1.Recognition",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Detect",
			Handler: unary(func(ctx context.Context, req *structpb.Struct) (any, error) {
				return f.handle(ctx, req, func(*structpb.Struct) (*structpb.Struct, error) {
					if f.detect != nil {
						return structpb.NewStruct(f.detect)
					}
					return structpb.NewStruct(map[string]any{
						"segments": []any{
							map[string]any{
								"text":       "hola",
								"confidence": 0.93,
								"polygon":    []any{[]any{0, 0}, []any{10, 0}, []any{10, 5}, []any{0, 5}},
							},
						},
					})
				})
			}),
		}},
	}, f)
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "livetranslator.v1.Translation",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "TranslateBatch",
			Handler: unary(func(ctx context.Context, req *structpb.Struct) (any, error) {
				return f.handle(ctx, req, func(req *structpb.Struct) (*structpb.Struct, error) {
					var out []any
					for _, v := range req.GetFields()["texts"].GetListValue().GetValues() {
						out = append(out, "["+req.GetFields()["target"].GetStringValue()+"] "+v.GetStringValue())
					}
					return structpb.NewStruct(map[string]any{"translations": out})
				})
			}),
		}},
	}, f)
}

type harness struct {
	client *Client
	fake   *fakeInference
	health *health.Server
}

func newHarness(t *testing.T, fake *fakeInference, retry resilience.RetryConfig) *harness {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(trace.UnaryServerInterceptor()))
	fake.register(srv)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c, err := New("passthrough:///bufnet", Options{
		CallTimeout: time.Second,
		Retry:       retry,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return &harness{client: c, fake: fake, health: hs}
}

func fastRetry(n int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:  n,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		IsRetryable: resilience.IsRetryable,
	}
}

func TestDetect(t *testing.T) {
	h := newHarness(t, &fakeInference{}, fastRetry(0))
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))

	ctx, tc := trace.EnsureContext(context.Background())
	segs, err := h.client.Detect(ctx, img, 0.6)
	if err != nil {
		t.Fatalf("Detect error = %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "hola" || segs[0].Confidence != 0.93 || len(segs[0].Polygon) != 4 {
		t.Fatalf("segments = %+v", segs)
	}
	if segs[0].Polygon[2].X != 10 || segs[0].Polygon[2].Y != 5 {
		t.Errorf("Polygon[2] = %+v", segs[0].Polygon[2])
	}

	lastReq, lastTrace := h.fake.last()
	req := lastReq.GetFields()
	if req["format"].GetStringValue() != "png" || req["min_confidence"].GetNumberValue() != 0.6 {
		t.Errorf("request = %v", lastReq)
	}
	raw, err := base64.StdEncoding.DecodeString(req["image"].GetStringValue())
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := png.Decode(bytes.NewReader(raw))
	if err != nil || decoded.Bounds().Dx() != 20 {
		t.Errorf("decoded image = (%v, %v)", decoded, err)
	}
	if lastTrace != tc.TraceID {
		t.Errorf("server trace = %q, want %q", lastTrace, tc.TraceID)
	}
}

func TestTranslateBatch(t *testing.T) {
	h := newHarness(t, &fakeInference{}, fastRetry(0))

	got, err := h.client.TranslateBatch(context.Background(), []string{"hola", "adios"}, translation.Pair{Source: "es", Target: "en"})
	if err != nil {
		t.Fatalf("TranslateBatch error = %v", err)
	}
	if len(got) != 2 || got[0] != "[en] hola" || got[1] != "[en] adios" {
		t.Errorf("TranslateBatch = %q", got)
	}
	if req, _ := h.fake.last(); req.GetFields()["source"].GetStringValue() != "es" {
		t.Errorf("request = %v", req)
	}
}

func TestTransientErrorsRetried(t *testing.T) {
	h := newHarness(t, &fakeInference{failN: 2, failCode: codes.Unavailable}, fastRetry(3))

	if _, err := h.client.TranslateBatch(context.Background(), []string{"x"}, translation.Pair{Source: "es", Target: "en"}); err != nil {
		t.Fatalf("TranslateBatch error = %v", err)
	}
	if got := h.fake.callCount(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestPermanentErrorNotRetried(t *testing.T) {
	h := newHarness(t, &fakeInference{failN: 10, failCode: codes.InvalidArgument}, fastRetry(3))

	_, err := h.client.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)), 0.5)
	if !apperrors.IsCode(err, apperrors.InvalidConfiguration) {
		t.Errorf("error = %v, want InvalidConfiguration", err)
	}
	if got := h.fake.callCount(); got != 1 {
		t.Errorf("server calls = %d, want 1", got)
	}
	if h.client.BreakerStates()["recognition"] != "closed" {
		t.Error("caller errors should not trip the breaker")
	}
}

func TestBreakerOpensPerModel(t *testing.T) {
	h := newHarness(t, &fakeInference{failN: 100, failCode: codes.Unavailable}, fastRetry(0))
	ctx := context.Background()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))

	for i := 0; i < resilience.CycleThreshold; i++ {
		_, err := h.client.Detect(ctx, img, 0.5)
		if !apperrors.IsCode(err, apperrors.Unavailable) {
			t.Fatalf("call %d error = %v, want Unavailable", i, err)
		}
	}
	if got := h.client.BreakerStates(); got["recognition"] != "open" || got["translation"] != "closed" {
		t.Fatalf("BreakerStates() = %v", got)
	}

	before := h.fake.callCount()
	_, err := h.client.Detect(ctx, img, 0.5)
	if !apperrors.IsCode(err, apperrors.Unavailable) {
		t.Errorf("open breaker error = %v, want Unavailable", err)
	}
	if h.fake.callCount() != before {
		t.Error("open breaker must not reach the server")
	}
}

func TestMalformedResponse(t *testing.T) {
	h := newHarness(t, &fakeInference{detect: map[string]any{"text": "no list"}}, fastRetry(0))

	_, err := h.client.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)), 0.5)
	if !apperrors.IsCode(err, apperrors.RecognitionFailure) {
		t.Errorf("error = %v, want RecognitionFailure", err)
	}
}

func TestCheck(t *testing.T) {
	h := newHarness(t, &fakeInference{}, fastRetry(0))
	ctx := context.Background()

	if err := h.client.Check(ctx); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	if err := h.client.Check(ctx); !apperrors.IsCode(err, apperrors.Unavailable) {
		t.Errorf("Check() = %v, want Unavailable", err)
	}
}

func TestParseSegments(t *testing.T) {
	tests := []struct {
		name    string
		in      map[string]any
		want    int
		wantErr bool
	}{
		{"empty list", map[string]any{"segments": []any{}}, 0, false},
		{"no polygon", map[string]any{"segments": []any{map[string]any{"text": "a", "confidence": 1}}}, 1, false},
		{"missing list", map[string]any{}, 0, true},
		{"not an object", map[string]any{"segments": []any{"a"}}, 0, true},
		{"bad point", map[string]any{"segments": []any{map[string]any{"text": "a", "polygon": []any{[]any{1}}}}}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := structpb.NewStruct(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			got, err := parseSegments(s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSegments error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestParseTranslationsRejectsNonStrings(t *testing.T) {
	s, _ := structpb.NewStruct(map[string]any{"translations": []any{"ok", 3}})
	if _, err := parseTranslations(s); err == nil {
		t.Error("numeric translation should be rejected")
	}
}
