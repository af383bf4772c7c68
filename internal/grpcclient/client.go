package grpcclient

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/GriffinCanCode/live-translator/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/recognition"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/resilience"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/trace"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/translation"
)

// Options configures a Client.
type Options struct {
	CallTimeout time.Duration
	Retry       resilience.RetryConfig
	Logger      *slog.Logger
	// Extra dial options, appended after the defaults.
	DialOptions []grpc.DialOption
}

// Client is a recognition.Backend and translation.Backend served by one
// inference connection. Each model has its own circuit breaker.
type Client struct {
	conn        *grpc.ClientConn
	health      healthpb.HealthClient
	recognizer  *resilience.Breaker
	translator  *resilience.Breaker
	retry       resilience.RetryConfig
	callTimeout time.Duration
	logger      *slog.Logger
}

var (
	_ recognition.Backend = (*Client)(nil)
	_ translation.Backend = (*Client)(nil)
)

// New creates a client for addr. The connection is established lazily on the first call.
func New(addr string, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Retry.IsRetryable == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	opts.Retry.Logger = opts.Logger

	dial := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			Timeout:             DefaultKeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
	}
	conn, err := grpc.NewClient(addr, append(dial, opts.DialOptions...)...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.InvalidConfiguration, "dial inference server %q", addr)
	}

	breaker := func(name string) *resilience.Breaker {
		cfg := resilience.CycleConfig(name)
		cfg.Logger = opts.Logger
		return resilience.New(cfg)
	}
	return &Client{
		conn:        conn,
		health:      healthpb.NewHealthClient(conn),
		recognizer:  breaker("recognition"),
		translator:  breaker("translation"),
		retry:       opts.Retry,
		callTimeout: opts.CallTimeout,
		logger:      opts.Logger,
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Check asks the server's health service whether it is serving.
func (c *Client) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return apperrors.FromGRPCError(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return apperrors.Newf(apperrors.Unavailable, "inference server is %s", resp.GetStatus())
	}
	return nil
}

// Detect implements recognition.Backend.
func (c *Client) Detect(ctx context.Context, img image.Image, minConfidence float64) ([]recognition.Segment, error) {
	req, err := detectRequest(img, minConfidence)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.RecognitionFailure, "build detect request")
	}
	resp, err := c.invoke(ctx, c.recognizer, DetectMethod, req)
	if err != nil {
		return nil, err
	}
	segs, err := parseSegments(resp)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.RecognitionFailure, "decode detect response")
	}
	return segs, nil
}

// TranslateBatch implements translation.Backend.
func (c *Client) TranslateBatch(ctx context.Context, texts []string, pair translation.Pair) ([]string, error) {
	req, err := translateRequest(texts, pair)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TranslationFailure, "build translate request")
	}
	resp, err := c.invoke(ctx, c.translator, TranslateBatchMethod, req)
	if err != nil {
		return nil, err
	}
	out, err := parseTranslations(resp)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TranslationFailure, "decode translate response")
	}
	return out, nil
}

// BreakerStates reports each model's circuit breaker state.
func (c *Client) BreakerStates() map[string]string {
	return map[string]string{
		"recognition": c.recognizer.State().String(),
		"translation": c.translator.State().String(),
	}
}

func (c *Client) invoke(ctx context.Context, b *resilience.Breaker, method string, req *structpb.Struct) (*structpb.Struct, error) {
	var resp *structpb.Struct
	err := resilience.Retry(ctx, c.retry, func() error {
		return b.Execute(func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
			out := &structpb.Struct{}
			if err := c.conn.Invoke(callCtx, method, req, out); err != nil {
				return err
			}
			resp = out
			return nil
		}, resilience.IsRetryable)
	})
	if err != nil {
		trace.Logger(ctx, c.logger).Debug("inference call failed", "method", method, "error", err)
		if errors.Is(err, resilience.ErrOpen) {
			return nil, apperrors.Wrap(err, apperrors.Unavailable, "inference backend unavailable").
				WithMetadata("method", method)
		}
		return nil, apperrors.FromGRPCError(err).WithMetadata("method", method)
	}
	return resp, nil
}
