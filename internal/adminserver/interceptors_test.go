package server_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"connectrpc.com/connect"

	server "github.com/soad-project/soad/internal/adminserver"
)

// testMsg is a bare message type used to drive connect.Request/Response
// generics without depending on any generated protobuf service.
type testMsg struct {
	Value string
}

func okNext(value string) connect.UnaryFunc {
	return func(_ context.Context, _ connect.AnyRequest) (connect.AnyResponse, error) {
		return connect.NewResponse(&testMsg{Value: value}), nil
	}
}

func errNext(err error) connect.UnaryFunc {
	return func(_ context.Context, _ connect.AnyRequest) (connect.AnyResponse, error) {
		return nil, err
	}
}

func panicNext(v any) connect.UnaryFunc {
	return func(_ context.Context, _ connect.AnyRequest) (connect.AnyResponse, error) {
		panic(v)
	}
}

// -------------------------------------------------------------------------
// TestLoggingInterceptor
// -------------------------------------------------------------------------

func TestLoggingInterceptorSuccess(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	wrapped := server.LoggingInterceptor(logger)(okNext("reply"))

	resp, err := wrapped(context.Background(), connect.NewRequest(&testMsg{Value: "request"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := resp.Any().(*testMsg)
	if !ok || got.Value != "reply" {
		t.Fatalf("response = %+v, want Value=reply", resp.Any())
	}
}

func TestLoggingInterceptorError(t *testing.T) {
	t.Parallel()

	wantErr := connect.NewError(connect.CodeNotFound, errors.New("not found"))

	logger := slog.New(slog.DiscardHandler)
	wrapped := server.LoggingInterceptor(logger)(errNext(wantErr))

	_, err := wrapped(context.Background(), connect.NewRequest(&testMsg{}))
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

// -------------------------------------------------------------------------
// TestRecoveryInterceptor
// -------------------------------------------------------------------------

func TestRecoveryInterceptorNoPanic(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	wrapped := server.RecoveryInterceptor(logger)(okNext("fine"))

	resp, err := wrapped(context.Background(), connect.NewRequest(&testMsg{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.Any().(*testMsg); got.Value != "fine" {
		t.Errorf("response = %+v, want Value=fine", got)
	}
}

func TestRecoveryInterceptorPanic(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	wrapped := server.RecoveryInterceptor(logger)(panicNext("intentional test panic"))

	_, err := wrapped(context.Background(), connect.NewRequest(&testMsg{}))
	if err == nil {
		t.Fatal("expected error after panic, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeInternal {
		t.Errorf("code = %s, want Internal", connectErr.Code())
	}
	if !errors.Is(err, server.ErrPanicRecovered) {
		t.Errorf("error %v does not wrap ErrPanicRecovered", err)
	}
}

// -------------------------------------------------------------------------
// TestBothInterceptors -- logging + recovery chained together
// -------------------------------------------------------------------------

func TestBothInterceptors(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	wrapped := server.RecoveryInterceptor(logger)(server.LoggingInterceptor(logger)(okNext("chained")))

	resp, err := wrapped(context.Background(), connect.NewRequest(&testMsg{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.Any().(*testMsg); got.Value != "chained" {
		t.Errorf("response = %+v, want Value=chained", got)
	}
}
