package grpcapi

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	apperrors "audio-notation-service/internal/errors"
	"audio-notation-service/internal/observability"
	"audio-notation-service/internal/observability/metrics"
	"audio-notation-service/internal/service/audio"
	"audio-notation-service/internal/service/conversion"
	"audio-notation-service/internal/service/pitch"
	"audio-notation-service/internal/service/pitch/mock"
	"audio-notation-service/internal/service/workspace"
)

var testFormat = audio.CanonicalFormat(8000)

func newTestClient(t *testing.T) (*Client, *metrics.Metrics) {
	t.Helper()
	ws, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	limits := audio.Limits{MaxUploadBytes: 1 << 20, MaxInputDuration: 30 * time.Second, ProcessingCap: 10 * time.Second}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	svc := conversion.New(conversion.Deps{
		Workspaces: ws,
		Normalizer: audio.NewNormalizer(audio.NewWAVOnly(), audio.Toolchain{}, limits, testFormat),
		Detector:   pitch.NewDetector(mock.New(), pitch.DefaultParams()),
		Metrics:    m,
	})

	lis := bufconn.Listen(4 << 20)
	server := grpc.NewServer(grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)))
	Register(server, svc)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn), m
}

func toneBytes(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "take.wav")
	if err := audio.WriteTone(path, testFormat, 1, 440); err != nil {
		t.Fatalf("failed to write tone: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestConvertAndGetJob(t *testing.T) {
	client, m := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.Convert(ctx, toneBytes(t), ConvertOptions{Filename: "take.wav", Transposition: "alto_eb", Simplify: true})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	fields := resp.GetFields()
	jobID := fields["job_id"].GetStringValue()
	if jobID == "" {
		t.Fatal("expected a job id")
	}
	md := fields["metadata"].GetStructValue().GetFields()
	if got := md["note_count"].GetNumberValue(); got != 15 {
		t.Errorf("expected 15 notes, got %v", got)
	}
	if got := md["instrument"].GetStringValue(); got != "Alto Saxophone" {
		t.Errorf("expected Alto Saxophone, got %q", got)
	}
	if !md["simplified"].GetBoolValue() {
		t.Error("expected simplified=true")
	}

	job, err := client.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got := job.GetFields()["stage"].GetStringValue(); got != "COMPLETED" {
		t.Errorf("expected COMPLETED, got %s", got)
	}

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("grpc", "/"+ServiceName+"/Convert", "OK")); got != 1 {
		t.Errorf("expected one recorded Convert call, got %v", got)
	}
}

func TestConvert_ErrorCodes(t *testing.T) {
	client, _ := newTestClient(t)
	audioBytes := toneBytes(t)

	tests := []struct {
		name  string
		audio []byte
		opts  ConvertOptions
		code  codes.Code
	}{
		{"empty upload", nil, ConvertOptions{Filename: "take.wav"}, codes.InvalidArgument},
		{"bad transposition", audioBytes, ConvertOptions{Filename: "take.wav", Transposition: "bari"}, codes.InvalidArgument},
		{"bad tempo", audioBytes, ConvertOptions{Filename: "take.wav", TempoBPM: 20}, codes.InvalidArgument},
		{"needs transcoder", audioBytes, ConvertOptions{Filename: "take.m4a"}, codes.InvalidArgument},
		{"no filename", audioBytes, ConvertOptions{}, codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Convert(context.Background(), tt.audio, tt.opts)
			if got := status.Code(err); got != tt.code {
				t.Errorf("expected %s, got %s (%v)", tt.code, got, err)
			}
		})
	}
}

func TestGetJob_NotFound(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.GetJob(context.Background(), "0123456789abcdef0123456789abcdef")
	if got := status.Code(err); got != codes.NotFound {
		t.Errorf("expected NotFound, got %s", got)
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		kind apperrors.Kind
		code codes.Code
	}{
		{apperrors.KindInvalidRequest, codes.InvalidArgument},
		{apperrors.KindUnsupportedFormat, codes.InvalidArgument},
		{apperrors.KindInputTooLarge, codes.ResourceExhausted},
		{apperrors.KindInputTooLong, codes.FailedPrecondition},
		{apperrors.KindPitchDetectionFailed, codes.FailedPrecondition},
		{apperrors.KindJobNotFound, codes.NotFound},
		{apperrors.KindTranscodeFailed, codes.Internal},
		{apperrors.KindInternal, codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := Code(tt.kind); got != tt.code {
				t.Errorf("expected %s, got %s", tt.code, got)
			}
		})
	}
}
