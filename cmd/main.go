package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcapi "audio-notation-service/internal/api/grpc"
	"audio-notation-service/internal/app"
	"audio-notation-service/internal/config"
	apihttp "audio-notation-service/internal/http"
	"audio-notation-service/internal/observability"
	"audio-notation-service/internal/service/conversion"
	"audio-notation-service/internal/service/inbox"
)

var (
	transposition string
	simplifyScore bool
	tempoBPM      int
	workers       int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "audio-notation",
	Short: "Convert monophonic recordings into saxophone notation",
	Long: `audio-notation turns a recording of a single melodic line into a
MusicXML score and a MIDI file, optionally transposed for alto or tenor
saxophone and simplified to a small set of note values.

Pipeline: audio → canonical PCM → pitch model → score → MusicXML`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC APIs",
	RunE:  runServe,
}

var convertCmd = &cobra.Command{
	Use:   "convert <audio-file>",
	Short: "Convert one local file",
	Long: `Convert one local audio file and print the job id and metadata.

Examples:
  audio-notation convert take.wav
  audio-notation convert solo.mp3 --transposition alto_eb --simplify --tempo 96`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired job workspaces",
	RunE:  runSweep,
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Convert audio files dropped into a directory",
	Long: `Watch a directory and convert every audio file created in it.
A <file>.job file with the job id is written next to each converted file,
or <file>.error when the conversion fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(watchCmd)

	for _, cmd := range []*cobra.Command{convertCmd, watchCmd} {
		cmd.Flags().StringVarP(&transposition, "transposition", "t", "concert", "Transposition (concert, alto_eb, tenor_bb)")
		cmd.Flags().BoolVar(&simplifyScore, "simplify", false, "Simplify note values")
		cmd.Flags().IntVar(&tempoBPM, "tempo", 0, "Tempo hint in BPM (40-240)")
	}
	watchCmd.Flags().IntVarP(&workers, "workers", "w", 2, "Number of concurrent conversions")
}

func newApplication() (*app.Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	application, err := newApplication()
	if err != nil {
		return err
	}
	cfg := application.Cfg
	svc := application.Service

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return err
	}

	obsServer := observability.NewServer(cfg.Observability.MetricsAddr, svc.Ready)
	obsServer.Start()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           apihttp.NewRouter(svc, application.Metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Starting HTTP API")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP API error")
			stop()
		}
	}()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	server := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(application.Metrics)),
		grpc.MaxRecvMsgSize(int(cfg.Audio.MaxUploadBytes)+1<<20),
	)

	// Register gRPC health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Register application services
	grpcapi.Register(server, svc)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(server)

	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC API")
		if err := server.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC serve failed")
			stop()
		}
	}()

	<-ctx.Done()

	log.Info().Msg("Shutting down")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP API shutdown error")
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Observability server shutdown error")
	}
	application.Shutdown()
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	application, err := newApplication()
	if err != nil {
		return err
	}
	defer application.Shutdown()

	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	res, err := application.Service.Convert(cmd.Context(), conversion.Request{
		Filename:      filepath.Base(path),
		Body:          f,
		Size:          info.Size(),
		Transposition: transposition,
		Simplify:      simplifyScore,
		TempoBPM:      tempoBPM,
		Source:        conversion.SourceCLI,
	})
	if err != nil {
		return err
	}

	out := json.NewEncoder(cmd.OutOrStdout())
	out.SetIndent("", "  ")
	return out.Encode(map[string]any{
		"job_id":    res.JobID,
		"workspace": filepath.Join(application.Workspaces.Root(), res.JobID),
		"artifacts": res.Artifacts,
		"metadata":  res.Metadata,
		"truncated": res.Truncated,
	})
}

func runSweep(cmd *cobra.Command, args []string) error {
	application, err := newApplication()
	if err != nil {
		return err
	}
	defer application.Shutdown()
	removed := application.Sweep()
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired workspaces from %s\n", removed, application.Workspaces.Root())
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	application, err := newApplication()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return err
	}
	defer application.Shutdown()

	w, err := inbox.New(inbox.Config{
		Dir:           args[0],
		Workers:       workers,
		Transposition: transposition,
		Simplify:      simplifyScore,
		TempoBPM:      tempoBPM,
	}, application.Service, application.Metrics)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
