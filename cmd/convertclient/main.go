package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"

	grpcapi "audio-notation-service/internal/api/grpc"
)

func main() {
	audioFile := flag.String("audio", "testdata/melody.wav", "Path to the audio file")
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	transposition := flag.String("transposition", "concert", "Transposition (concert, alto_eb, tenor_bb)")
	simplify := flag.Bool("simplify", false, "Simplify note values")
	tempo := flag.Int("tempo", 0, "Tempo hint in BPM")
	flag.Parse()

	data, err := os.ReadFile(*audioFile)
	if err != nil {
		log.Fatalf("Failed to read audio file: %v", err)
	}

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", *serverAddr)

	client := grpcapi.NewClient(conn)

	// Conversions run the pitch model; allow for a slow one
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	resp, err := client.Convert(ctx, data, grpcapi.ConvertOptions{
		Filename:      filepath.Base(*audioFile),
		Transposition: *transposition,
		Simplify:      *simplify,
		TempoBPM:      *tempo,
	}, grpc.MaxCallSendMsgSize(len(data)+1<<20))
	if err != nil {
		log.Fatalf("Convert failed: %v", err)
	}

	jobID := resp.GetFields()["job_id"].GetStringValue()
	log.Printf("Converted %s in %v: jobId=%s", *audioFile, time.Since(start).Round(time.Millisecond), jobID)

	job, err := client.GetJob(ctx, jobID)
	if err != nil {
		log.Fatalf("GetJob failed: %v", err)
	}
	out, err := protojson.MarshalOptions{Multiline: true}.Marshal(job)
	if err != nil {
		log.Fatalf("Failed to encode job: %v", err)
	}
	os.Stdout.Write(append(out, '\n'))
}
