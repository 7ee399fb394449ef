package main

import (
	"flag"
	"log"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"k8s.io/klog/v2"

	"github.com/tala-robotics/sentinel/internal/attestation"
	"github.com/tala-robotics/sentinel/internal/attestation/sgx"
	"github.com/tala-robotics/sentinel/internal/checkpoint"
	"github.com/tala-robotics/sentinel/internal/config"
	"github.com/tala-robotics/sentinel/internal/gateway"
	"github.com/tala-robotics/sentinel/internal/ledgerrpc"
	"github.com/tala-robotics/sentinel/internal/registry"
)

// sentinel-gateway runs two listeners out of one process: an HTTP surface
// for checkpoint ingestion and audit queries (cfg.ListenAddr), and a gRPC
// ledger surface governance/checkpointctl clients reach through
// internal/ledgerrpc (cfg.LedgerAddr), both backed by the same in-process
// registry.Registry.
func main() {
	configPath := flag.String("config", "", "path to a gateway YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	keys, err := gateway.LoadKeyStoreFile(cfg.SigningKeys)
	if err != nil {
		log.Fatalf("signing keys load failed: %v", err)
	}

	identity, err := gateway.LoadGatewaySigner(cfg.GatewayKey)
	if err != nil {
		log.Fatalf("gateway key load failed: %v", err)
	}

	reg := registry.New(registry.NullSink{})
	verifier := checkpoint.NewVerifier(cfg.ShardCount, gateway.Revocation(reg), keys)
	defer verifier.Close()

	go runLedgerServer(cfg.LedgerAddr, reg)

	archive, err := gateway.NewArchive(cfg.DataDir)
	if err != nil {
		log.Fatalf("archive init failed: %v", err)
	}

	attestors := attestation.NewRegistry()
	attestors.Register(sgx.New(sgx.Config{
		PCSBaseURL: cfg.PCSBaseURL,
		Registry:   gateway.Revocation(reg),
	}))

	handler := gateway.NewHandler(verifier, reg, archive, attestors, keys, identity, cfg.GatewayID)
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      gateway.New(handler),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  30 * time.Second,
	}

	klog.InfoS("sentinel-gateway listening", "httpAddr", cfg.ListenAddr, "ledgerAddr", cfg.LedgerAddr, "gatewayID", cfg.GatewayID)
	if err := srv.ListenAndServe(); err != nil {
		klog.ErrorS(err, "http server stopped")
		log.Fatalf("http server stopped: %v", err)
	}
}

func runLedgerServer(addr string, reg *registry.Registry) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("ledger listen failed: %v", err)
	}
	gs := grpc.NewServer()
	ledgerrpc.NewServer(reg).Register(gs)
	klog.InfoS("ledger gRPC service listening", "addr", addr)
	if err := gs.Serve(lis); err != nil {
		klog.ErrorS(err, "ledger server stopped")
		log.Fatalf("ledger server stopped: %v", err)
	}
}
