package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"resume-vault/internal/analytics"
	"resume-vault/internal/api"
	"resume-vault/internal/blob"
	"resume-vault/internal/embedder"
	"resume-vault/internal/importer"
	"resume-vault/internal/notifier"
	"resume-vault/internal/status"
	"resume-vault/internal/storage"
	"resume-vault/internal/version"
)

// AppConfig 应用配置。
type AppConfig struct {
	Server    ServerConfig         `yaml:"server"`
	Database  DatabaseConfig       `yaml:"database"`
	Blob      blob.Config          `yaml:"blob"`
	Importer  importer.Config      `yaml:"importer"`
	Email     notifier.EmailConfig `yaml:"email"`
	Analytics AnalyticsConfig      `yaml:"analytics"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AnalyticsConfig struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		log.Printf("load config error: %v", err)
		return
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = "resumes.db"
	}

	store, err := storage.NewStore(dbPath)
	if err != nil {
		log.Printf("init store error: %v", err)
		return
	}
	defer store.Close()

	if cfg.Blob.Endpoint == "" {
		log.Printf("blob storage not configured: missing endpoint")
		return
	}
	blobs, err := blob.NewMinioStore(cfg.Blob)
	if err != nil {
		log.Printf("init blob store error: %v", err)
		return
	}

	emitter := buildEmitter(cfg.Analytics)
	embed := embedder.HashEmbedder{}
	versions := version.NewManager(store, embed, emitter, nil)
	statuses := status.NewStore()
	notif := buildNotifier(cfg.Email)
	imports := importer.New(store, blobs, versions, statuses, notif, emitter, embed, cfg.Importer)

	handler := api.NewHandler(imports, store, statuses, blobs)

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{Addr: addr, Handler: handler}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := statuses.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("status sweeper stopped: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("server error: %v", err)
	}
}

func loadConfig() (AppConfig, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func buildNotifier(cfg notifier.EmailConfig) notifier.Notifier {
	if cfg.Host == "" || cfg.Port == 0 || cfg.From == "" || len(cfg.To) == 0 {
		log.Printf("email notifier disabled: missing host/port/from/to")
		return notifier.NewLogNotifier(nil)
	}
	return notifier.NewEmailNotifier(cfg, nil)
}

func buildEmitter(cfg AnalyticsConfig) analytics.Emitter {
	if cfg.AMQPURL == "" {
		return analytics.NewLogEmitter(nil)
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "resume_events"
	}
	emitter, err := analytics.NewAMQPEmitter(cfg.AMQPURL, exchange, nil)
	if err != nil {
		log.Printf("amqp emitter disabled: %v", err)
		return analytics.NewLogEmitter(nil)
	}
	return emitter
}
