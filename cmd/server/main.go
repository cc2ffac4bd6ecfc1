package main

import (
	"context"
	"fmt"
	"os"

	"messagingService/config"
	"messagingService/pkg/api"
	"messagingService/pkg/app"
	myMiddleware "messagingService/pkg/middleware"
	"messagingService/pkg/repository"

	firebase "firebase.google.com/go/v4"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	config.SetupLogger(cfg.Env)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config) error {
	ctx := context.Background()

	firebaseApp, err := config.SetupFirebase(ctx, cfg.FirebaseBucket)
	if err != nil {
		return fmt.Errorf("firebase: %w", err)
	}
	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		return fmt.Errorf("firebase auth: %w", err)
	}

	var (
		storage   api.ChatRepository
		directory api.IdentityDirectory
	)
	switch cfg.StorageBackend {
	case "memory":
		memory := repository.NewMemoryStorage()
		storage, directory = memory, memory
		log.Warn().Msg("using in-memory conversation storage, nothing is persisted")
	case "firestore":
		firestoreClient, err := firebaseApp.Firestore(ctx)
		if err != nil {
			return fmt.Errorf("firestore: %w", err)
		}
		defer firestoreClient.Close()
		fsStorage := repository.NewStorage(firestoreClient)
		storage, directory = fsStorage, fsStorage
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	if cfg.DatabaseURL != "" {
		db, err := config.SetupDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		log.Info().Msg("successfully connected to database")
		directory = repository.NewDirectory(db)
	}

	var cache api.ProfileCache
	if cfg.RedisURL != "" {
		redisClient, err := config.SetupRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		cache = repository.NewRedisCache(redisClient)
	}

	attachments, err := setupAttachments(ctx, cfg, firebaseApp)
	if err != nil {
		return err
	}

	userService := api.NewUserService(directory, cache, cfg.ProfileCacheTTL)
	chatService := api.NewChatService(storage, userService, attachments, api.Options{
		ReadBatchSize:      cfg.ReadBatchSize,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
	})

	server := app.NewServer(chi.NewRouter(), userService, chatService, myMiddleware.NewFirebaseVerifier(authClient), cfg.MaxAttachmentBytes)
	return server.Run(cfg.ServerURL)
}

func setupAttachments(ctx context.Context, cfg config.Config, firebaseApp *firebase.App) (api.AttachmentStore, error) {
	switch cfg.AttachmentBackend {
	case "s3":
		return repository.NewS3Attachments(repository.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Bucket:          cfg.S3Bucket,
			PublicURL:       cfg.S3PublicURL,
		}), nil
	case "firebase":
		if cfg.FirebaseBucket == "" {
			log.Warn().Msg("FIREBASE_STORAGE_BUCKET not set, attachments are disabled")
			return nil, nil
		}
		storageClient, err := firebaseApp.Storage(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase storage: %w", err)
		}
		bucket, err := storageClient.DefaultBucket()
		if err != nil {
			return nil, fmt.Errorf("firebase storage bucket: %w", err)
		}
		return repository.NewFirebaseAttachments(bucket, cfg.FirebaseBucket), nil
	default:
		return nil, fmt.Errorf("unknown attachment backend %q", cfg.AttachmentBackend)
	}
}
