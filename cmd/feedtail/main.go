// feedtail is a development harness: it connects a Client to the configured
// backend, signs in a fixed user, and prints the home feed and leaderboard
// as pushes arrive.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/triptuner/triptuner-go"
	"github.com/triptuner/triptuner-go/auth"
	"github.com/triptuner/triptuner-go/config"
	"github.com/triptuner/triptuner-go/models"
	"github.com/triptuner/triptuner-go/pictures"
	"github.com/triptuner/triptuner-go/pkg/logging"
	"github.com/triptuner/triptuner-go/remote"
	"github.com/triptuner/triptuner-go/remote/firestoredb"
	"github.com/triptuner/triptuner-go/remote/mongodb"
	"github.com/triptuner/triptuner-go/viewmodels"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found")
	}
	cfg := config.Load()
	logger := logging.New(os.Stderr)

	store, cleanup, err := openStore(cfg)
	if err != nil {
		logger.Fatal("failed to open store", "backend", cfg.Backend, "err", err)
	}
	defer cleanup()

	session := auth.NewMemorySession()

	opts := []triptuner.Option{triptuner.WithLogger(logger)}
	if cfg.RedisURI != "" {
		if cache, err := pictures.ConnectRedisCache(cfg.RedisURI); err != nil {
			logger.Warn("redis unavailable, using in-memory picture cache", "err", err)
		} else {
			opts = append(opts, triptuner.WithPictureCache(cache))
		}
	}

	client := triptuner.New(store, session, opts...)
	defer client.Close()

	uid := cfg.DevUserID
	if uid == "" {
		uid = "dev-user"
	}
	session.SignIn(uid)
	logger.Info("signed in", "user", uid, "backend", cfg.Backend)

	home := client.Home()
	board := client.Leaderboard()
	defer board.Close()

	remove := client.Itineraries.OnChange(func() {
		feed := home.Feed(viewmodels.HomeFilter{})
		logger.Info("feed updated", "items", len(feed))
		for i, it := range feed {
			if i == 5 {
				logger.Info("...")
				break
			}
			logger.Info("  item", "title", it.Title, "author", it.Author.Handle,
				"likes", it.Likes, "liked", it.IsLiked, "saved", it.IsSaved)
		}
	})
	defer remove()

	removeBoard := board.OnChange(func() {
		for _, e := range board.Podium() {
			logger.Info("podium", "rank", e.Rank, "name", e.Name, "points", e.Points)
		}
	})
	defer removeBoard()

	board.Refresh(context.Background())
	board.SetPeriod(context.Background(), models.PeriodAllTime)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}

func openStore(cfg *config.Config) (remote.Store, func(), error) {
	switch cfg.Backend {
	case "firestore":
		s, err := firestoredb.Connect(context.Background(), cfg.FirestoreProjectID, cfg.GoogleCredentials)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "mongo":
		s, err := mongodb.Connect(cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Disconnect() }, nil
	default:
		return remote.NewMemoryStore(), func() {}, nil
	}
}
