package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"

	"github.com/tasknest/taskbot/pkg/bedrock"
	appconfig "github.com/tasknest/taskbot/pkg/config"
	"github.com/tasknest/taskbot/pkg/contextstore"
	ddb "github.com/tasknest/taskbot/pkg/dynamodb"
	"github.com/tasknest/taskbot/pkg/handler"
	slackclient "github.com/tasknest/taskbot/pkg/slack"
)

func main() {
	_ = godotenv.Load()

	cfg, err := appconfig.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("failed to load AWS config: %v", err)
	}

	tasks := ddb.NewTaskRepository(ddb.NewClientWithConfig(awsCfg), cfg.TasksTable, cfg.CollaboratorTimeout)

	responder := bedrock.NewClient(awsCfg)
	responder.SetModel(cfg.BedrockModelID)
	responder.SetTimeout(cfg.CollaboratorTimeout)

	notifier := slackclient.NewClient(cfg.SlackBotToken, cfg.CollaboratorTimeout)

	// Fail fast on a bad bot token instead of discovering it on the first
	// dispatch job. Dev mode runs without real Slack credentials.
	if !cfg.SkipVerification {
		auth, err := notifier.AuthTest(ctx)
		if err != nil {
			log.Fatalf("slack auth test failed: %v", err)
		}
		log.Printf("authenticated to slack as %s (user id %s)", auth.User, auth.UserID)
	}

	store := contextstore.New(cfg.ContextMaxMessages, cfg.ContextTTL, nil)

	h := handler.New(cfg, store, tasks, responder, notifier,
		log.New(os.Stdout, "taskbot ", log.LstdFlags))

	mux := http.NewServeMux()
	mux.Handle("/slack/events", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		m := h.Metrics()
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "ok\nrequests=%d jobs=%d errors=%d\n",
			m.Requests.Load(), m.Jobs.Load(), m.Errors.Load())
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("listening on %s (env=%s)", cfg.ListenAddr, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	// Drain in-flight HTTP requests only. Dispatch jobs are fire-and-forget
	// and never hold up shutdown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
