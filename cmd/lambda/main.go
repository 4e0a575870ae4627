package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/tasknest/taskbot/pkg/bedrock"
	appconfig "github.com/tasknest/taskbot/pkg/config"
	"github.com/tasknest/taskbot/pkg/contextstore"
	ddb "github.com/tasknest/taskbot/pkg/dynamodb"
	"github.com/tasknest/taskbot/pkg/handler"
	slackclient "github.com/tasknest/taskbot/pkg/slack"
)

// Built once per container so warm invocations reuse clients and, for the
// container's lifetime, the conversation context store.
var core *handler.Handler

func init() {
	cfg, err := appconfig.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("failed to load AWS config: %v", err)
	}

	tasks := ddb.NewTaskRepository(ddb.NewClientWithConfig(awsCfg), cfg.TasksTable, cfg.CollaboratorTimeout)

	responder := bedrock.NewClient(awsCfg)
	responder.SetModel(cfg.BedrockModelID)
	responder.SetTimeout(cfg.CollaboratorTimeout)

	notifier := slackclient.NewClient(cfg.SlackBotToken, cfg.CollaboratorTimeout)

	store := contextstore.New(cfg.ContextMaxMessages, cfg.ContextTTL, nil)

	core = handler.New(cfg, store, tasks, responder, notifier,
		log.New(os.Stdout, "taskbot ", log.LstdFlags))

	// Lambda freezes the execution environment the moment the handler
	// returns, so a detached dispatch job would be suspended before its
	// first collaborator call. Run jobs to completion before responding;
	// the slash-command ack arrives late here, after the pipeline.
	core.SetSynchronousDispatch(true)
}

// Handler adapts an API Gateway proxy request onto the webhook core
func Handler(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	resp := core.Handle(
		ctx,
		[]byte(request.Body),
		headerValue(request.Headers, "X-Slack-Request-Timestamp"),
		headerValue(request.Headers, "X-Slack-Signature"),
		headerValue(request.Headers, "Content-Type"),
	)

	return events.APIGatewayProxyResponse{
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}, nil
}

// headerValue tolerates the lowercase header keys API Gateway HTTP APIs use
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func main() {
	lambda.Start(Handler)
}
