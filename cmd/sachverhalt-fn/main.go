// Command sachverhalt-fn is the serverless entry point. Deploy it as a
// Netlify or AWS Lambda Go function behind an API Gateway proxy route.
package main

import (
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/loqalabs/sachverhalt/internal/function"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	h := function.New(function.FromEnv(logger, level), logger)
	lambda.Start(h.Invoke)
}
