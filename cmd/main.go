package main

import (
	"context"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"trivia-session-service/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
