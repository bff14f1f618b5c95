package main

import (
	"context"
	"os/signal"
	"syscall"

	dapp "github.com/you-humble/loggenie/internal/app/decryptor"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	a := dapp.New()
	if err := a.Run(ctx); err != nil {
		panic(err)
	}
}
