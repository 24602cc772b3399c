// idemd 运行受幂等保护的 blog 服务，并提供迁移与人工解锁等管理命令。
//
//	idemd serve --config configs/idemd.yaml
//	idemd migrate
//	idemd unlock --id 42
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "idemd:", err)
		stop()
		os.Exit(1)
	}
}
