package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"mailingest/backend/internal/app"
	"mailingest/backend/internal/config"
	"mailingest/backend/internal/logger"
)

func main() {
	stop := flag.Bool("stop", false, "取消监听而不是注册")
	timeout := flag.Duration("timeout", 30*time.Second, "请求超时时间")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development, cfg.Log.File)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		fmt.Printf("Failed to init pipeline: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if *stop {
		if err := a.Mailbox.StopWatch(ctx); err != nil {
			fmt.Printf("Failed to stop watch: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✓ 已取消监听")
		return
	}

	if cfg.Gmail.Topic == "" {
		fmt.Println("gmail.topic 未配置")
		os.Exit(1)
	}

	res, err := a.Mailbox.Watch(ctx, cfg.Gmail.Topic, cfg.Gmail.WatchLabels)
	if err != nil {
		fmt.Printf("Failed to register watch: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ 监听已注册\n")
	fmt.Printf("  Topic:      %s\n", cfg.Gmail.Topic)
	fmt.Printf("  History ID: %d\n", res.HistoryID)
	fmt.Printf("  Expires:    %s\n", res.Expiration.Format(time.RFC3339))

	seeded, err := a.SeedCursor(ctx, res.HistoryID)
	if err != nil {
		fmt.Printf("Failed to seed cursor: %v\n", err)
		os.Exit(1)
	}
	if seeded {
		fmt.Printf("✓ 游标已初始化为 %d\n", res.HistoryID)
	}
}
