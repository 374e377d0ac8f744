package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"mailroute/backend/internal/config"
	"mailroute/backend/internal/logger"
	"mailroute/backend/internal/storage/hybrid"
)

// main 打开配置中的路由表、消息库与统计存储，打开时各自执行建表迁移
func main() {
	check := flag.Bool("check", false, "迁移后执行健康检查")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("错误: 加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Type == "" && cfg.MessageDB.Type == "" && cfg.Statistics.Driver != "postgres" {
		fmt.Println("未配置任何数据库，无需迁移")
		return
	}

	log, err := logger.NewLogger(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		fmt.Printf("错误: 初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	backends, err := hybrid.Open(context.Background(), cfg, log)
	if err != nil {
		fmt.Printf("错误: 迁移失败: %v\n", err)
		os.Exit(1)
	}
	defer backends.Close()

	if cfg.Database.Type != "" {
		fmt.Printf("✓ 路由表已迁移 (%s)\n", cfg.Database.Type)
	}
	if cfg.MessageDB.Type != "" {
		fmt.Printf("✓ 消息库已迁移 (%s, schema %d)\n", cfg.MessageDB.Type, cfg.MessageDB.SchemaVersion)
	}
	if cfg.Statistics.Driver == "postgres" {
		fmt.Println("✓ 统计表已迁移")
	}

	if *check {
		if err := backends.Store.Health(); err != nil {
			fmt.Printf("错误: 健康检查失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✓ 健康检查通过")
	}
}
