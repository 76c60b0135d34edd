package main

import (
	"flag"
	"log"

	"tradewire/conf"
	"tradewire/pkg/cache"
	"tradewire/pkg/db"
	"tradewire/pkg/logger"
)

// 服务入口：决策引擎 + 指令队列 + 执行器通道

func main() {
	configPath := flag.String("config", "conf/config.yaml", "配置文件路径")
	flag.Parse()

	if err := conf.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(conf.AppConfig.Log)
	defer logger.Sync()

	gormDB := db.Init(db.NewConfig(
		conf.AppConfig.Db.Username,
		conf.AppConfig.Db.Password,
		conf.AppConfig.Db.Host,
		conf.AppConfig.Db.Port,
		conf.AppConfig.Db.DbName,
	))

	cache.InitRedis(conf.AppConfig.Redis)
	defer cache.CloseRedis()

	app, err := initApp(gormDB)
	if err != nil {
		logger.Fatal("初始化失败", logger.Pair("err", err.Error()))
	}
	defer app.Close()

	srv := NewServer(&conf.AppConfig)
	srv.Run(app.Router)
}
