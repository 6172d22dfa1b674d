package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/internal/database"
	"github.com/mailwatchhq/mailwatch/internal/repository"
	"github.com/mailwatchhq/mailwatch/server"
)

func main() {
	app := &cli.App{
		Name:  "mailwatch",
		Usage: "headless IMAP sync engine with webhook delivery",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Run database migrations",
				Action: func(c *cli.Context) error {
					_, db := mustInit()
					if err := repository.MigrateDB(db); err != nil {
						return cli.Exit("Database migration failed: "+err.Error(), 1)
					}
					log.Println("Database migration completed successfully")
					return nil
				},
			},
			{
				Name:  "single",
				Usage: "Run one process syncing every account, no leader election",
				Action: func(c *cli.Context) error {
					return runServer(false)
				},
			},
			{
				Name:  "cluster",
				Usage: "Run as a cluster member with leader election and rebalancing",
				Action: func(c *cli.Context) error {
					return runServer(true)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(clustered bool) error {
	cfg, db := mustInit()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("MailWatch starting up...")

	srv, err := server.NewServer(cfg, db, clustered)
	if err != nil {
		return cli.Exit("Server setup failed: "+err.Error(), 1)
	}
	if err := srv.Run(); err != nil {
		return cli.Exit("Server failed: "+err.Error(), 2)
	}
	return nil
}

func mustInit() (*config.Config, *gorm.DB) {
	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("Config initialization failed: %v", err)
	}

	db, err := database.InitDatabase(&database.DatabaseConfig{
		DBName:          cfg.DatabaseConfig.DBName,
		Host:            cfg.DatabaseConfig.Host,
		Port:            cfg.DatabaseConfig.Port,
		User:            cfg.DatabaseConfig.User,
		Password:        cfg.DatabaseConfig.Password,
		MaxConn:         cfg.DatabaseConfig.MaxConn,
		MaxIdleConn:     cfg.DatabaseConfig.MaxIdleConn,
		ConnMaxLifetime: cfg.DatabaseConfig.ConnMaxLifetime,
		LogLevel:        cfg.DatabaseConfig.LogLevel,
		SSLMode:         cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("Database initialization failed: %v", err)
	}
	return cfg, db
}
