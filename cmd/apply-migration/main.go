package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"wisefido-crowd/internal/config"
	"wisefido-crowd/internal/database"
	"wisefido-crowd/internal/repository"
)

// 用法：apply-migration [-print]
//
//	-print 只输出建表语句，不连接数据库
func main() {
	if len(os.Args) > 1 && os.Args[1] == "-print" {
		fmt.Println(repository.Schema())
		return
	}

	cfg := config.Load()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Cannot connect to database: %v", err)
	}
	defer db.Close()

	fmt.Printf("Connected to database: %s\n\n", cfg.Database.Database)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := repository.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	fmt.Println("✅ Migration completed successfully!")
}
