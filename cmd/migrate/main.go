package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"hypoguard/internal/config"
	"hypoguard/internal/container"
	"hypoguard/internal/study"
)

// migrate applies the schema and imports every study file under a directory.
func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: migrate <database_url> [study_dir]")
	}

	databaseURL := os.Args[1]
	log.Printf("Applying schema to %s", databaseURL)

	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	appConfig.Database.URL = databaseURL

	ctx := context.Background()
	c, err := container.New(appConfig)
	if err != nil {
		log.Fatalf("Failed to create container: %v", err)
	}
	defer c.Shutdown(ctx)

	if err := c.InitWithDatabase(ctx, db); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if len(os.Args) < 3 {
		return
	}
	if err := c.Build(ctx); err != nil {
		log.Fatalf("Failed to restore state: %v", err)
	}

	files, err := findStudyFiles(os.Args[2])
	if err != nil {
		log.Fatalf("Failed to find study files: %v", err)
	}
	log.Printf("Found %d study files to import", len(files))

	imported, skipped := 0, 0
	for _, file := range files {
		s, err := study.Load(file)
		if err != nil {
			log.Printf("Failed to load %s: %v", file, err)
			skipped++
			continue
		}
		res, err := s.Apply(ctx, c.Service)
		if err != nil {
			log.Printf("Failed to import %s after %d hypotheses and %d tests: %v",
				filepath.Base(file), res.Hypotheses, res.Tests, err)
			skipped++
			continue
		}
		imported++
		log.Printf("Imported %s: %d hypotheses, %d tests", filepath.Base(file), res.Hypotheses, res.Tests)
	}

	log.Printf("Import complete: %d imported, %d skipped", imported, skipped)
}

func findStudyFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".yaml", ".yml":
			if !info.IsDir() {
				files = append(files, path)
			}
		}
		return nil
	})
	return files, err
}
