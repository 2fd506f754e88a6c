package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/sahilchouksey/extraction-orchestrator/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER_NAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")

	if dbHost == "" {
		dbHost = "localhost"
	}
	if dbPort == "" {
		dbPort = "5432"
	}

	dbURL := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		dbHost, dbPort, dbUser, dbPassword, dbName)

	db, err := gorm.Open(postgres.Open(dbURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	fmt.Println("========================================")
	fmt.Println("EXTRACTION JOBS STATUS CHECK")
	fmt.Println("========================================")

	var jobs []model.Job
	if err := db.Order("created_at DESC").Limit(20).Find(&jobs).Error; err != nil {
		log.Fatalf("Failed to fetch jobs: %v", err)
	}

	if len(jobs) == 0 {
		fmt.Println("\nNo extraction jobs found in database")
	} else {
		fmt.Printf("\nFound %d extraction jobs:\n\n", len(jobs))
		for _, job := range jobs {
			printJob(job)
		}
	}

	var activeJobs []model.Job
	db.Where("status IN ?", model.NonTerminalStatuses).Find(&activeJobs)

	fmt.Println("\n========================================")
	fmt.Printf("ACTIVE JOBS: %d\n", len(activeJobs))
	fmt.Println("========================================")

	if len(activeJobs) == 0 {
		fmt.Println("No active jobs currently running")
		return
	}
	for _, job := range activeJobs {
		fmt.Printf("[%s] job %d - %s/%s (chunk %d/%d, file %d/%d)\n",
			job.Status, job.ID, job.Source, job.Dataset,
			job.CurrentChunk, job.TotalChunks, job.CurrentFileIndex+1, job.TotalFiles)
	}
}

func printJob(job model.Job) {
	progress := 0
	if job.TotalChunks > 0 {
		progress = (job.CurrentChunk * 100) / job.TotalChunks
	}

	fmt.Printf("-----------------------------------\n")
	fmt.Printf("[%s] job %d (%s/%s)\n", job.Status, job.ID, job.Source, job.Dataset)
	fmt.Printf("   Files: %d/%d  Chunks: %d/%d (%d%%)\n",
		job.ProcessedFiles, job.TotalFiles, job.CurrentChunk, job.TotalChunks, progress)
	fmt.Printf("   Created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.EndTime != nil {
		fmt.Printf("   Ended: %s (duration %ds)\n", job.EndTime.Format("2006-01-02 15:04:05"), job.Duration)
	}
	if job.Error != "" {
		fmt.Printf("   Error: %s\n", job.Error)
	}
	if job.Message != "" {
		fmt.Printf("   Message: %s\n", job.Message)
	}
}
