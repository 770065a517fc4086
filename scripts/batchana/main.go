package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"Go2NetLogger/internal/batch"
)

func main() {
	dir := flag.String("dir", "./data", "Directory holding traffic_log_*.parquet files")
	head := flag.Int("head", 5, "Number of records to print from the first file")
	top := flag.Int("top", 10, "Number of ports and sources to rank")
	asJSON := flag.Bool("json", false, "Print the summary as JSON")
	flag.Parse()

	files, err := batch.List(*dir)
	if err != nil {
		log.Fatalf("Failed to list batch files: %v", err)
	}
	if len(files) == 0 {
		fmt.Printf("No parquet files found in %s\n", *dir)
		os.Exit(1)
	}
	fmt.Printf("Found %d parquet file(s)\n", len(files))

	s := batch.NewSummarizer(*top)
	for i, f := range files {
		if i == 0 && *head > 0 && !*asJSON {
			recs, err := batch.ReadRecords(f.Path)
			if err != nil {
				log.Fatalf("Failed to read %s: %v", f.Path, err)
			}
			fmt.Printf("\n=== HEAD OF %s ===\n", f.Path)
			for j := 0; j < *head && j < len(recs); j++ {
				fmt.Println(recs[j])
			}
			fmt.Println()
		}
		if err := s.AddFile(f.Path); err != nil {
			log.Printf("Skipping unreadable file %s: %v", f.Path, err)
		}
	}

	sum := s.Summary()
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			log.Fatalf("Failed to encode summary: %v", err)
		}
		return
	}
	sum.Print(os.Stdout)
}
