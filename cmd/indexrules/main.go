package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brandguard/backend/internal/domain/audit"
	"github.com/brandguard/backend/internal/platform/logger"
	"github.com/brandguard/backend/internal/platform/openai"
	"github.com/brandguard/backend/internal/platform/qdrant"
	"github.com/brandguard/backend/internal/services"
)

type regionList []string

func (l *regionList) String() string { return strings.Join(*l, ",") }
func (l *regionList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

// indexrules chunks, embeds, and upserts a compliance reference document so
// audits can retrieve it. Run once per document:
//
//	indexrules -file asa_code.txt -source "ASA CAP Code" -region EUROPE
func main() {
	var file string
	var source string
	var regions regionList
	flag.StringVar(&file, "file", "", "path to a plain-text rule document")
	flag.StringVar(&source, "source", "", "source document name (defaults to file name)")
	flag.Var(&regions, "region", "applicable region, repeatable (defaults to GLOBAL)")
	flag.Parse()

	if strings.TrimSpace(file) == "" {
		fmt.Println("usage: indexrules -file <path> [-source <name>] [-region <REGION>]...")
		os.Exit(2)
	}

	log, err := logger.New(getenvDefault("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	raw, err := os.ReadFile(file)
	if err != nil {
		log.Error("Read rule document failed", "file", file, "error", err)
		os.Exit(1)
	}
	if strings.TrimSpace(source) == "" {
		source = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}

	parsedRegions := []audit.Region{}
	for _, r := range regions {
		region, ok := audit.ParseRegion(r)
		if !ok {
			log.Error("Unknown region", "region", r)
			os.Exit(2)
		}
		parsedRegions = append(parsedRegions, region)
	}

	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}
	qdrantCfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		log.Error("Could not resolve Qdrant config", "error", err)
		os.Exit(1)
	}
	store, err := qdrant.NewVectorStore(log, qdrantCfg)
	if err != nil {
		log.Error("Could not init Qdrant vector store", "error", err)
		os.Exit(1)
	}

	svc := services.NewRuleIngestionService(log, openaiClient, store)
	count, err := svc.IngestDocument(context.Background(), services.RuleDocument{
		SourceDocument: source,
		Text:           string(raw),
		Regions:        parsedRegions,
	})
	if err != nil {
		log.Error("Rule ingestion failed", "source", source, "error", err)
		os.Exit(1)
	}

	fmt.Printf("indexed %d chunks from %s\n", count, source)
}

func getenvDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
