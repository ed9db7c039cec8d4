package server

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ursadsp/dspgen/internal/models"
	"github.com/ursadsp/dspgen/pkg/assembler"
	cfgPkg "github.com/ursadsp/dspgen/pkg/config"
	"github.com/ursadsp/dspgen/pkg/corpus"
	"github.com/ursadsp/dspgen/pkg/llm"
	"github.com/ursadsp/dspgen/pkg/render"
	"github.com/ursadsp/dspgen/pkg/retrieval"
	"github.com/ursadsp/dspgen/pkg/schema"
	"github.com/ursadsp/dspgen/pkg/store"
	"github.com/ursadsp/dspgen/pkg/synth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type WSServer struct {
	config    Config
	registry  *schema.Registry
	generator *llm.Generator
	archive   *store.Archive
}

type Config struct {
	BaseURL      string
	DBUrl        string
	CorpusDir    string
	Model        string
	RetrievalK   int
	Concurrency  int
	RetryLimit   int
	AllowPartial bool
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
}

func NewWSServer(config Config) (*WSServer, error) {
	generator, err := llm.NewWithConfig(llm.GeneratorConfig{
		Model:       config.Model,
		MaxTokens:   config.MaxTokens,
		BaseURL:     config.BaseURL,
		Temperature: config.Temperature,
		RetryLimit:  config.RetryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generation client: %v", err)
	}

	server := &WSServer{
		config:    config,
		registry:  schema.Default(),
		generator: generator,
	}

	if config.DBUrl != "" {
		archive, err := store.NewWithConfig(store.ArchiveConfig{
			ConnString:   config.DBUrl,
			EmbedBaseURL: config.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize plan archive: %v", err)
		}
		server.archive = archive
	}

	return server, nil
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("Error reading message: %v", err)
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}

		go s.handleMessage(conn, msg)
	}
}

func (s *WSServer) handleMessage(conn *websocket.Conn, msg Message) {
	switch msg.Type {
	case "generate":
		s.handleGenerate(conn, msg)
	case "similar":
		s.handleSimilar(conn, msg)
	default:
		s.sendMessage(conn, "error", fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

// handleGenerate runs the full plan pipeline for a submitted project summary,
// streaming one progress message per completed section before the final
// document and rendered HTML.
func (s *WSServer) handleGenerate(conn *websocket.Conn, msg Message) {
	summary := msg.Content
	if summary == "" {
		s.sendMessage(conn, "error", "A project summary is required")
		return
	}

	projectName := "Research Project"
	if raw, ok := msg.Data.(map[string]interface{}); ok {
		if name, ok := raw["project_name"].(string); ok && name != "" {
			projectName = name
		}
	}

	s.sendMessage(conn, "status", fmt.Sprintf("Generating Data Security Plan for %s", projectName))

	asm, err := assembler.NewWithConfig(assembler.AssemblerConfig{
		Registry:    s.registry,
		Corpus:      corpus.New(s.config.CorpusDir),
		Selector:    retrieval.New(s.config.RetrievalK),
		Synthesizer: synth.New(s.generator, s.registry),
		Generator:   s.generator,
		ProjectName: projectName,
		Model:       s.generator.Model(),
		OnProgress: func(sectionID string, status models.SectionStatus) {
			s.sendMessage(conn, "progress", fmt.Sprintf("%s: %s", sectionID, status))
		},
	})
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Failed to initialize pipeline: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	doc, status, runErr := asm.Generate(ctx, summary, assembler.Options{
		MaxConcurrency: s.config.Concurrency,
		RetrievalK:     s.config.RetrievalK,
		RetryLimit:     s.config.RetryLimit,
		AllowPartial:   s.config.AllowPartial,
	})
	if status == models.RunFailed {
		reason := "generation failed"
		if runErr != nil {
			reason = runErr.Error()
		}
		s.sendMessage(conn, "error", reason)
		return
	}

	s.send(conn, Message{Type: "document", Content: string(status), Data: doc})

	html, err := render.HTML(doc)
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Failed to render plan: %v", err))
		return
	}
	s.send(conn, Message{Type: "html", Content: string(html)})

	if s.archive != nil && status == models.RunComplete {
		if err := s.archive.Store(ctx, doc); err != nil {
			s.sendMessage(conn, "error", fmt.Sprintf("Failed to archive plan: %v", err))
			return
		}
		s.sendMessage(conn, "status", "Plan archived")
	}
}

// handleSimilar searches the plan archive for sections resembling the query.
func (s *WSServer) handleSimilar(conn *websocket.Conn, msg Message) {
	if s.archive == nil {
		s.sendMessage(conn, "error", "Plan archive is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sections, err := s.archive.SimilarSections(ctx, msg.Content, 5)
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Error querying archive: %v", err))
		return
	}

	s.send(conn, Message{Type: "similar", Content: fmt.Sprintf("%d sections", len(sections)), Data: sections})
}

func (s *WSServer) sendMessage(conn *websocket.Conn, msgType string, content string) {
	s.send(conn, Message{Type: msgType, Content: content})
}

func (s *WSServer) send(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func main() {
	config := parseFlags()

	server, err := NewWSServer(config)
	if err != nil {
		log.Fatal(err)
	}
	if server.archive != nil {
		defer server.archive.Close()
	}

	// Add WebSocket endpoint
	http.HandleFunc("/ws", server.handleWebSocket)

	// Add a simple health check endpoint
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting WebSocket server on port %s", port)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Config {
	var config Config
	var configPath string

	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&config.BaseURL, "ollama-url", os.Getenv("OLLAMA_BASE_URL"), "Ollama server URL")
	flag.StringVar(&config.DBUrl, "db-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	flag.StringVar(&config.CorpusDir, "corpus-dir", os.Getenv("DSP_CORPUS_DIR"), "Directory of approved reference plans")
	flag.StringVar(&config.Model, "model", "llama3", "LLM model to use")
	flag.IntVar(&config.RetrievalK, "k", 3, "Reference fragments retrieved per section")
	flag.IntVar(&config.Concurrency, "concurrency", 2, "Maximum concurrent section generations")
	flag.IntVar(&config.RetryLimit, "retry-limit", 3, "Retries for transient generation failures")
	flag.BoolVar(&config.AllowPartial, "allow-partial", true, "Render a partial plan when sections fail")
	flag.IntVar(&config.MaxTokens, "max-tokens", 2000, "Maximum tokens for LLM response")
	flag.Float64Var(&config.Temperature, "temperature", 0.2, "Set the LLM Temperature")
	flag.DurationVar(&config.Timeout, "timeout", 30*time.Minute, "Per-run generation timeout")
	flag.Parse()

	// Load config file if specified
	if cfg, err := cfgPkg.LoadConfig(configPath); err == nil {
		config.BaseURL = cfg.LLM.BaseURL
		config.Model = cfg.LLM.Model
		config.MaxTokens = cfg.LLM.MaxTokens
		config.Temperature = *cfg.LLM.Temperature
		config.RetryLimit = cfg.LLM.RetryLimit
		config.CorpusDir = cfg.Corpus.Dir
		config.RetrievalK = cfg.Retrieval.K
		config.Concurrency = cfg.Pipeline.MaxConcurrency
		config.AllowPartial = *cfg.Pipeline.AllowPartial
		config.DBUrl = cfg.Archive.URL
	}

	return config
}
