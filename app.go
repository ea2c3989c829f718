package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/kwv/radioloc/locate"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *locate.Config
	Service    *locate.Service
	MQTTClient *locate.MQTTClient
	Publisher  *locate.Publisher

	// CLI Flags (effectively dependencies)
	ConfigFile string
	SolveFile  string
	Method     string
	SceneFile  string
	HttpPort   int
	MqttMode   bool
	HttpMode   bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.SolveFile = opts.SolveFile
	a.Method = opts.Method
	a.SceneFile = opts.SceneFile
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// RunSolveFile runs a single estimation from a JSON sample file and prints
// the result. Useful for offline evaluation and checking configs.
func (a *App) RunSolveFile() {
	data, err := os.ReadFile(a.SolveFile)
	if err != nil {
		log.Fatalf("Error reading sample file: %v", err)
	}

	var req solveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Fatalf("Error parsing sample file: %v", err)
	}
	if a.Method != "" {
		req.Method = a.Method
	}

	config := &locate.Config{}
	if a.ConfigFile != "" {
		if _, statErr := os.Stat(a.ConfigFile); statErr == nil {
			loaded, err := locate.LoadConfig(a.ConfigFile)
			if err != nil {
				log.Fatalf("Error loading config: %v", err)
			}
			config = loaded
		} else {
			log.Printf("Config file %s not found, solving with default settings", a.ConfigFile)
		}
	}

	resp, _, err := handleSolve(&req, config)
	if err != nil {
		log.Fatalf("Solve failed: %v", err)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		log.Fatalf("Error encoding result: %v", err)
	}
	fmt.Println(string(out))

	if a.SceneFile != "" {
		a.writeScene(&req, resp)
	}
}

// writeScene renders the one-shot solve to the scene file. The output
// format is picked from the file extension (.png or .svg).
func (a *App) writeScene(req *solveRequest, resp *solveResponse) {
	samples := make([]locate.DistanceSample, len(req.Samples))
	stations := make(map[string]locate.Point, len(req.Samples))
	for i, s := range req.Samples {
		quality := locate.NoQuality
		if s.Quality != nil {
			quality = *s.Quality
		}
		id := s.StationID
		if id == "" {
			id = fmt.Sprintf("station-%d", i)
		}
		samples[i] = locate.DistanceSample{
			StationID: id,
			Position:  locate.Point(s.Position),
			Distance:  s.Distance,
			StdDev:    s.StdDev,
			Quality:   quality,
		}
		stations[id] = locate.Point(s.Position)
	}
	result := &locate.EstimationResult{
		Position: locate.Point(resp.Position),
		Inliers:  &locate.ConsensusSet{InlierMask: resp.InlierMask},
	}

	outFile, err := os.Create(a.SceneFile)
	if err != nil {
		log.Fatalf("Error creating scene file %s: %v", a.SceneFile, err)
	}
	defer func() {
		if err := outFile.Close(); err != nil {
			log.Printf("Warning: error closing scene file %s: %v", a.SceneFile, err)
		}
	}()

	renderer := locate.NewSceneRenderer(stations, samples, result)
	switch strings.ToLower(filepath.Ext(a.SceneFile)) {
	case ".png":
		err = renderer.RenderToPNG(outFile)
	default:
		err = renderer.RenderToSVG(outFile)
	}
	if err != nil {
		log.Fatalf("Error rendering scene: %v", err)
	}
	fmt.Printf("Created scene: %s\n", a.SceneFile)
}

// RunService starts the combined MQTT and/or HTTP service
func (a *App) RunService() {
	fmt.Println("Starting radioloc service...")

	// 1. Load config.yaml (required)
	config, err := locate.LoadConfig(a.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v (looked at %s)", err, a.ConfigFile)
	}
	a.Config = config
	log.Printf("Loaded config from %s", a.ConfigFile)

	// 2. Build the solving service from the station layout
	service, err := locate.NewService(config)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	a.Service = service
	log.Printf("Tracking %d stations (%dD, method=%s)",
		len(config.Stations), config.Dimensions(), service.Method())

	// 3. Start MQTT if enabled
	if a.MqttMode {
		mqttClient, err := locate.InitMQTT(config, service.HandleReading)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT: %v", err)
		}
		a.MQTTClient = mqttClient

		if mqttClient == nil {
			log.Fatal("MQTT broker not configured in config.yaml")
		}

		// Initialize publisher now that we have MQTT client
		a.Publisher = locate.NewPublisher(mqttClient.Client())
		if config.MQTT.PublishPrefix != "" {
			a.Publisher.SetPrefix(config.MQTT.PublishPrefix)
		}
		service.SetPublisher(a.Publisher)
		fmt.Println("MQTT position publisher initialized")
	}

	// 4. Start HTTP server if enabled
	if a.HttpMode {
		httpServer := newHTTPServer(service, config)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
			log.Printf("[HTTP] Server stopped unexpectedly")
		}()
	}

	// 5. Print service info
	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Println("  Subscribed topics:")
		for _, sc := range a.Config.Stations {
			fmt.Printf("    - %s (%s)\n", sc.Topic, sc.ID)
		}
		publishPrefix := config.MQTT.PublishPrefix
		if publishPrefix == "" {
			publishPrefix = "radioloc"
		}
		fmt.Printf("  Publishing to: %s/{targetID}\n", publishPrefix)
		fmt.Printf("  Combined positions: %s/positions\n", publishPrefix)
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET  /health              - Health check")
		fmt.Println("  GET  /api/positions       - All tracked target estimates")
		fmt.Println("  GET  /api/positions/{id}  - Single target estimate")
		fmt.Println("  POST /api/solve           - One-shot estimation")
		fmt.Println("  GET  /scene.svg           - Scene plot of last solve")
		fmt.Println("  GET  /scene.png           - Scene plot of last solve")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	// 6. Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Println("\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
}
