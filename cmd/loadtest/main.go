package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/auth"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type statusPayload struct {
	StepCode string `json:"step_code"`
}

type completePayload struct {
	AudioURL  string            `json:"audio_url"`
	Sentences []json.RawMessage `json:"sentences"`
}

func main() {
	gateway := flag.String("gateway", "ws://localhost:8000/ws/audio", "gateway WebSocket URL")
	concurrency := flag.Int("concurrency", 5, "number of concurrent learners")
	duration := flag.Duration("duration", 2*time.Minute, "test duration")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HS256 secret used to mint learner tokens")
	learnerBase := flag.Int64("learner-base", 1000, "first learner id; each worker uses base+index")
	mood := flag.String("mood", "calm", "lesson mood")
	theme := flag.String("theme", "a morning at the market", "lesson theme")
	flag.Parse()

	signer, err := auth.NewVerifier(*secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token signer: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Load test: %d concurrent sessions for %s\n", *concurrency, *duration)
	fmt.Printf("Gateway: %s | Mood: %s | Theme: %s\n\n", *gateway, *mood, *theme)

	var mu sync.Mutex
	var results []sessionResult
	var wg sync.WaitGroup

	deadline := time.Now().Add(*duration)

	for i := range *concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			learner := *learnerBase + int64(i)
			for time.Now().Before(deadline) {
				r := runSession(*gateway, signer, learner, *mood, *theme)
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	printSummary(results)
}

type sessionResult struct {
	success   bool
	scriptMs  float64
	audioMs   float64
	saveMs    float64
	totalMs   float64
	sentences int
	err       string
}

// runSession drives one lesson over the progress channel and times the gap
// between consecutive status updates.
func runSession(gateway string, signer *auth.Verifier, learner int64, mood, theme string) sessionResult {
	token, err := signer.Sign(learner, 10*time.Minute)
	if err != nil {
		return sessionResult{err: fmt.Sprintf("sign: %v", err)}
	}

	conn, _, err := websocket.DefaultDialer.Dial(gateway, nil)
	if err != nil {
		return sessionResult{err: fmt.Sprintf("dial: %v", err)}
	}
	defer conn.Close()

	if err = send(conn, "auth", map[string]string{"token": token}); err != nil {
		return sessionResult{err: fmt.Sprintf("send auth: %v", err)}
	}
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	first, err := readEnvelope(conn)
	if err != nil {
		return sessionResult{err: fmt.Sprintf("read auth: %v", err)}
	}
	if first.Type != "auth_success" {
		return sessionResult{err: fmt.Sprintf("auth rejected: %s", first.Payload)}
	}

	start := time.Now()
	if err = send(conn, "generate_audio", map[string]string{"mood": mood, "theme": theme}); err != nil {
		return sessionResult{err: fmt.Sprintf("send request: %v", err)}
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
	marks := map[string]time.Time{}
	for {
		env, err := readEnvelope(conn)
		if err != nil {
			return sessionResult{err: fmt.Sprintf("read: %v", err)}
		}
		switch env.Type {
		case "status_update":
			var st statusPayload
			if json.Unmarshal(env.Payload, &st) == nil {
				marks[st.StepCode] = time.Now()
			}
		case "generation_complete":
			var done completePayload
			json.Unmarshal(env.Payload, &done)
			end := time.Now()
			return sessionResult{
				success:   true,
				scriptMs:  msBetween(marks["script_generation"], marks["audio_generation"]),
				audioMs:   msBetween(marks["audio_generation"], marks["saving"]),
				saveMs:    msBetween(marks["saving"], end),
				totalMs:   float64(end.Sub(start).Milliseconds()),
				sentences: len(done.Sentences),
			}
		case "error":
			return sessionResult{err: fmt.Sprintf("server error: %s", env.Payload)}
		}
	}
}

func send(conn *websocket.Conn, typ string, payload any) error {
	data, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func readEnvelope(conn *websocket.Conn) (envelope, error) {
	var env envelope
	_, data, err := conn.ReadMessage()
	if err != nil {
		return env, err
	}
	err = json.Unmarshal(data, &env)
	return env, err
}

func msBetween(from, to time.Time) float64 {
	if from.IsZero() || to.IsZero() {
		return 0
	}
	return float64(to.Sub(from).Milliseconds())
}

func printSummary(results []sessionResult) {
	var succeeded, failed int
	var scriptAll, audioAll, saveAll, e2eAll []float64
	errCounts := map[string]int{}

	for _, r := range results {
		if !r.success {
			failed++
			errCounts[r.err]++
			continue
		}
		succeeded++
		scriptAll = append(scriptAll, r.scriptMs)
		audioAll = append(audioAll, r.audioMs)
		saveAll = append(saveAll, r.saveMs)
		e2eAll = append(e2eAll, r.totalMs)
	}

	fmt.Printf("\n=== Load Test Results ===\n")
	fmt.Printf("Sessions completed: %d\n", succeeded)
	fmt.Printf("Sessions failed:    %d\n", failed)
	for msg, n := range errCounts {
		fmt.Printf("  %4d x %s\n", n, msg)
	}

	if len(e2eAll) == 0 {
		fmt.Println("No successful sessions to report metrics")
		return
	}

	fmt.Printf("\n%-7s %9s %9s %9s\n", "Stage", "p50", "p95", "p99")
	fmt.Printf("%-7s %7.0fms %7.0fms %7.0fms\n", "Script", percentile(scriptAll, 50), percentile(scriptAll, 95), percentile(scriptAll, 99))
	fmt.Printf("%-7s %7.0fms %7.0fms %7.0fms\n", "Audio", percentile(audioAll, 50), percentile(audioAll, 95), percentile(audioAll, 99))
	fmt.Printf("%-7s %7.0fms %7.0fms %7.0fms\n", "Save", percentile(saveAll, 50), percentile(saveAll, 95), percentile(saveAll, 99))
	fmt.Printf("%-7s %7.0fms %7.0fms %7.0fms\n", "E2E", percentile(e2eAll, 50), percentile(e2eAll, 95), percentile(e2eAll, 99))
}

func percentile(data []float64, pct float64) float64 {
	sort.Float64s(data)
	idx := int(math.Ceil(pct/100*float64(len(data)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(data) {
		idx = len(data) - 1
	}
	return data[idx]
}
