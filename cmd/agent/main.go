package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/punchamoorthee/paygate/internal/agent"
	"github.com/punchamoorthee/paygate/internal/config"
)

// Flags
var (
	targetURL         string
	verifyURL         string
	spendCap          string
	maxSingleFraction float64
	cooldown          time.Duration
	maxRetries        int
	timeout           time.Duration
	settleDelay       time.Duration
	concurrency       int
	policyFile        string
	outFile           string
)

// Outcomes across workers
var (
	succeeded   uint64
	denied      uint64
	submitFails uint64
	transport   uint64
	otherFails  uint64
)

func init() {
	def := agent.DefaultPolicy()
	flag.StringVar(&targetURL, "url", "http://localhost:8080/api/premium", "Protected resource URL")
	flag.StringVar(&verifyURL, "verify-url", "", "Verification endpoint (default: <origin>/verify)")
	flag.StringVar(&spendCap, "cap", def.SpendCap.String(), "Total spend cap in the smallest unit")
	flag.Float64Var(&maxSingleFraction, "max-single-fraction", def.MaxSingleFraction, "Largest single payment as a fraction of the cap")
	flag.DurationVar(&cooldown, "cooldown", def.Cooldown, "Minimum time between payments")
	flag.IntVar(&maxRetries, "max-retries", def.MaxRetries, "Transport retries and failure threshold per target")
	flag.DurationVar(&timeout, "timeout", def.RequestTimeout, "Per-request timeout")
	flag.DurationVar(&settleDelay, "settle-delay", def.SettleDelay, "Simulated confirmation wait before verifying")
	flag.IntVar(&concurrency, "workers", 1, "Concurrent callers sharing one agent")
	flag.StringVar(&policyFile, "policy", "", "YAML policy file; explicit flags override it")
	flag.StringVar(&outFile, "out", "", "Also write the report to this file")
}

func main() {
	flag.Parse()
	_ = godotenv.Load()

	logger := config.NewLogger(os.Stderr, os.Getenv("LOG_FORMAT"), os.Getenv("ENVIRONMENT"))

	policy, err := buildPolicy()
	if err != nil {
		log.Fatal(err)
	}

	var opts []agent.Option
	opts = append(opts, agent.WithLogger(logger))
	if verifyURL != "" {
		opts = append(opts, agent.WithVerifyURL(verifyURL))
	}
	a, err := agent.New(policy, opts...)
	if err != nil {
		log.Fatalf("Invalid policy: %v", err)
	}

	log.Printf("--- Starting agent | Target: %s | Workers: %d ---", targetURL, concurrency)

	ctx := context.Background()
	start := time.Now()
	results := make([]interface{}, concurrency)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(ctx, &wg, a, i, results)
	}
	wg.Wait()

	printResults(a, results, time.Since(start))
}

// buildPolicy layers the policy file, then any flag set explicitly.
func buildPolicy() (agent.Policy, error) {
	p := agent.DefaultPolicy()
	if policyFile != "" {
		var err error
		if p, err = agent.LoadPolicy(policyFile); err != nil {
			return p, err
		}
	}

	var capErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cap":
			n, ok := new(big.Int).SetString(spendCap, 10)
			if !ok {
				capErr = fmt.Errorf("invalid -cap %q", spendCap)
				return
			}
			p.SpendCap = n
		case "max-single-fraction":
			p.MaxSingleFraction = maxSingleFraction
		case "cooldown":
			p.Cooldown = cooldown
		case "max-retries":
			p.MaxRetries = maxRetries
		case "timeout":
			p.RequestTimeout = timeout
		case "settle-delay":
			p.SettleDelay = settleDelay
		}
	})
	return p, capErr
}

func worker(ctx context.Context, wg *sync.WaitGroup, a *agent.Agent, id int, results []interface{}) {
	defer wg.Done()

	res, err := a.CallAPI(ctx, targetURL, "")
	if err == nil {
		atomic.AddUint64(&succeeded, 1)
		results[id] = res.Body
		return
	}

	results[id] = map[string]string{"error": err.Error()}
	switch {
	case errors.Is(err, agent.ErrBudgetDenied):
		atomic.AddUint64(&denied, 1)
	case errors.Is(err, agent.ErrPaymentSubmission):
		atomic.AddUint64(&submitFails, 1)
	case errors.Is(err, agent.ErrTransport):
		atomic.AddUint64(&transport, 1)
	default:
		atomic.AddUint64(&otherFails, 1)
	}
}

func printResults(a *agent.Agent, results []interface{}, d time.Duration) {
	report := map[string]interface{}{
		"target":        targetURL,
		"workers":       concurrency,
		"duration_sec":  d.Seconds(),
		"succeeded":     atomic.LoadUint64(&succeeded),
		"denied":        atomic.LoadUint64(&denied),
		"submit_failed": atomic.LoadUint64(&submitFails),
		"transport":     atomic.LoadUint64(&transport),
		"other_errors":  atomic.LoadUint64(&otherFails),
		"results":       results,
		"stats":         a.SpendingStats(),
		"history":       a.History(),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(report)

	if outFile == "" {
		return
	}
	file, err := os.Create(outFile)
	if err != nil {
		log.Printf("Could not write %s: %v", outFile, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(report)
}
