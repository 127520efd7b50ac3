package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hitoshi/unimarket/internal/client"
)

// LoadtestConfig は負荷試験の設定。
type LoadtestConfig struct {
	BaseURL   string
	Email     string
	Password  string
	Users     int           // 同時に動かすサインイン済みユーザー数
	Anonymous int           // サインインしない閲覧ユーザー数
	Duration  time.Duration // 試験時間
	Think     time.Duration // ユーザーごとのリクエスト間隔

	// テスト用にオーバーライド可能
	HTTPClient *http.Client
}

// LoadtestConfigFromEnv は環境変数から負荷試験の設定を読み込む。
// LOADTEST_EMAILとLOADTEST_PASSWORDは必須。
func LoadtestConfigFromEnv() (LoadtestConfig, error) {
	cfg := LoadtestConfig{
		BaseURL:   os.Getenv("BASE_URL"),
		Email:     os.Getenv("LOADTEST_EMAIL"),
		Password:  os.Getenv("LOADTEST_PASSWORD"),
		Users:     envInt("LOADTEST_USERS", 5),
		Anonymous: envInt("LOADTEST_ANONYMOUS", 2),
		Duration:  envDuration("LOADTEST_DURATION", 30*time.Second),
		Think:     envDuration("LOADTEST_THINK", 2*time.Second),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	var missing []string
	if cfg.Email == "" {
		missing = append(missing, "LOADTEST_EMAIL")
	}
	if cfg.Password == "" {
		missing = append(missing, "LOADTEST_PASSWORD")
	}
	if len(missing) > 0 {
		return LoadtestConfig{}, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	if cfg.Users < 0 || cfg.Anonymous < 0 || cfg.Users+cfg.Anonymous == 0 {
		return LoadtestConfig{}, errors.New("loadtest needs at least one user")
	}
	if cfg.Duration <= 0 || cfg.Think <= 0 {
		return LoadtestConfig{}, errors.New("LOADTEST_DURATION and LOADTEST_THINK must be positive")
	}
	return cfg, nil
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}

// task は重み付きの1操作。
type task struct {
	name   string
	weight int
	run    func(ctx context.Context, c *client.Client) error
}

var signedInTasks = []task{
	{"featured", 5, func(ctx context.Context, c *client.Client) error { _, err := c.Featured(ctx); return err }},
	{"search", 4, func(ctx context.Context, c *client.Client) error { _, err := c.Search(ctx, "book"); return err }},
	{"profile", 3, func(ctx context.Context, c *client.Client) error { _, err := c.Profile(ctx); return err }},
	{"cart_count", 3, func(ctx context.Context, c *client.Client) error { _, err := c.CartCount(ctx); return err }},
	{"cart", 2, func(ctx context.Context, c *client.Client) error { _, err := c.Cart(ctx); return err }},
	{"my_listings", 1, func(ctx context.Context, c *client.Client) error { _, err := c.MyListings(ctx); return err }},
	{"purchases", 1, func(ctx context.Context, c *client.Client) error { _, err := c.Purchases(ctx); return err }},
}

var anonymousTasks = []task{
	{"featured", 5, func(ctx context.Context, c *client.Client) error { _, err := c.Featured(ctx); return err }},
	{"search", 4, func(ctx context.Context, c *client.Client) error { _, err := c.Search(ctx, "textbook"); return err }},
}

func pick(tasks []task, r *rand.Rand) task {
	total := 0
	for _, t := range tasks {
		total += t.weight
	}
	n := r.IntN(total)
	for _, t := range tasks {
		if n < t.weight {
			return t
		}
		n -= t.weight
	}
	return tasks[len(tasks)-1]
}

// opStats は操作ごとの集計。
type opStats struct {
	Requests int
	Failures int
	Total    time.Duration
	Max      time.Duration
}

// LoadtestReport は負荷試験の結果。
type LoadtestReport struct {
	mu       sync.Mutex
	Ops      map[string]*opStats
	Elapsed  time.Duration
	SignInOK int
}

func newLoadtestReport() *LoadtestReport {
	return &LoadtestReport{Ops: map[string]*opStats{}}
}

func (r *LoadtestReport) record(name string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.Ops[name]
	if !ok {
		s = &opStats{}
		r.Ops[name] = s
	}
	s.Requests++
	s.Total += d
	if d > s.Max {
		s.Max = d
	}
	if err != nil {
		s.Failures++
	}
}

func (r *LoadtestReport) signedIn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SignInOK++
}

// Failures は失敗したリクエストの合計を返す。
func (r *LoadtestReport) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.Ops {
		n += s.Failures
	}
	return n
}

// Log は操作ごとの集計をログに出力する。
func (r *LoadtestReport) Log(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.Ops))
	for name := range r.Ops {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := r.Ops[name]
		var avg time.Duration
		if s.Requests > 0 {
			avg = s.Total / time.Duration(s.Requests)
		}
		logger.Info("loadtest operation",
			slog.String("op", name),
			slog.Int("requests", s.Requests),
			slog.Int("failures", s.Failures),
			slog.Int64("avg_ms", avg.Milliseconds()),
			slog.Int64("max_ms", s.Max.Milliseconds()),
		)
	}
	logger.Info("loadtest completed",
		slog.Int64("elapsed_ms", r.Elapsed.Milliseconds()),
		slog.Int("signed_in_users", r.SignInOK),
	)
}

// runLoadtest はクライアントSDKで仮想ユーザーを動かし、結果を集計する。
// サインイン済みユーザーはセッション失効時に再サインインする。
func runLoadtest(ctx context.Context, cfg LoadtestConfig) (*LoadtestReport, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	report := newLoadtestReport()
	start := time.Now()

	eg, ctx := errgroup.WithContext(ctx)

	for i := 0; i < cfg.Users; i++ {
		c, err := newLoadtestClient(cfg)
		if err != nil {
			return nil, err
		}
		eg.Go(func() error {
			if !signInUser(ctx, c, cfg, report) {
				return nil
			}
			report.signedIn()
			return drive(ctx, c, cfg, signedInTasks, report, true)
		})
	}
	for i := 0; i < cfg.Anonymous; i++ {
		c, err := newLoadtestClient(cfg)
		if err != nil {
			return nil, err
		}
		eg.Go(func() error {
			return drive(ctx, c, cfg, anonymousTasks, report, false)
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	report.Elapsed = time.Since(start)

	if cfg.Users > 0 && report.SignInOK == 0 {
		return report, errors.New("loadtest: no user could sign in")
	}
	return report, nil
}

func newLoadtestClient(cfg LoadtestConfig) (*client.Client, error) {
	c, err := client.New(client.Config{BaseURL: cfg.BaseURL, HTTPClient: cfg.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

func signInUser(ctx context.Context, c *client.Client, cfg LoadtestConfig, report *LoadtestReport) bool {
	begin := time.Now()
	_, err := c.SignIn(ctx, cfg.Email, cfg.Password)
	if ctx.Err() != nil {
		return false
	}
	report.record("signin", time.Since(begin), err)
	if err != nil {
		slog.Warn("loadtest sign in failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// drive はctxが終了するまで重み付きで操作を繰り返す。
func drive(ctx context.Context, c *client.Client, cfg LoadtestConfig, tasks []task, report *LoadtestReport, authed bool) error {
	lim := rate.NewLimiter(rate.Every(cfg.Think), 1)
	r := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	for {
		if err := lim.Wait(ctx); err != nil {
			// 試験時間の終了
			return nil
		}
		t := pick(tasks, r)
		begin := time.Now()
		err := t.run(ctx, c)
		if ctx.Err() != nil {
			return nil
		}
		report.record(t.name, time.Since(begin), err)

		if authed && (errors.Is(err, client.ErrSessionExpired) || errors.Is(err, client.ErrNoSession)) {
			c.Lifecycle().Acknowledge()
			if !signInUser(ctx, c, cfg, report) {
				return nil
			}
		}
	}
}
