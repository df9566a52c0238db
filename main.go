package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"presensi-backend/internal/attendance"
	"presensi-backend/internal/platform/apidocs"
	"presensi-backend/internal/platform/auth"
	"presensi-backend/internal/platform/cache"
	"presensi-backend/internal/platform/db"
	"presensi-backend/internal/platform/docstore"
	"presensi-backend/internal/platform/requestid"
)

const demoSeedPath = "config/demo_seed.yaml"

func main() {
	// 設定読み込み
	cfg, err := db.LoadConfig("config/config.yaml")
	if err != nil {
		panic(err)
	}

	// 動作モード取得
	mode := cfg.Mode
	log.Printf("[INFO] mode:%s\n", mode)

	if mode != "dev" && mode != "release" && mode != "demo" {
		fmt.Println("Usage: APP_MODE=[dev|release|demo] go run main.go")
		return
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("auth.jwt_secret (or JWT_SECRET) is required")
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal(err)
	}

	// 保存先：demo はメモリ、それ以外は MySQL
	var (
		repo attendance.Repository
		dir  attendance.Directory
		conn *sql.DB
	)
	if mode == "demo" {
		mem, err := demoDirectory(demoSeedPath)
		if err != nil {
			log.Fatal(err)
		}
		repo, dir = attendance.NewMemoryRepository(), mem
		log.Printf("[INFO] demo mode: in-memory store seeded from %s", demoSeedPath)
	} else {
		conn, err = db.Connect(cfg.DB)
		if err != nil {
			panic(err)
		}
		defer conn.Close()
		log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = attendance.Migrate(migrateCtx, conn)
		cancel()
		if err != nil {
			log.Fatal(err)
		}
		repo, dir = attendance.NewMySQLRepository(conn), attendance.NewMySQLDirectory(conn)
	}

	// 統計キャッシュ（redis.addr が空なら無効）
	var statsCache attendance.StatsCache
	rdb, err := cache.Dial(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("[WARN] redis unavailable, stats cache disabled: %v", err)
	} else if rdb != nil {
		defer rdb.Close()
		statsCache = cache.NewRedisStats(rdb, cfg.Redis.TTL)
		log.Printf("[INFO] stats cache: redis %s", cfg.Redis.Addr)
	}

	docs, err := docstore.NewLocalStore(cfg.Documents.Dir, cfg.Documents.MaxBytes)
	if err != nil {
		log.Fatal(err)
	}

	svc := attendance.NewService(repo, dir, attendance.Options{
		Location:        loc,
		DefaultValidFor: cfg.QR.DefaultValidFor,
		MaxValidFor:     cfg.QR.MaxValidFor,
		BulkWorkers:     cfg.Bulk.Workers,
		Cache:           statsCache,
		Documents:       docs,
	})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestid.Middleware(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if mode != "release" {
		// CORS（開発中のみ必要）
		origins := cfg.Server.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		r.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", requestid.Header},
			ExposeHeaders:    []string{"Content-Length", requestid.Header},
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) {
		if conn != nil {
			if err := conn.PingContext(c.Request.Context()); err != nil {
				c.String(http.StatusServiceUnavailable, "db unavailable")
				return
			}
		}
		c.String(http.StatusOK, "ok")
	})
	apidocs.RegisterRoutes(r)

	// /api/v1
	api := r.Group("/api/v1", auth.RequireAuth([]byte(cfg.Auth.JWTSecret)))
	attendance.RegisterRoutes(api, svc)
	docstore.RegisterRoutes(api, docs)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var certFile, keyFile string

	// TLS設定
	if mode == "release" {
		//本番用
		certFile = fmt.Sprintf("config/tls/release/%s", cfg.Certificate.Cert)
		keyFile = fmt.Sprintf("config/tls/release/%s", cfg.Certificate.Key)
	} else {
		//開発用
		certFile = fmt.Sprintf("config/tls/dev/%s", cfg.Certificate.Cert)
		keyFile = fmt.Sprintf("config/tls/dev/%s", cfg.Certificate.Key)
	}

	go func() {
		log.Printf("[INFO] listening on https://0.0.0.0%s", cfg.Server.Addr)
		if err := srv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("[INFO] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
}

// ===== demo seed =====

type demoSeed struct {
	Students []struct {
		ID      string `yaml:"id"`
		NISN    string `yaml:"nisn"`
		Name    string `yaml:"name"`
		ClassID string `yaml:"class_id"`
	} `yaml:"students"`
	Schedules []struct {
		ID        string `yaml:"id"`
		ClassID   string `yaml:"class_id"`
		Subject   string `yaml:"subject"`
		TeacherID string `yaml:"teacher_id"`
		Day       int    `yaml:"day_of_week"` // 0=日曜
		Start     string `yaml:"start_time"`
		End       string `yaml:"end_time"`
	} `yaml:"schedules"`
	Holidays []string `yaml:"holidays"`
}

func demoDirectory(path string) (*attendance.MemoryDirectory, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("demo seed の読み込み失敗: %w", err)
	}
	var seed demoSeed
	if err := yaml.Unmarshal(buf, &seed); err != nil {
		return nil, fmt.Errorf("demo seed のパース失敗: %w", err)
	}
	d := attendance.NewMemoryDirectory()
	for _, s := range seed.Students {
		d.AddStudent(attendance.Student{ID: s.ID, NISN: s.NISN, Name: s.Name, ClassID: s.ClassID})
	}
	for _, s := range seed.Schedules {
		d.AddSchedule(attendance.ScheduleSlot{
			ID:        s.ID,
			ClassID:   s.ClassID,
			Subject:   s.Subject,
			TeacherID: s.TeacherID,
			DayOfWeek: time.Weekday(s.Day),
			StartTime: s.Start,
			EndTime:   s.End,
		})
	}
	for _, h := range seed.Holidays {
		d.AddHoliday(h)
	}
	return d, nil
}
