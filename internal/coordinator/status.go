package coordinator

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"yqhp/planfleet/pkg/logger"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// HealthData 健康检查数据
type HealthData struct {
	State  State  `json:"state"`
	Uptime string `json:"uptime"`
}

// PlanData 当前计划概要
type PlanData struct {
	Digest string `json:"digest"`
	Tasks  int    `json:"tasks"`
	Bytes  int    `json:"bytes"`
}

// StatusServer 只读状态接口，不提供任何修改计划的能力
type StatusServer struct {
	app     *fiber.App
	coord   *Coordinator
	log     logger.Logger
	started time.Time
}

// NewStatusServer 创建状态服务
func NewStatusServer(coord *Coordinator, log logger.Logger) *StatusServer {
	if log == nil {
		log = logger.Nop()
	}
	app := fiber.New(fiber.Config{
		AppName:               "planfleet coordinator",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
	})
	s := &StatusServer{app: app, coord: coord, log: log, started: time.Now()}
	app.Use(fiberrecover.New())
	s.setupRoutes()
	return s
}

func (s *StatusServer) setupRoutes() {
	api := s.app.Group("/api/v1")
	api.Get("/health", s.health)
	api.Get("/stats", s.statsHandler)
	api.Get("/plan", s.planHandler)
}

// App 返回底层 fiber 应用
func (s *StatusServer) App() *fiber.App { return s.app }

// health 健康检查
func (s *StatusServer) health(c *fiber.Ctx) error {
	state := s.coord.State()
	data := HealthData{State: state, Uptime: time.Since(s.started).Truncate(time.Second).String()}
	if state != StateRunning {
		return c.Status(fiber.StatusServiceUnavailable).JSON(Response{Code: fiber.StatusServiceUnavailable, Message: "not running", Data: data})
	}
	return c.JSON(Response{Code: 0, Message: "success", Data: data})
}

// statsHandler 流量计数
func (s *StatusServer) statsHandler(c *fiber.Ctx) error {
	return c.JSON(Response{Code: 0, Message: "success", Data: s.coord.Stats()})
}

// planHandler 当前计划摘要与任务数
func (s *StatusServer) planHandler(c *fiber.Ctx) error {
	snap := s.coord.Provider().Current()
	return c.JSON(Response{Code: 0, Message: "success", Data: PlanData{
		Digest: snap.Digest.String(),
		Tasks:  snap.Tasks,
		Bytes:  len(snap.Body),
	}})
}

// Serve 在 ln 上提供服务，直到 Shutdown
func (s *StatusServer) Serve(ln net.Listener) error {
	s.log.Info("status server listening", zap.String("address", ln.Addr().String()))
	err := s.app.Listener(ln)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Start 监听 address 并在后台提供服务
func (s *StatusServer) Start(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	go func() {
		if err := s.Serve(ln); err != nil {
			s.log.Error("status server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown 优雅关闭
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
