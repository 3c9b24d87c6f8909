// Package serv exposes the path resolution engine over HTTP.
package serv

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/edmongo/edmongo/core"
	"github.com/edmongo/edmongo/serv/internal/util"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version string

const (
	serverName = "edmongo"
	defaultHP  = "0.0.0.0:8080"
)

type service struct {
	conf  *Config
	log   *zap.SugaredLogger
	zlog  *zap.Logger
	level zap.AtomicLevel
	fs    afero.Fs
	eng   *core.Engine
	store Store
	srv   *http.Server
}

// HttpService is the edmongo HTTP service
type HttpService struct {
	atomic.Value
}

type Option func(*service) error

// OptionSetLogger sets the logger used by the service and the engine
func OptionSetLogger(log *zap.Logger) Option {
	return func(s *service) error {
		s.zlog = log
		s.log = log.Sugar()
		return nil
	}
}

// OptionSetFS sets the filesystem mapping files are read from
func OptionSetFS(fs afero.Fs) Option {
	return func(s *service) error {
		s.fs = fs
		return nil
	}
}

// OptionSetStore sets the database used by the explain API
func OptionSetStore(st Store) Option {
	return func(s *service) error {
		s.store = st
		return nil
	}
}

// NewHttpService creates a new HTTP service
func NewHttpService(conf *Config, options ...Option) (*HttpService, error) {
	s := &HttpService{}

	s1, err := newService(conf, options...)
	if err != nil {
		return nil, err
	}
	s.Store(s1)
	return s, nil
}

func newService(conf *Config, options ...Option) (*service, error) {
	s := &service{conf: conf, level: util.ParseLevel(conf.LogLevel)}

	for _, op := range options {
		if err := op(s); err != nil {
			return nil, err
		}
	}

	if s.zlog == nil {
		s.zlog = util.NewLoggerWithLevel(conf.ShouldUseJSONLogs(), s.level)
		s.log = s.zlog.Sugar()
	}

	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}

	if err := s.initConfig(); err != nil {
		return nil, err
	}

	if err := s.initEngine(); err != nil {
		return nil, err
	}

	if err := s.initStore(); err != nil {
		s.eng.Close()
		return nil, err
	}

	return s, nil
}

// Start the HTTP service
func (s1 *HttpService) Start() error {
	startHTTP(s1)
	return nil
}

// Attach route to the internal http service
func (s1 *HttpService) Attach(mux Mux) error {
	_, err := routesHandler(s1, mux)
	return err
}

// Engine returns the path resolution engine
func (s1 *HttpService) Engine() *core.Engine {
	s := s1.Load().(*service)
	return s.eng
}

// Close stops the engine and disconnects from the database
func (s1 *HttpService) Close() {
	s := s1.Load().(*service)
	s.close()
}

func (s *service) close() {
	s.eng.Close()
	if s.store != nil {
		if err := s.store.Close(context.Background()); err != nil {
			s.log.Warnf("closing database connection: %s", err)
		}
	}
}

// Start the HTTP server
func startHTTP(s1 *HttpService) {
	s := s1.Load().(*service)

	r := chi.NewRouter()
	routes, err := routesHandler(s1, r)
	if err != nil {
		s.log.Fatalf("error setting up routes: %s", err)
	}

	s.srv = &http.Server{
		Addr:              s.conf.hostPort,
		Handler:           routes,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		if err := s.srv.Shutdown(context.Background()); err != nil {
			s.log.Warn("shutdown signal received")
		}
		close(idleConnsClosed)
	}()

	s.srv.RegisterOnShutdown(func() {
		s.close()
		s.log.Info("shutdown complete")
	})

	ver := version
	if ver == "" {
		ver = "not-set"
	}

	fields := []zapcore.Field{
		zap.String("version", ver),
		zap.String("host-port", s.conf.hostPort),
		zap.String("app-name", s.conf.AppName),
		zap.String("env", os.Getenv("GO_ENV")),
		zap.Bool("production", s.conf.Production),
		zap.Bool("explain", s.store != nil),
		zap.Int("entities", len(s.eng.Entities())),
	}

	s.zlog.Info("edmongo started", fields...)
	printDevModeInfo(s)

	l, err := net.Listen("tcp", s.conf.hostPort)
	if err != nil {
		s.log.Fatalf("failed to init port: %s", err)
	}

	if err := s.srv.Serve(l); err != http.ErrServerClosed {
		s.log.Fatalf("failed to start: %s", err)
	}
	<-idleConnsClosed
}

// Set the server header
func setServerHeader(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", serverName)
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// printDevModeInfo prints useful development information on startup
func printDevModeInfo(s *service) {
	if s.conf.Production {
		return
	}

	// Convert 0.0.0.0 to localhost for display
	hostPort := s.conf.hostPort
	displayHost := hostPort
	if strings.HasPrefix(hostPort, "0.0.0.0:") {
		displayHost = "localhost" + hostPort[7:]
	}

	fmt.Println()
	fmt.Println("Development Server URLs")
	fmt.Println("───────────────────────")
	fmt.Printf("  Resolve:     http://%s%s/<entity>?path=<edm-path>\n", displayHost, routeResolve)
	fmt.Printf("  Pipeline:    http://%s%s/<entity>\n", displayHost, routePipeline)
	if s.store != nil {
		fmt.Printf("  Explain:     http://%s%s/<entity>\n", displayHost, routeExplain)
	}
	fmt.Printf("  Classify:    http://%s%s\n", displayHost, routeClassify)
	fmt.Println()
}
