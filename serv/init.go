package serv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edmongo/edmongo/core"
	"github.com/edmongo/edmongo/plugin/otel"
)

// initConfig initializes the configuration
func (s *service) initConfig() error {
	c := s.conf

	if c.ConfigPath == "" {
		cp, err := s.basePath()
		if err != nil {
			return err
		}
		c.ConfigPath = cp
	}
	c.ResolvePaths()

	hp := strings.SplitN(c.HostPort, ":", 2)

	if len(hp) == 2 {
		if c.Host != "" {
			hp[0] = c.Host
		}

		if c.Port != "" {
			hp[1] = c.Port
		}

		c.hostPort = fmt.Sprintf("%s:%s", hp[0], hp[1])
	}

	if c.hostPort == "" {
		c.hostPort = defaultHP
	}

	if c.Mongo.URI != "" && c.Mongo.Database == "" {
		return fmt.Errorf("mongo.database is required when mongo.uri is set")
	}
	return nil
}

// initEngine compiles the configured mappings
func (s *service) initEngine() error {
	opts := []core.Option{
		core.OptionSetLogger(s.zlog),
		core.OptionSetFS(s.fs),
	}
	if s.conf.EnableTracing {
		opts = append(opts, core.OptionSetTrace(otel.NewTracer()))
	}

	eng, err := core.NewEngine(&s.conf.Core, opts...)
	if err != nil {
		return err
	}
	s.eng = eng

	s.log.Infof("loaded %d entities: %s",
		len(eng.Entities()), strings.Join(eng.Entities(), ", "))
	return nil
}

// basePath returns the base path
func (s *service) basePath() (string, error) {
	if s.conf.ConfigPath == "" {
		if cp, err := os.Getwd(); err == nil {
			return filepath.Join(cp, "config"), nil
		} else {
			return "", err
		}
	}
	return s.conf.ConfigPath, nil
}
